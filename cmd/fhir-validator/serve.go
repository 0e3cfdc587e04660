package main

import (
	"context"
	"fmt"
	"time"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/engine"
	"github.com/PraveenKS30/hl7-fhir-validator/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve POST /fhir/validate",
		Description: `Start the validation service.

Definitions are loaded once at startup: the embedded core, then the
configured packages, then the profile and terminology directories. Packages
are fetched from the registry into the package cache on first use; one that
cannot be fetched is skipped with a warning. Requests that arrive while
loading is in progress are refused by the listener; /ready turns healthy
once the server accepts connections.

Examples:
  fhir-validator serve --port 9090
  PORT=9090 FHIR_VALIDATOR_PROFILES=/opt/ig fhir-validator serve
  FHIR_VALIDATOR_PACKAGES=hl7.fhir.r4.core#4.0.1 fhir-validator serve`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "Listen address; overrides the config file",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port; overrides the config file and PORT",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.IsSet("address") {
				cfg.Server.Address = cmd.String("address")
			}
			if cmd.IsSet("port") {
				cfg.Server.Port = int(cmd.Int("port"))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			metrics := fv.NewMetrics(prometheus.DefaultRegisterer)

			start := time.Now()
			sc := supportConfig(ctx, cfg, log)
			sc.Observer = metrics
			support, err := engine.BuildSupport(ctx, sc)
			if err != nil {
				return fmt.Errorf("failed to load definitions: %w", err)
			}
			log.Info("definitions loaded",
				"fhirVersion", cfg.Version(),
				"packages", len(sc.Packages),
				"profiles", support.Stats.Profiles,
				"differentials", support.Stats.Differentials,
				"valueSets", support.Stats.ValueSets,
				"codeSystems", support.Stats.CodeSystems,
				"duration", time.Since(start))

			v, err := engine.New(cfg.Version(), support, append(cfg.EngineOptions(), fv.WithMetrics(metrics))...)
			if err != nil {
				return fmt.Errorf("failed to create validator: %w", err)
			}

			srv := server.New(cfg.Server, v,
				server.WithLogger(log),
				server.WithVersion(version),
			)
			return srv.Run(ctx)
		},
	}
}
