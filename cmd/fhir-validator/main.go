// Command fhir-validator validates FHIR R4 JSON resources, either as an HTTP
// service or from files on the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/PraveenKS30/hl7-fhir-validator/config"
	"github.com/PraveenKS30/hl7-fhir-validator/engine"
	"github.com/PraveenKS30/hl7-fhir-validator/pkg/logger"
	"github.com/PraveenKS30/hl7-fhir-validator/registry"
	"github.com/urfave/cli/v3"
)

const name = "fhir-validator"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     "FHIR R4 resource validator",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("FHIR_VALIDATOR_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides the config file",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			validateCmd(),
			versionCmd(),
		},
	}
}

// loadConfig reads the config named by the global flags and installs the
// default logger.
func loadConfig(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	log := logger.SetDefault(logger.Options{
		Module:  name,
		Version: version,
		Level:   cfg.Log.Level,
		Format:  logger.Format(cfg.Log.Format),
		Output:  cmd.Root().ErrWriter,
	})
	return cfg, log, nil
}

// supportConfig returns the definition sources of cfg, with the configured
// packages fetched from the registry. Packages that cannot be fetched are
// logged and left out; the embedded core still applies.
func supportConfig(ctx context.Context, cfg *config.Config, log *slog.Logger) engine.SupportConfig {
	sc := cfg.SupportConfig()
	refs := cfg.PackageRefs()
	if len(refs) == 0 {
		return sc
	}

	client := cfg.RegistryClient()
	pkgs, err := registry.Resolve(ctx, client, refs)
	if err != nil {
		log.Warn("packages unavailable, continuing without them",
			"cacheDir", client.CacheDir(),
			"error", err)
	}
	for _, p := range pkgs {
		log.Debug("package resolved", "package", p.Ref.String(), "dir", p.Dir)
		sc.Packages = append(sc.Packages, p.Dir)
	}
	return sc
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(cmd.Root().Writer, "%s %s (commit %s, built %s)\n", name, version, commit, date)
			return err
		},
	}
}
