package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/engine"
	"github.com/urfave/cli/v3"
)

// fileReport is the output of the validate command for one input.
type fileReport struct {
	File    string               `json:"file"`
	Valid   bool                 `json:"valid"`
	Outcome *fv.OperationOutcome `json:"outcome"`
}

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate resources from files",
		ArgsUsage: "<file>... (- reads stdin)",
		Description: `Validate one or more JSON resources and print one OperationOutcome per
input, as a JSON array.

The command fails when any input is not a resource or does not validate.

Examples:
  fhir-validator validate patient.json observation.json
  fhir-validator validate --profiles ./ig --strict patient.json
  cat patient.json | fhir-validator validate -`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "profiles",
				Usage: "Additional profile directories, on top of the config file",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Report warnings as errors",
			},
			&cli.IntFlag{
				Name:  "workers",
				Value: 4,
				Usage: "Number of resources validated concurrently",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			files := cmd.Args().Slice()
			if len(files) == 0 {
				return errors.New("no input files")
			}

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Validation.ProfileDirs = append(cfg.Validation.ProfileDirs, cmd.StringSlice("profiles")...)
			if cmd.IsSet("strict") {
				cfg.Validation.StrictMode = cmd.Bool("strict")
			}

			support, err := engine.BuildSupport(ctx, supportConfig(ctx, cfg, log))
			if err != nil {
				return fmt.Errorf("failed to load definitions: %w", err)
			}
			v, err := engine.New(cfg.Version(), support, cfg.EngineOptions()...)
			if err != nil {
				return fmt.Errorf("failed to create validator: %w", err)
			}

			reports := make([]fileReport, len(files))
			var (
				resources []*fv.Resource
				indexes   []int
			)
			for i, file := range files {
				reports[i].File = file

				data, err := readInput(cmd.Root().Reader, file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				res, err := fv.ParseResource(data)
				if err != nil {
					log.Debug("not a resource", "file", file, "error", err)
					reports[i].Outcome = fv.NewParseErrorOutcome(err)
					continue
				}
				resources = append(resources, res)
				indexes = append(indexes, i)
			}

			results, err := v.ValidateBatch(ctx, resources, int(cmd.Int("workers")))
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			for j, result := range results {
				i := indexes[j]
				reports[i].Valid = result.Valid
				reports[i].Outcome = fv.NewOperationOutcome(result)
			}

			enc := json.NewEncoder(cmd.Root().Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				return fmt.Errorf("failed to write results: %w", err)
			}

			invalid := 0
			for _, r := range reports {
				if !r.Valid {
					invalid++
				}
			}
			log.Info("validation completed", "files", len(files), "invalid", invalid)
			if invalid > 0 {
				return fmt.Errorf("%d of %d resources are invalid", invalid, len(files))
			}
			return nil
		},
	}
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}
