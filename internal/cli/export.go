package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tobert/cruxview/internal/export"
)

// ExportCommand returns the CLI command definition for the 'export' subcommand.
func ExportCommand() *cli.Command {
	flags := append(apiFlags(), batchFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:  "out",
			Usage: "Append OTLP metrics as JSONL to this file (- for stdout)",
		},
		&cli.StringFlag{
			Name:  "otlp-endpoint",
			Usage: "Push to an OTLP/gRPC collector at host:port",
		},
		&cli.DurationFlag{
			Name:  "otlp-timeout",
			Usage: "Timeout for the collector push",
			Value: 10 * time.Second,
		},
		&cli.StringFlag{
			Name:  "service-name",
			Usage: "service.name resource attribute",
			Value: "cruxview",
		},
	)

	return &cli.Command{
		Name:      "export",
		Usage:     "Convert CrUX rows into OTLP metrics",
		ArgsUsage: "[origin ...]",
		Description: `Takes the same inputs and view flags as query and emits the filtered rows
as OTLP gauges: crux.<metric>.p75_pct with one point per origin, and
crux.<metric>.bucket with the histogram bucket shares. Output goes to a
JSONL file in the collector file exporter layout, to an OTLP/gRPC
collector, or both.`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runExport(ctx, cmd, cfg)
		},
	}
}

func runExport(ctx context.Context, cmd *cli.Command, cfg *Config) error {
	out, endpoint := cmd.String("out"), cmd.String("otlp-endpoint")
	if out == "" && endpoint == "" {
		return errors.New("nothing to do: set --out, --otlp-endpoint, or both")
	}

	snap, _, err := loadSnapshot(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	req := export.Build(snap.Views.Rows, export.Options{
		ServiceName: cmd.String("service-name"),
		FormFactor:  cfg.FormFactor,
		BatchID:     snap.BatchID,
		Time:        snap.CreatedAt,
	})
	points := export.PointCount(req)

	if out != "" {
		if err := writeExport(cmd, out, req); err != nil {
			return err
		}
		if out != "-" {
			log.Printf("💾 Wrote %d data points to %s\n", points, out)
		}
	}

	if endpoint != "" {
		pusher, err := export.Dial(endpoint, cmd.Duration("otlp-timeout"))
		if err != nil {
			return err
		}
		defer pusher.Close()

		if err := pusher.Push(ctx, req); err != nil {
			return fmt.Errorf("push to %s: %w", endpoint, err)
		}
		log.Printf("📤 Pushed %d data points to %s\n", points, endpoint)
	}

	return nil
}

func writeExport(cmd *cli.Command, path string, req *export.Request) error {
	if path == "-" {
		return export.WriteJSONL(stdout(cmd), req)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := export.WriteJSONL(f, req); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
