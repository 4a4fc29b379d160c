package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tobert/cruxview/internal/batchfile"
	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/report"
	"github.com/tobert/cruxview/internal/session"
	"github.com/tobert/cruxview/internal/viz"
)

// batchFlags select where a batch comes from and how its views are shaped.
func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "origins-file",
			Usage: "YAML file listing origins and an optional filter/sort preset",
		},
		&cli.StringFlag{
			Name:  "from",
			Usage: "Load a saved JSONL batch instead of querying the API",
		},
		&cli.StringSliceFlag{
			Name:  "origin",
			Usage: "Only show this origin; repeat for several",
		},
		&cli.StringSliceFlag{
			Name:  "metric",
			Usage: "Only show this metric; repeat for several",
		},
		&cli.FloatFlag{
			Name:  "threshold",
			Usage: "Hide rows whose value is below this (0-100 scale)",
		},
		&cli.StringFlag{
			Name:  "sort",
			Usage: "Sort rows by origin, metric or value",
		},
		&cli.BoolFlag{
			Name:  "desc",
			Usage: "Sort descending",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Give up on the whole batch after this long",
			Value: 60 * time.Second,
		},
	}
}

// QueryCommand returns the CLI command definition for the 'query' subcommand.
func QueryCommand() *cli.Command {
	flags := append(apiFlags(), batchFlags()...)
	flags = append(flags, &cli.StringFlag{
		Name:  "save",
		Usage: "Write the raw batch to this JSONL file for later --from or batch_file load",
	})

	return &cli.Command{
		Name:      "query",
		Usage:     "Fetch CrUX records and print the row and summary tables",
		ArgsUsage: "[origin ...]",
		Description: `Queries every origin given as an argument or in --origins-file, or loads a
batch saved earlier with --save, then prints the filtered rows and the
per-metric summary. Values are p75 x 100.`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			snap, raw, err := loadSnapshot(ctx, cmd, cfg)
			if err != nil {
				return err
			}

			if path := cmd.String("save"); path != "" {
				if err := batchfile.Write(path, raw); err != nil {
					return err
				}
				log.Printf("💾 Saved %d origins to %s\n", len(raw), path)
			}

			printSnapshot(stdout(cmd), snap)
			return nil
		},
	}
}

// loadSnapshot builds a session from the command's inputs and applies the
// view flags. It returns the snapshot and the raw batch behind it.
func loadSnapshot(ctx context.Context, cmd *cli.Command, cfg *Config) (session.Snapshot, []report.RawResponse, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return session.Snapshot{}, nil, err
	}

	var preset *OriginsFile
	if path := cmd.String("origins-file"); path != "" {
		if preset, err = ParseOriginsFile(path); err != nil {
			return session.Snapshot{}, nil, err
		}
	}

	filter, sort, err := viewState(cmd, cfg, preset)
	if err != nil {
		return session.Snapshot{}, nil, err
	}

	raw, err := gatherRaw(ctx, cmd, cfg, preset)
	if err != nil {
		return session.Snapshot{}, nil, err
	}

	sess, err := session.New(engine, nil)
	if err != nil {
		return session.Snapshot{}, nil, err
	}
	sess.Replace(raw)
	sess.SetFilter(filter)
	snap, err := sess.SetSort(sort)
	if err != nil {
		return session.Snapshot{}, nil, err
	}
	return snap, raw, nil
}

// gatherRaw returns the raw batch from --from, or by querying the API for
// the positional origins plus those of the origins file.
func gatherRaw(ctx context.Context, cmd *cli.Command, cfg *Config, preset *OriginsFile) ([]report.RawResponse, error) {
	if path := cmd.String("from"); path != "" {
		raw, err := batchfile.Read(path)
		if err != nil {
			return nil, err
		}
		if cfg.Verbose {
			log.Printf("📂 Loaded %d origins from %s\n", len(raw), path)
		}
		return raw, nil
	}

	origins := cmd.Args().Slice()
	if preset != nil {
		origins = append(origins, preset.Origins...)
	}
	origins = crux.CleanOrigins(origins)
	if len(origins) == 0 {
		return nil, errors.New("no origins given: pass them as arguments, via --origins-file, or use --from")
	}

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("CrUX API key is required (set GOOGLE_API_KEY, api_key, or --api-key)")
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	if cfg.Verbose {
		log.Printf("🔍 Querying %d origins (%d at a time)\n", len(origins), cfg.Concurrency)
	}
	raw, err := crux.FetchBatch(ctx, fetcher, origins, cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("query aborted: %w", err)
	}
	return raw, nil
}

// viewState layers the configured threshold, the origins file presets and
// the view flags; later layers win.
func viewState(cmd *cli.Command, cfg *Config, preset *OriginsFile) (report.FilterState, report.SortState, error) {
	filter := report.FilterState{Threshold: cfg.Threshold}
	sort := report.DefaultSort()
	if preset != nil {
		filter = preset.Filter.Apply(filter)
		st, err := preset.Sort.State()
		if err != nil {
			return filter, sort, err
		}
		sort = st
	}

	if cmd.IsSet("origin") {
		filter.Origins = report.NewSet(cmd.StringSlice("origin")...)
	}
	if cmd.IsSet("metric") {
		filter.Metrics = report.NewSet(cmd.StringSlice("metric")...)
	}
	if cmd.IsSet("threshold") {
		filter.Threshold = cmd.Float("threshold")
	}
	if cmd.IsSet("sort") {
		key, err := report.ParseSortKey(cmd.String("sort"))
		if err != nil {
			return filter, sort, err
		}
		sort = report.SortState{Key: key, Direction: report.Ascending}
	}
	if cmd.IsSet("desc") {
		sort.Direction = report.Ascending
		if cmd.Bool("desc") {
			sort.Direction = report.Descending
		}
	}
	return filter, sort, nil
}

func printSnapshot(w io.Writer, snap session.Snapshot) {
	var failures []viz.Failure
	for _, r := range snap.Results {
		if !r.OK() {
			failures = append(failures, viz.Failure{Origin: r.Origin, Reason: r.Reason})
		}
	}

	fmt.Fprint(w, viz.RowsTable(snap.Views.Rows))
	if summary := viz.SummaryTable(snap.Views.Summary); summary != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, summary)
	}
	if len(failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, viz.Failures(failures))
	}
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
