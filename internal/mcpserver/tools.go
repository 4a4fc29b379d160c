package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/cruxview/internal/batchfile"
	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/report"
	"github.com/tobert/cruxview/internal/session"
)

// Tool outputs avoid report.Set and report.Status: their JSON forms (sorted
// array, string) differ from what schema inference sees on the Go types.

type OriginStatus struct {
	Origin string `json:"origin" jsonschema:"Requested origin"`
	OK     bool   `json:"ok" jsonschema:"Whether CrUX returned metrics for the origin"`
	Reason string `json:"reason,omitempty" jsonschema:"Why the origin has no data"`
}

type RowOutput struct {
	Origin string  `json:"origin" jsonschema:"Origin URL"`
	Metric string  `json:"metric" jsonschema:"CrUX metric name"`
	Value  float64 `json:"value" jsonschema:"p75 scaled by 100"`
}

type FilterOutput struct {
	Origins   []string `json:"origins" jsonschema:"Selected origins (empty = all)"`
	Metrics   []string `json:"metrics" jsonschema:"Selected metrics (empty = all)"`
	Threshold float64  `json:"threshold" jsonschema:"Minimum value a row must reach"`
}

type SortOutput struct {
	Key       string `json:"key" jsonschema:"origin, metric, or value"`
	Direction string `json:"direction" jsonschema:"asc or desc"`
}

type StateOutput struct {
	BatchID    string       `json:"batch_id,omitempty" jsonschema:"Id of the current batch"`
	Generation uint64       `json:"generation" jsonschema:"Increments on every state change"`
	Origins    int          `json:"origins" jsonschema:"Origins in the batch"`
	Failed     int          `json:"failed" jsonschema:"Origins without data"`
	Rows       int          `json:"rows" jsonschema:"Rows passing the filter"`
	Filter     FilterOutput `json:"filter" jsonschema:"Current filter"`
	Sort       SortOutput   `json:"sort" jsonschema:"Current sort"`
}

func stateOf(snap session.Snapshot) StateOutput {
	failed := 0
	for _, r := range snap.Results {
		if !r.OK() {
			failed++
		}
	}
	return StateOutput{
		BatchID:    snap.BatchID,
		Generation: snap.Generation,
		Origins:    len(snap.Results),
		Failed:     failed,
		Rows:       len(snap.Views.Rows),
		Filter: FilterOutput{
			Origins:   snap.Filter.Origins.Sorted(),
			Metrics:   snap.Filter.Metrics.Sorted(),
			Threshold: snap.Filter.Threshold,
		},
		Sort: SortOutput{Key: string(snap.Sort.Key), Direction: string(snap.Sort.Direction)},
	}
}

// Tool 1: search_origins

type SearchOriginsInput struct {
	Origins        []string `json:"origins" jsonschema:"Origins to query, e.g. https://web.dev"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" jsonschema:"Give up after this many seconds (default 60)"`
}

type SearchOriginsOutput struct {
	State   StateOutput    `json:"state" jsonschema:"Session state after the search"`
	Results []OriginStatus `json:"results" jsonschema:"Per-origin outcome in request order"`
	Metrics []string       `json:"metrics" jsonschema:"Metrics present in the batch"`
}

func (s *Server) handleSearchOrigins(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SearchOriginsInput,
) (*mcp.CallToolResult, SearchOriginsOutput, error) {
	if len(crux.CleanOrigins(input.Origins)) == 0 {
		return nil, SearchOriginsOutput{}, fmt.Errorf("at least one origin is required")
	}

	timeout := 60 * time.Second
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := s.session.Search(ctx, input.Origins)
	if errors.Is(err, session.ErrNoFetcher) {
		return nil, SearchOriginsOutput{}, fmt.Errorf("%w; start the server with an API key or load a batch file", err)
	}
	if err != nil {
		return nil, SearchOriginsOutput{}, err
	}

	results := make([]OriginStatus, len(snap.Results))
	for i, r := range snap.Results {
		results[i] = OriginStatus{Origin: r.Origin, OK: r.OK(), Reason: r.Reason}
	}
	return &mcp.CallToolResult{}, SearchOriginsOutput{
		State:   stateOf(snap),
		Results: results,
		Metrics: snap.Views.Metrics,
	}, nil
}

// Tool 2: list_metrics

type ListMetricsInput struct{}

type ListMetricsOutput struct {
	Metrics  []string `json:"metrics" jsonschema:"Every metric in the batch, first-seen order"`
	Selected []string `json:"selected" jsonschema:"Metrics currently selected (empty = all)"`
}

func (s *Server) handleListMetrics(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListMetricsInput,
) (*mcp.CallToolResult, ListMetricsOutput, error) {
	snap := s.session.Snapshot()
	return &mcp.CallToolResult{}, ListMetricsOutput{
		Metrics:  snap.Views.Metrics,
		Selected: snap.Filter.Metrics.Sorted(),
	}, nil
}

// Tool 3: get_rows

type GetRowsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum rows to return (0 = all)"`
}

type GetRowsOutput struct {
	Rows  []RowOutput `json:"rows" jsonschema:"Rows in the current sort order"`
	Total int         `json:"total" jsonschema:"Rows passing the filter before the limit"`
	Sort  SortOutput  `json:"sort" jsonschema:"Sort used"`
}

func (s *Server) handleGetRows(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetRowsInput,
) (*mcp.CallToolResult, GetRowsOutput, error) {
	snap := s.session.Snapshot()
	rows := snap.Views.Rows
	total := len(rows)
	if input.Limit > 0 && len(rows) > input.Limit {
		rows = rows[:input.Limit]
	}

	out := make([]RowOutput, len(rows))
	for i, r := range rows {
		out[i] = RowOutput{Origin: r.Origin, Metric: r.Metric, Value: r.Value}
	}
	return &mcp.CallToolResult{}, GetRowsOutput{
		Rows:  out,
		Total: total,
		Sort:  SortOutput{Key: string(snap.Sort.Key), Direction: string(snap.Sort.Direction)},
	}, nil
}

// Tool 4: get_summary

type GetSummaryInput struct{}

type GetSummaryOutput struct {
	Summary []report.MetricSummary `json:"summary" jsonschema:"Average, min, max and count per displayed metric"`
}

func (s *Server) handleGetSummary(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetSummaryInput,
) (*mcp.CallToolResult, GetSummaryOutput, error) {
	return &mcp.CallToolResult{}, GetSummaryOutput{Summary: s.session.Snapshot().Views.Summary}, nil
}

// Tool 5: set_filter

type SetFilterInput struct {
	Origins   []string `json:"origins,omitempty" jsonschema:"Origins to keep; omit to leave unchanged"`
	Metrics   []string `json:"metrics,omitempty" jsonschema:"Metrics to show; omit to leave unchanged"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"Minimum value on the 0-100 scale; omit to leave unchanged"`
	Reset     bool     `json:"reset,omitempty" jsonschema:"Select every origin and metric and zero the threshold first"`
}

func (s *Server) handleSetFilter(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetFilterInput,
) (*mcp.CallToolResult, StateOutput, error) {
	snap := s.session.UpdateFilter(func(cur report.FilterState) report.FilterState {
		if input.Reset {
			cur = report.FilterState{}
		}
		if input.Origins != nil {
			cur.Origins = report.NewSet(input.Origins...)
		}
		if input.Metrics != nil {
			cur.Metrics = report.NewSet(input.Metrics...)
		}
		if input.Threshold != nil {
			cur.Threshold = *input.Threshold
		}
		return cur
	})
	return &mcp.CallToolResult{}, stateOf(snap), nil
}

// Tool 6: set_sort

type SetSortInput struct {
	Key       string `json:"key" jsonschema:"origin, metric, or value"`
	Direction string `json:"direction,omitempty" jsonschema:"asc or desc; omit to toggle like a column header click"`
}

func (s *Server) handleSetSort(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetSortInput,
) (*mcp.CallToolResult, StateOutput, error) {
	var (
		snap session.Snapshot
		err  error
	)
	if input.Direction == "" {
		snap, err = s.session.ToggleSort(report.SortKey(input.Key))
	} else {
		snap, err = s.session.SetSort(report.SortState{
			Key:       report.SortKey(input.Key),
			Direction: report.Direction(input.Direction),
		})
	}
	if err != nil {
		return nil, StateOutput{}, err
	}
	return &mcp.CallToolResult{}, stateOf(snap), nil
}

// Tool 7: batch_file

type BatchFileInput struct {
	Action string `json:"action" jsonschema:"save, load, watch, unwatch, or list"`
	Path   string `json:"path,omitempty" jsonschema:"JSONL batch file path (not needed for list)"`
}

type BatchFileOutput struct {
	Watching []string    `json:"watching" jsonschema:"Batch files currently watched"`
	State    StateOutput `json:"state" jsonschema:"Session state after the action"`
	Message  string      `json:"message" jsonschema:"What happened"`
}

func (s *Server) handleBatchFile(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input BatchFileInput,
) (*mcp.CallToolResult, BatchFileOutput, error) {
	if input.Action != "list" && input.Path == "" {
		return nil, BatchFileOutput{}, fmt.Errorf("path is required for %q", input.Action)
	}

	var msg string
	switch input.Action {
	case "save":
		raw := s.session.Raw()
		if err := batchfile.Write(input.Path, raw); err != nil {
			return nil, BatchFileOutput{}, fmt.Errorf("save batch: %w", err)
		}
		msg = fmt.Sprintf("saved %d origins to %s", len(raw), input.Path)
	case "load":
		raw, err := batchfile.Read(input.Path)
		if err != nil {
			return nil, BatchFileOutput{}, fmt.Errorf("load batch: %w", err)
		}
		s.session.Replace(raw)
		msg = fmt.Sprintf("loaded %d origins from %s", len(raw), input.Path)
	case "watch":
		// The watch outlives this call; it ends on Shutdown or unwatch.
		w, err := s.WatchBatchFile(context.WithoutCancel(ctx), input.Path)
		if err != nil {
			return nil, BatchFileOutput{}, err
		}
		msg = "watching " + w.Path()
	case "unwatch":
		abs, err := filepath.Abs(input.Path)
		if err != nil {
			return nil, BatchFileOutput{}, err
		}
		if err := s.UnwatchBatchFile(abs); err != nil {
			return nil, BatchFileOutput{}, err
		}
		msg = "stopped watching " + abs
	case "list":
		msg = fmt.Sprintf("%d batch files watched", len(s.WatchedBatchFiles()))
	default:
		return nil, BatchFileOutput{}, fmt.Errorf("unknown action %q (want save, load, watch, unwatch, or list)", input.Action)
	}

	watching := s.WatchedBatchFiles()
	slices.Sort(watching)
	return &mcp.CallToolResult{}, BatchFileOutput{
		Watching: watching,
		State:    stateOf(s.session.Snapshot()),
		Message:  msg,
	}, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_origins",
		Description: "Query the Chrome UX Report for a list of origins and make the result the current batch. Origins without field data are listed as failures with a reason; the rest stay usable. Filter and sort carry over, the origin selection resets to the new origins.",
	}, s.handleSearchOrigins)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_metrics",
		Description: "List every metric present in the current batch (first-seen order) and which ones are selected.",
	}, s.handleListMetrics)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_rows",
		Description: "Get the (origin, metric, value) rows that pass the current filter, in the current sort order. Value is p75 x 100.",
	}, s.handleGetRows)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_summary",
		Description: "Per-metric average, min, max and count over origins passing the origin selection and threshold. Metric selection only narrows which metrics are listed.",
	}, s.handleGetSummary)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_filter",
		Description: "Change the origin selection, metric selection or threshold. Omitted fields keep their value; an empty list selects everything.",
	}, s.handleSetFilter)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_sort",
		Description: "Sort rows by origin, metric or value. Give a direction to set it, or omit it to toggle: the active ascending key flips to descending, anything else sorts ascending.",
	}, s.handleSetSort)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "batch_file",
		Description: "Save the current batch to a JSONL file, load one, or watch one so every change to the file replaces the batch. Useful for replaying results without an API key.",
	}, s.handleBatchFile)
}
