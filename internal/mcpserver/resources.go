package mcpserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/cruxview/internal/report"
	"github.com/tobert/cruxview/internal/viz"
)

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "crux://batch",
		Name:        "batch",
		Description: "Current batch: id, origin outcomes, and the active filter and sort.",
		MIMEType:    "text/plain",
	}, s.handleBatchResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "crux://metrics",
		Name:        "metrics",
		Description: "Metrics present in the batch, marking the selected ones.",
		MIMEType:    "text/plain",
	}, s.handleMetricsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "crux://rows",
		Name:        "rows",
		Description: "Filtered, sorted row table with a good/needs-improvement/poor bar per row.",
		MIMEType:    "text/plain",
	}, s.handleRowsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "crux://summary",
		Name:        "summary",
		Description: "Average, min, max and count per displayed metric.",
		MIMEType:    "text/plain",
	}, s.handleSummaryResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "crux://origins/{origin}",
		Name:        "origin-detail",
		Description: "Every metric of one origin in the batch, ignoring the filter.",
		MIMEType:    "text/plain",
	}, s.handleOriginResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleBatchResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	snap := s.session.Snapshot()

	var b strings.Builder
	b.WriteString("CrUX Batch\n")
	b.WriteString("══════════\n")
	if snap.BatchID == "" {
		b.WriteString("  No batch yet. Call search_origins or load a batch file.\n")
		return textResult(req.Params.URI, b.String()), nil
	}
	fmt.Fprintf(&b, "  Id:       %s\n", snap.BatchID)
	fmt.Fprintf(&b, "  Created:  %s\n", snap.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  Sort:     %s %s\n", snap.Sort.Key, snap.Sort.Direction)
	fmt.Fprintf(&b, "  Threshold: %g\n\n", snap.Filter.Threshold)

	var failures []viz.Failure
	ok := 0
	for _, r := range snap.Results {
		if r.OK() {
			ok++
			continue
		}
		failures = append(failures, viz.Failure{Origin: r.Origin, Reason: r.Reason})
	}
	b.WriteString(viz.BatchOverview(viz.BatchStats{
		Origins:  len(snap.Results),
		OK:       ok,
		Failed:   len(failures),
		Metrics:  len(snap.Views.Metrics),
		Rows:     len(snap.Views.Rows),
		Selected: selectedOrigins(snap.Results, snap.Filter.Origins),
	}))
	if len(failures) > 0 {
		b.WriteByte('\n')
		b.WriteString(viz.Failures(failures))
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleMetricsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	snap := s.session.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Metrics (%d)\n", len(snap.Views.Metrics))
	for _, m := range snap.Views.Metrics {
		mark := " "
		if snap.Filter.Metrics.Allows(m) {
			mark = "✓"
		}
		fmt.Fprintf(&b, "  %s %s\n", mark, m)
	}
	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleRowsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return textResult(req.Params.URI, viz.RowsTable(s.session.Snapshot().Views.Rows)), nil
}

func (s *Server) handleSummaryResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	text := viz.SummaryTable(s.session.Snapshot().Views.Summary)
	if text == "" {
		text = "No metric has values under the current filter.\n"
	}
	return textResult(req.Params.URI, text), nil
}

// ─── Resource template handlers ─────────────────────────────────────────

func (s *Server) handleOriginResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	origin, err := extractURIParam(req.Params.URI, "crux://origins/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	batch := s.session.Batch()
	for _, r := range batch.Results {
		if r.Origin != origin {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Origin: %s\n", origin)
		b.WriteString(strings.Repeat("═", len([]rune(origin))+8) + "\n")
		if !r.OK() {
			fmt.Fprintf(&b, "  No data: %s\n", r.Reason)
			return textResult(req.Params.URI, b.String()), nil
		}

		// Everything this origin reports, unaffected by the current filter.
		rows := s.session.Engine().ComputeRows([]report.OriginResult{r}, report.FilterState{}, report.DefaultSort())
		b.WriteString(viz.RowsTable(rows))
		return textResult(req.Params.URI, b.String()), nil
	}

	return nil, mcp.ResourceNotFoundError(req.Params.URI)
}

// ─── Helpers ────────────────────────────────────────────────────────────

func selectedOrigins(results []report.OriginResult, selection report.Set) int {
	n := 0
	for _, r := range results {
		if selection.Allows(r.Origin) {
			n++
		}
	}
	return n
}

// extractURIParam extracts the parameter value from a URI by stripping the prefix
// and URL-decoding the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}
}
