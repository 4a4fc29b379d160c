package viz

import (
	"fmt"
	"strings"

	"github.com/tobert/cruxview/internal/report"
)

const (
	maxOriginWidth = 40
	maxMetricWidth = 32
	maxTableRows   = 200
	histBarWidth   = 20
)

// RowsTable renders rows in the order given, one line per (origin, metric)
// with the value to two decimals and, when present, a histogram bar. The
// caller's sort is never changed.
func RowsTable(rows []report.Row) string {
	if len(rows) == 0 {
		return "No rows match the current filter.\n"
	}

	originWidth, metricWidth := 6, 6
	for _, r := range rows {
		originWidth = max(originWidth, len([]rune(r.Origin)))
		metricWidth = max(metricWidth, len([]rune(r.Metric)))
	}
	originWidth = min(originWidth, maxOriginWidth)
	metricWidth = min(metricWidth, maxMetricWidth)

	shown := rows
	overflow := 0
	if len(shown) > maxTableRows {
		overflow = len(shown) - maxTableRows
		shown = shown[:maxTableRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rows (%s)\n", formatCount(len(rows)))
	fmt.Fprintf(&b, "  %-*s  %-*s  %8s\n", originWidth, "Origin", metricWidth, "Metric", "Value")
	for _, r := range shown {
		fmt.Fprintf(&b, "  %-*s  %-*s  %8.2f",
			originWidth, truncate(r.Origin, originWidth),
			metricWidth, truncate(r.Metric, metricWidth),
			r.Value)
		if shares, ok := report.BucketShares(r.Histogram); ok {
			b.WriteString("  ")
			b.WriteString(HistogramBar(shares, histBarWidth))
		}
		b.WriteByte('\n')
	}

	if overflow > 0 {
		fmt.Fprintf(&b, "  ... +%s more rows\n", formatCount(overflow))
	}
	return b.String()
}

// HistogramBar draws good / needs-improvement / poor shares as one bar:
// '#' good, '=' needs improvement, '.' poor.
func HistogramBar(s report.Shares, width int) string {
	if width <= 0 {
		width = histBarWidth
	}
	total := s.Total()
	if total <= 0 {
		return "[" + strings.Repeat(" ", width) + "]"
	}

	good := int(s.Good/total*float64(width) + 0.5)
	ni := int(s.NeedsImprovement/total*float64(width) + 0.5)
	good = min(max(good, 0), width)
	ni = min(max(ni, 0), width-good)
	poor := width - good - ni

	return "[" + strings.Repeat("#", good) + strings.Repeat("=", ni) + strings.Repeat(".", poor) + "]"
}
