package viz

import (
	"fmt"
	"strings"

	"github.com/tobert/cruxview/internal/report"
)

// BatchOverview renders fill bars for the current batch.
func BatchOverview(stats BatchStats) string {
	var b strings.Builder

	b.WriteString("Batch\n")
	writeBar(&b, "OK", stats.OK, stats.Origins)
	writeBar(&b, "Failed", stats.Failed, stats.Origins)
	writeBar(&b, "Selected", stats.Selected, stats.Origins)
	fmt.Fprintf(&b, "  Metrics: %d  Rows: %s\n", stats.Metrics, formatCount(stats.Rows))

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	barWidth := 20
	filled := 0
	if capacity > 0 {
		filled = count * barWidth / capacity
	}
	filled = min(max(filled, 0), barWidth)

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	// Pad label to 8 chars for alignment
	paddedLabel := fmt.Sprintf("%-8s", label)
	fmt.Fprintf(b, "  %s [%s]  %s / %s\n", paddedLabel, bar, formatCount(count), formatCount(capacity))
}

// SummaryTable renders per-metric aggregates, one line per metric.
func SummaryTable(summaries []report.MetricSummary) string {
	if len(summaries) == 0 {
		return ""
	}

	nameWidth := 6
	for _, s := range summaries {
		nameWidth = max(nameWidth, len(s.Metric))
	}
	nameWidth = min(nameWidth, maxMetricWidth)

	var b strings.Builder
	fmt.Fprintf(&b, "Summary (%d metrics)\n", len(summaries))
	fmt.Fprintf(&b, "  %-*s  %8s  %8s  %8s  %6s\n", nameWidth, "Metric", "Average", "Min", "Max", "Count")
	for _, s := range summaries {
		fmt.Fprintf(&b, "  %-*s  %8.2f  %8.2f  %8.2f  %6s\n",
			nameWidth, truncate(s.Metric, nameWidth), s.Average, s.Min, s.Max, formatCount(s.Count))
	}
	return b.String()
}

// Failures lists origins that produced no data, in batch order.
func Failures(failures []Failure) string {
	if len(failures) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Failed origins (%d)\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, "  ✗ %-*s  %s\n", maxOriginWidth, truncate(f.Origin, maxOriginWidth), f.Reason)
	}
	return b.String()
}

func formatCount(n int) string {
	if n < 0 {
		return "-" + formatCount(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}

// truncate shortens s to width runes, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width || width < 1 {
		return s
	}
	return string(r[:width-1]) + "…"
}
