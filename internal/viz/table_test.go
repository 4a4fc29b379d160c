package viz

import (
	"strings"
	"testing"

	"github.com/tobert/cruxview/internal/report"
)

func TestRowsTable(t *testing.T) {
	rows := []report.Row{
		{Origin: "https://b.com", Metric: "largest_contentful_paint", Value: 40},
		{Origin: "https://a.com", Metric: "largest_contentful_paint", Value: 92.456,
			Histogram: []report.Bucket{{Proportion: 0.5}, {Proportion: 0.25}, {Proportion: 0.25}}},
	}
	result := RowsTable(rows)
	lines := strings.Split(strings.TrimRight(result, "\n"), "\n")

	if len(lines) != 4 {
		t.Fatalf("expected header, column line and 2 rows, got:\n%s", result)
	}
	if !strings.Contains(lines[2], "https://b.com") || !strings.Contains(lines[2], "40.00") {
		t.Errorf("rows should keep caller order, got:\n%s", result)
	}
	if !strings.Contains(lines[3], "92.46") {
		t.Errorf("expected value rounded to two decimals, got:\n%s", lines[3])
	}
	if !strings.Contains(lines[3], "[##########=====.....]") {
		t.Errorf("expected histogram bar, got:\n%s", lines[3])
	}
}

func TestRowsTable_Empty(t *testing.T) {
	if got := RowsTable(nil); !strings.Contains(got, "No rows") {
		t.Errorf("expected empty message, got %q", got)
	}
}

func TestRowsTable_Overflow(t *testing.T) {
	rows := make([]report.Row, maxTableRows+5)
	for i := range rows {
		rows[i] = report.Row{Origin: "o", Metric: "m", Value: float64(i)}
	}
	if got := RowsTable(rows); !strings.Contains(got, "+5 more rows") {
		t.Errorf("expected overflow marker, got tail:\n%s", got[len(got)-80:])
	}
}

func TestHistogramBar(t *testing.T) {
	tests := []struct {
		name   string
		shares report.Shares
		want   string
	}{
		{"all good", report.Shares{Good: 1}, "[##########]"},
		{"split", report.Shares{Good: 0.5, NeedsImprovement: 0.3, Poor: 0.2}, "[#####===..]"},
		{"all poor", report.Shares{Poor: 1}, "[..........]"},
		{"empty", report.Shares{}, "[          ]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HistogramBar(tt.shares, 10); got != tt.want {
				t.Errorf("HistogramBar = %q, want %q", got, tt.want)
			}
		})
	}
}
