package report

import (
	"fmt"
	"math"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// scalePrecision rounds scaled values so binary artifacts such as
// 0.29*100 = 28.999999999999996 do not fall under an integer threshold.
const scalePrecision = 1e9

// maxRounded bounds the values that are rounded; v*scalePrecision stays
// exact in a float64 below it.
const maxRounded = 1e6

// Engine computes the derived views. Its only configuration is the locale used
// to collate origin and metric names; it holds no per-call state and is safe
// for concurrent use.
type Engine struct {
	tag language.Tag
}

// NewEngine returns an engine collating strings for tag.
func NewEngine(tag language.Tag) *Engine {
	return &Engine{tag: tag}
}

// NewEngineForLocale parses a BCP 47 locale such as "en" or "de-CH".
func NewEngineForLocale(locale string) (*Engine, error) {
	if locale == "" {
		return NewEngine(language.English), nil
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	return NewEngine(tag), nil
}

// Locale returns the collation locale.
func (e *Engine) Locale() language.Tag {
	return e.tag
}

var defaultEngine = NewEngine(language.English)

// ComputeRows is Engine.ComputeRows with English collation.
func ComputeRows(results []OriginResult, filter FilterState, sort SortState) []Row {
	return defaultEngine.ComputeRows(results, filter, sort)
}

// ComputeSummary is Engine.ComputeSummary; summaries do not depend on locale.
func ComputeSummary(results []OriginResult, filter FilterState) map[string]MetricSummary {
	return defaultEngine.ComputeSummary(results, filter)
}

// Compute is Engine.Compute with English collation.
func Compute(batch Batch, filter FilterState, sort SortState) Views {
	return defaultEngine.Compute(batch, filter, sort)
}

// ComputeRows flattens the results into rows that pass the origin filter, the
// metric filter and the threshold, ordered by sort. It panics if sort names an
// unknown key or direction.
func (e *Engine) ComputeRows(results []OriginResult, filter FilterState, sort SortState) []Row {
	compare := sort.comparator(collate.New(e.tag))

	rows := []Row{}
	eachValue(results, filter, func(origin string, entry MetricEntry, value float64) {
		if !filter.Metrics.Allows(entry.Name) {
			return
		}
		rows = append(rows, Row{
			Origin:    origin,
			Metric:    entry.Name,
			Value:     value,
			Histogram: slices.Clone(entry.Stats.Histogram),
		})
	})

	slices.SortStableFunc(rows, compare)
	return rows
}

// ComputeSummary aggregates values per metric under the origin and threshold
// filters. Metric selection does not apply here: it narrows which
// summaries are displayed (see SummaryRows), not which values contribute.
// Metrics without any surviving value are absent from the map.
func (e *Engine) ComputeSummary(results []OriginResult, filter FilterState) map[string]MetricSummary {
	type acc struct {
		mean, min, max float64
		count          int
	}
	accs := make(map[string]*acc)

	eachValue(results, filter, func(_ string, entry MetricEntry, value float64) {
		a, ok := accs[entry.Name]
		if !ok {
			accs[entry.Name] = &acc{mean: value, min: value, max: value, count: 1}
			return
		}
		// Running mean, so large values cannot overflow a sum.
		a.count++
		a.mean += (value - a.mean) / float64(a.count)
		a.min = math.Min(a.min, value)
		a.max = math.Max(a.max, value)
	})

	summary := make(map[string]MetricSummary, len(accs))
	for name, a := range accs {
		// Clamp so rounding can never put the mean outside [min, max].
		avg := math.Min(math.Max(a.mean, a.min), a.max)
		summary[name] = MetricSummary{
			Metric:  name,
			Average: avg,
			Min:     a.min,
			Max:     a.max,
			Count:   a.count,
		}
	}
	return summary
}

// SummaryRows orders a summary map for display: universe order first, limited
// to the selected metrics. Names missing from the universe follow in byte order.
func SummaryRows(summary map[string]MetricSummary, universe []string, filter FilterState) []MetricSummary {
	out := make([]MetricSummary, 0, len(summary))
	listed := make(map[string]struct{}, len(universe))
	for _, name := range universe {
		listed[name] = struct{}{}
		if s, ok := summary[name]; ok && filter.Metrics.Allows(name) {
			out = append(out, s)
		}
	}

	var extra []string
	for name := range summary {
		if _, ok := listed[name]; !ok && filter.Metrics.Allows(name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		out = append(out, summary[name])
	}
	return out
}

// eachValue visits every scaled value that passes the origin filter and the
// threshold. Rows and summaries share it so their counts always agree.
func eachValue(results []OriginResult, filter FilterState, fn func(origin string, entry MetricEntry, value float64)) {
	for _, res := range results {
		if !res.OK() || !filter.Origins.Allows(res.Origin) {
			continue
		}
		for _, entry := range res.Metrics {
			value, ok := ScaledValue(entry.Stats)
			if !ok || value < filter.Threshold {
				continue
			}
			fn(res.Origin, entry, value)
		}
	}
}

// ScaledValue returns p75 on the percentage scale, or false when the metric has
// no finite p75.
func ScaledValue(stats MetricStats) (float64, bool) {
	if stats.P75 == nil {
		return 0, false
	}
	v := *stats.P75 * ValueScale
	if math.Abs(v) < maxRounded {
		v = math.Round(v*scalePrecision) / scalePrecision
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
