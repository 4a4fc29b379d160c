// Package report turns a batch of Chrome UX Report responses into the derived
// views every surface shows: the metric universe, the filtered and sorted row
// table, and per-metric summary statistics.
//
// Every function in this package is pure. Callers own the state; the engine only
// reads the snapshots it is handed and never mutates them.
package report

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ValueScale converts a p75 fraction (0-1) into the percentage scale (0-100)
// used by rows, thresholds and summaries.
const ValueScale = 100.0

// RawResponse is one origin's reply as delivered by the retrieval step.
// Exactly one of Body or Err is meaningful; a non-nil Err wins.
type RawResponse struct {
	Origin string
	Body   json.RawMessage
	Err    error
}

// Status classifies an OriginResult.
type Status int

const (
	// StatusFailed is the zero value so an unclassified result is never mistaken for data.
	StatusFailed Status = iota
	StatusOK
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "failed"
}

// MarshalText renders the status as "ok" or "failed".
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the forms MarshalText produces.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ok":
		*s = StatusOK
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// OriginResult is the normalized outcome for one requested origin.
type OriginResult struct {
	Origin  string        `json:"origin"`
	Status  Status        `json:"status"`
	Metrics MetricsRecord `json:"-"`                // set when Status == StatusOK
	Reason  string        `json:"reason,omitempty"` // set when Status == StatusFailed
}

// OK reports whether the origin produced a metrics record.
func (r OriginResult) OK() bool {
	return r.Status == StatusOK
}

// MetricEntry pairs a metric name with its statistics.
type MetricEntry struct {
	Name  string
	Stats MetricStats
}

// MetricsRecord maps metric names to statistics, keeping the order in which
// the upstream payload listed them.
type MetricsRecord []MetricEntry

// Names returns the metric names in record order.
func (m MetricsRecord) Names() []string {
	names := make([]string, len(m))
	for i, e := range m {
		names[i] = e.Name
	}
	return names
}

// MetricStats is the distribution reported for one metric.
// P75 is nil when the payload has no usable 75th percentile.
type MetricStats struct {
	Histogram []Bucket
	P75       *float64
}

// Bucket is one histogram range. End is nil for the open-ended last bucket.
type Bucket struct {
	Start      float64  `json:"start"`
	End        *float64 `json:"end,omitempty"`
	Proportion float64  `json:"proportion"`
}

// Batch is the normalized result of one search action.
type Batch struct {
	Results []OriginResult `json:"results"`
	Metrics []string       `json:"metrics"`
}

// Origins returns the batch's origins in request order.
func (b Batch) Origins() []string {
	origins := make([]string, len(b.Results))
	for i, r := range b.Results {
		origins[i] = r.Origin
	}
	return origins
}

// Failures returns the results that carry no data.
func (b Batch) Failures() []OriginResult {
	var failed []OriginResult
	for _, r := range b.Results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Set is a set of strings where the empty set selects everything.
type Set map[string]struct{}

// NewSet builds a Set from items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has reports membership without the empty-means-all rule.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Allows reports whether v passes a filter built from s.
func (s Set) Allows(v string) bool {
	return len(s) == 0 || s.Has(v)
}

// Sorted returns the members in byte order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of strings.
func (s *Set) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("set must be an array of strings: %w", err)
	}
	*s = NewSet(items...)
	return nil
}

// FilterState selects which origins and metrics contribute to the views.
// Threshold is expressed on the percentage scale.
type FilterState struct {
	Origins   Set     `json:"origins"`
	Metrics   Set     `json:"metrics"`
	Threshold float64 `json:"threshold"`
}

// Row is one (origin, metric) pair that survived filtering.
type Row struct {
	Origin    string   `json:"origin"`
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Histogram []Bucket `json:"histogram,omitempty"`
}

// MetricSummary aggregates the surviving values of one metric.
type MetricSummary struct {
	Metric  string  `json:"metric"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
}
