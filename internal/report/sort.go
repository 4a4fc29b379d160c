package report

import (
	"cmp"
	"fmt"
	"strings"

	"golang.org/x/text/collate"
)

// SortKey names the column rows are ordered by.
type SortKey string

const (
	SortByOrigin SortKey = "origin"
	SortByMetric SortKey = "metric"
	SortByValue  SortKey = "value"
)

// Direction is the sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// SortState selects the row order. The zero value sorts by metric ascending.
type SortState struct {
	Key       SortKey   `json:"key"`
	Direction Direction `json:"direction"`
}

// DefaultSort is the order a fresh session starts with.
func DefaultSort() SortState {
	return SortState{Key: SortByMetric, Direction: Ascending}
}

// ParseSortKey validates user input. "url" is accepted as an alias of origin.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "origin", "url":
		return SortByOrigin, nil
	case "metric":
		return SortByMetric, nil
	case "value", "p75":
		return SortByValue, nil
	default:
		return "", fmt.Errorf("unknown sort key %q (want origin, metric, or value)", s)
	}
}

// ParseDirection validates user input.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending", "":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return "", fmt.Errorf("unknown sort direction %q (want asc or desc)", s)
	}
}

// Toggle returns the state after a user picks key: the active ascending key
// flips to descending, anything else sorts ascending by key.
func (s SortState) Toggle(key SortKey) SortState {
	s = s.resolved()
	if s.Key == key && s.Direction == Ascending {
		return SortState{Key: key, Direction: Descending}
	}
	return SortState{Key: key, Direction: Ascending}
}

// resolved fills zero fields with the defaults and panics on anything it does
// not recognise; unknown keys are programming errors, not data.
func (s SortState) resolved() SortState {
	if s.Key == "" {
		s.Key = SortByMetric
	}
	if s.Direction == "" {
		s.Direction = Ascending
	}
	switch s.Key {
	case SortByOrigin, SortByMetric, SortByValue:
	default:
		panic(fmt.Sprintf("report: unknown sort key %q", s.Key))
	}
	if s.Direction != Ascending && s.Direction != Descending {
		panic(fmt.Sprintf("report: unknown sort direction %q", s.Direction))
	}
	return s
}

// comparator builds the row ordering. Direction flips only the primary key;
// origin then metric break ties in ascending order, and the stable sort keeps
// encounter order for anything still equal.
func (s SortState) comparator(c *collate.Collator) func(a, b Row) int {
	s = s.resolved()
	return func(a, b Row) int {
		var primary int
		switch s.Key {
		case SortByOrigin:
			primary = c.CompareString(a.Origin, b.Origin)
		case SortByMetric:
			primary = c.CompareString(a.Metric, b.Metric)
		case SortByValue:
			primary = cmp.Compare(a.Value, b.Value)
		}
		if s.Direction == Descending {
			primary = -primary
		}
		if primary != 0 {
			return primary
		}
		if o := c.CompareString(a.Origin, b.Origin); o != 0 {
			return o
		}
		return c.CompareString(a.Metric, b.Metric)
	}
}
