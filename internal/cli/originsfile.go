package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/report"
)

// OriginsFile is a YAML list of origins to query with an optional view preset:
//
//	origins:
//	  - https://web.dev
//	  - https://developer.chrome.com
//	filter:
//	  metrics: [largest_contentful_paint]
//	  threshold: 50
//	sort:
//	  key: value
//	  direction: desc
type OriginsFile struct {
	Origins []string     `yaml:"origins"`
	Filter  FilterPreset `yaml:"filter"`
	Sort    SortPreset   `yaml:"sort"`
}

// FilterPreset narrows the views. An empty list selects everything and an
// absent threshold keeps the configured one.
type FilterPreset struct {
	Origins   []string `yaml:"origins"`
	Metrics   []string `yaml:"metrics"`
	Threshold *float64 `yaml:"threshold"`
}

// SortPreset is the initial sort; empty fields fall back to metric ascending.
type SortPreset struct {
	Key       string `yaml:"key"`
	Direction string `yaml:"direction"`
}

// ParseOriginsFile reads an origins file and validates its sort preset.
func ParseOriginsFile(path string) (*OriginsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read origins file: %w", err)
	}

	var file OriginsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse origins file: %w", err)
	}

	file.Origins = crux.CleanOrigins(file.Origins)
	if len(file.Origins) == 0 {
		return nil, fmt.Errorf("origins file %s lists no origins", path)
	}
	if _, err := file.Sort.State(); err != nil {
		return nil, fmt.Errorf("origins file %s: %w", path, err)
	}

	return &file, nil
}

// Apply overlays the preset on f.
func (p FilterPreset) Apply(f report.FilterState) report.FilterState {
	if len(p.Origins) > 0 {
		f.Origins = report.NewSet(p.Origins...)
	}
	if len(p.Metrics) > 0 {
		f.Metrics = report.NewSet(p.Metrics...)
	}
	if p.Threshold != nil {
		f.Threshold = *p.Threshold
	}
	return f
}

// State parses the preset into a sort state.
func (p SortPreset) State() (report.SortState, error) {
	st := report.DefaultSort()
	if p.Key != "" {
		key, err := report.ParseSortKey(p.Key)
		if err != nil {
			return report.SortState{}, err
		}
		st.Key = key
	}
	if p.Direction != "" {
		dir, err := report.ParseDirection(p.Direction)
		if err != nil {
			return report.SortState{}, err
		}
		st.Direction = dir
	}
	return st, nil
}
