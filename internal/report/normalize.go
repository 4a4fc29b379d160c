package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Normalize classifies every raw response and collects the metric universe.
// Failures are kept as data so the remaining origins stay usable; the returned
// slices are never nil.
func Normalize(raw []RawResponse) Batch {
	batch := Batch{
		Results: make([]OriginResult, 0, len(raw)),
		Metrics: []string{},
	}

	seen := make(map[string]struct{})
	for _, r := range raw {
		res := classify(r)
		if res.OK() {
			for _, name := range res.Metrics.Names() {
				if _, ok := seen[name]; ok {
					continue
				}
				seen[name] = struct{}{}
				batch.Metrics = append(batch.Metrics, name)
			}
		}
		batch.Results = append(batch.Results, res)
	}

	return batch
}

// envelope is the part of a queryRecord reply we look at.
type envelope struct {
	Record *struct {
		Metrics json.RawMessage `json:"metrics"`
	} `json:"record"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func classify(r RawResponse) OriginResult {
	res := OriginResult{Origin: r.Origin, Status: StatusFailed}

	if r.Err != nil {
		res.Reason = r.Err.Error()
		return res
	}

	var env envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		res.Reason = fmt.Sprintf("malformed response: %v", err)
		return res
	}

	if env.Record == nil || !isObject(env.Record.Metrics) {
		switch {
		case env.Error != nil && env.Error.Message != "":
			res.Reason = env.Error.Message
		case env.Error != nil && env.Error.Status != "":
			res.Reason = env.Error.Status
		default:
			res.Reason = "no metrics in response"
		}
		return res
	}

	metrics, err := decodeMetrics(env.Record.Metrics)
	if err != nil {
		res.Reason = fmt.Sprintf("malformed metrics: %v", err)
		return res
	}

	res.Status = StatusOK
	res.Metrics = metrics
	return res
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeMetrics walks the metrics object token by token so the record keeps
// the payload's key order. A repeated key replaces the earlier value in place.
func decodeMetrics(raw json.RawMessage) (MetricsRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	record := MetricsRecord{}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("metric %q: %w", name, err)
		}

		stats := decodeStats(value)
		if i, dup := index[name]; dup {
			record[i].Stats = stats
			continue
		}
		index[name] = len(record)
		record = append(record, MetricEntry{Name: name, Stats: stats})
	}

	return record, nil
}

// decodeStats extracts what it can from one metric; malformed parts are
// dropped rather than failing the whole record.
func decodeStats(raw json.RawMessage) MetricStats {
	var parts struct {
		Histogram   json.RawMessage `json:"histogram"`
		Percentiles json.RawMessage `json:"percentiles"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return MetricStats{}
	}

	var stats MetricStats

	var percentiles map[string]json.RawMessage
	if json.Unmarshal(parts.Percentiles, &percentiles) == nil {
		if v, ok := parseNumber(percentiles["p75"]); ok {
			stats.P75 = &v
		}
	}

	var buckets []map[string]json.RawMessage
	if json.Unmarshal(parts.Histogram, &buckets) == nil {
		for _, b := range buckets {
			start, ok := parseNumber(b["start"])
			if !ok {
				continue
			}
			bucket := Bucket{Start: start}
			if end, ok := parseNumber(b["end"]); ok {
				bucket.End = &end
			}
			bucket.Proportion, _ = parseNumber(b["density"])
			stats.Histogram = append(stats.Histogram, bucket)
		}
	}

	return stats
}

// parseNumber accepts a JSON number or a string holding one; CrUX encodes
// layout-shift values as strings. "NaN" and "Infinity" strings parse to
// non-finite values, which the view engine drops.
func parseNumber(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, false
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(s)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
