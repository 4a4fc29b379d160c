package report

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(origin, body string) RawResponse {
	return RawResponse{Origin: origin, Body: json.RawMessage(body)}
}

func TestNormalizeEmpty(t *testing.T) {
	batch := Normalize(nil)

	require.NotNil(t, batch.Results)
	require.NotNil(t, batch.Metrics)
	assert.Empty(t, batch.Results)
	assert.Empty(t, batch.Metrics)
}

func TestNormalizeClassification(t *testing.T) {
	tests := []struct {
		name       string
		in         RawResponse
		wantOK     bool
		wantReason string
	}{
		{
			name:   "metrics record",
			in:     raw("https://a.com", `{"record":{"key":{"origin":"https://a.com"},"metrics":{"largest_contentful_paint":{"percentiles":{"p75":0.5}}}}}`),
			wantOK: true,
		},
		{
			name:       "transport error",
			in:         RawResponse{Origin: "https://b.com", Err: errors.New("connection refused")},
			wantReason: "connection refused",
		},
		{
			name:       "upstream error payload",
			in:         raw("https://c.com", `{"error":{"code":404,"message":"chrome ux report data not found","status":"NOT_FOUND"}}`),
			wantReason: "chrome ux report data not found",
		},
		{
			name:       "upstream error without message",
			in:         raw("https://c.com", `{"error":{"code":403,"status":"PERMISSION_DENIED"}}`),
			wantReason: "PERMISSION_DENIED",
		},
		{
			name:       "record without metrics",
			in:         raw("https://d.com", `{"record":{"key":{"origin":"https://d.com"}}}`),
			wantReason: "no metrics in response",
		},
		{
			name:       "metrics is not an object",
			in:         raw("https://d.com", `{"record":{"metrics":[1,2]}}`),
			wantReason: "no metrics in response",
		},
		{
			name:       "null body",
			in:         raw("https://e.com", `null`),
			wantReason: "no metrics in response",
		},
		{
			name:       "not json",
			in:         raw("https://f.com", `<html>502</html>`),
			wantReason: "malformed response",
		},
		{
			name:       "empty body",
			in:         raw("https://g.com", ``),
			wantReason: "malformed response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := Normalize([]RawResponse{tt.in})
			require.Len(t, batch.Results, 1)

			res := batch.Results[0]
			assert.Equal(t, tt.in.Origin, res.Origin)
			assert.Equal(t, tt.wantOK, res.OK())
			if !tt.wantOK {
				assert.Contains(t, res.Reason, tt.wantReason)
				assert.Nil(t, res.Metrics)
			}
		})
	}
}

func TestNormalizeKeepsRequestOrderAndDuplicates(t *testing.T) {
	batch := Normalize([]RawResponse{
		raw("b.com", `{"record":{"metrics":{"LCP":{"percentiles":{"p75":0.4}}}}}`),
		{Origin: "a.com", Err: errors.New("timeout")},
		raw("b.com", `{"record":{"metrics":{"LCP":{"percentiles":{"p75":0.6}}}}}`),
	})

	assert.Equal(t, []string{"b.com", "a.com", "b.com"}, batch.Origins())
	assert.Len(t, batch.Failures(), 1)
	assert.Equal(t, "a.com", batch.Failures()[0].Origin)
}

func TestNormalizeMetricUniverseFirstSeenOrder(t *testing.T) {
	batch := Normalize([]RawResponse{
		raw("a.com", `{"record":{"metrics":{"zeta":{},"alpha":{}}}}`),
		{Origin: "x.com", Err: errors.New("boom")},
		raw("b.com", `{"record":{"metrics":{"mid":{},"alpha":{},"zeta":{}}}}`),
	})

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, batch.Metrics)

	again := Normalize([]RawResponse{
		raw("a.com", `{"record":{"metrics":{"zeta":{},"alpha":{}}}}`),
		{Origin: "x.com", Err: errors.New("boom")},
		raw("b.com", `{"record":{"metrics":{"mid":{},"alpha":{},"zeta":{}}}}`),
	})
	assert.Equal(t, batch, again)
}

func TestNormalizeDuplicateMetricKeyReplacedInPlace(t *testing.T) {
	batch := Normalize([]RawResponse{
		raw("a.com", `{"record":{"metrics":{"LCP":{"percentiles":{"p75":0.1}},"CLS":{},"LCP":{"percentiles":{"p75":0.9}}}}}`),
	})

	rec := batch.Results[0].Metrics
	assert.Equal(t, []string{"LCP", "CLS"}, rec.Names())
	stats, ok := statsOf(rec, "LCP")
	require.True(t, ok)
	require.NotNil(t, stats.P75)
	assert.Equal(t, 0.9, *stats.P75)
}

func TestNormalizePercentileParsing(t *testing.T) {
	tests := []struct {
		name    string
		metric  string
		wantNil bool
		want    float64
	}{
		{name: "number", metric: `{"percentiles":{"p75":0.75}}`, want: 0.75},
		{name: "numeric string", metric: `{"percentiles":{"p75":"0.05"}}`, want: 0.05},
		{name: "padded string", metric: `{"percentiles":{"p75":" 0.5 "}}`, want: 0.5},
		{name: "text", metric: `{"percentiles":{"p75":"fast"}}`, wantNil: true},
		{name: "null", metric: `{"percentiles":{"p75":null}}`, wantNil: true},
		{name: "bool", metric: `{"percentiles":{"p75":true}}`, wantNil: true},
		{name: "missing p75", metric: `{"percentiles":{"p50":0.3}}`, wantNil: true},
		{name: "missing percentiles", metric: `{"histogram":[]}`, wantNil: true},
		{name: "percentiles not an object", metric: `{"percentiles":7}`, wantNil: true},
		{name: "metric not an object", metric: `"oops"`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := Normalize([]RawResponse{raw("a.com", `{"record":{"metrics":{"m":`+tt.metric+`}}}`)})
			require.True(t, batch.Results[0].OK())
			assert.Equal(t, []string{"m"}, batch.Metrics)

			stats, ok := statsOf(batch.Results[0].Metrics, "m")
			require.True(t, ok)
			if tt.wantNil {
				assert.Nil(t, stats.P75)
				return
			}
			require.NotNil(t, stats.P75)
			assert.Equal(t, tt.want, *stats.P75)
		})
	}
}

func TestNormalizeNaNStringIsKeptForEngineToDrop(t *testing.T) {
	batch := Normalize([]RawResponse{raw("a.com", `{"record":{"metrics":{"m":{"percentiles":{"p75":"NaN"}}}}}`)})

	stats, _ := statsOf(batch.Results[0].Metrics, "m")
	require.NotNil(t, stats.P75)
	assert.True(t, math.IsNaN(*stats.P75))
}

func TestNormalizeHistogram(t *testing.T) {
	body := `{"record":{"metrics":{"cumulative_layout_shift":{
		"histogram":[
			{"start":"0.00","end":"0.10","density":0.81},
			{"start":"0.10","end":"0.25","density":0.11},
			{"start":"0.25","density":0.08},
			{"end":"1.00","density":0.5}
		],
		"percentiles":{"p75":"0.07"}}}}}`
	batch := Normalize([]RawResponse{raw("a.com", body)})

	stats, ok := statsOf(batch.Results[0].Metrics, "cumulative_layout_shift")
	require.True(t, ok)
	require.Len(t, stats.Histogram, 3, "bucket without start is skipped")

	assert.Equal(t, 0.0, stats.Histogram[0].Start)
	require.NotNil(t, stats.Histogram[0].End)
	assert.Equal(t, 0.10, *stats.Histogram[0].End)
	assert.Equal(t, 0.81, stats.Histogram[0].Proportion)
	assert.Nil(t, stats.Histogram[2].End)
	assert.Equal(t, 0.08, stats.Histogram[2].Proportion)
}

func TestSetJSON(t *testing.T) {
	data, err := json.Marshal(NewSet("b", "a"))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(data))

	var s Set
	require.NoError(t, json.Unmarshal([]byte(`["x","y","x"]`), &s))
	assert.Len(t, s, 2)
	assert.True(t, s.Has("x"))

	assert.Error(t, json.Unmarshal([]byte(`"x"`), &s))
}

// statsOf looks up one metric in a record.
func statsOf(m MetricsRecord, name string) (MetricStats, bool) {
	for _, e := range m {
		if e.Name == name {
			return e.Stats, true
		}
	}
	return MetricStats{}, false
}
