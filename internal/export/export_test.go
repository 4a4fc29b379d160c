package export

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tobert/cruxview/internal/report"
)

func f(v float64) *float64 { return &v }

func sampleRows() []report.Row {
	return []report.Row{
		{Origin: "https://a.com", Metric: "largest_contentful_paint", Value: 92},
		{Origin: "https://a.com", Metric: "cumulative_layout_shift", Value: 5,
			Histogram: []report.Bucket{
				{Start: 0, End: f(0.1), Proportion: 0.8},
				{Start: 0.1, End: f(0.25), Proportion: 0.15},
				{Start: 0.25, Proportion: 0.05},
			}},
		{Origin: "https://b.com", Metric: "largest_contentful_paint", Value: 40},
	}
}

func attr(kvs []*commonpb.KeyValue, key string) *commonpb.KeyValue {
	for _, kv := range kvs {
		if kv.GetKey() == key {
			return kv
		}
	}
	return nil
}

func TestBuild(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	req := Build(sampleRows(), Options{FormFactor: "PHONE", BatchID: "b-1", Time: ts})

	require.Len(t, req.ResourceMetrics, 1)
	rm := req.ResourceMetrics[0]
	assert.Equal(t, "cruxview", attr(rm.Resource.Attributes, "service.name").GetValue().GetStringValue())
	assert.Equal(t, "PHONE", attr(rm.Resource.Attributes, AttrFormFactor).GetValue().GetStringValue())
	assert.Equal(t, "b-1", attr(rm.Resource.Attributes, AttrBatchID).GetValue().GetStringValue())

	metrics := rm.ScopeMetrics[0].Metrics
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = m.Name
	}
	assert.Equal(t, []string{
		"crux.largest_contentful_paint.p75_pct",
		"crux.cumulative_layout_shift.p75_pct",
		"crux.cumulative_layout_shift.bucket",
	}, names)

	lcp := metrics[0].GetGauge().GetDataPoints()
	require.Len(t, lcp, 2)
	assert.Equal(t, 92.0, lcp[0].GetAsDouble())
	assert.Equal(t, "https://b.com", attr(lcp[1].Attributes, AttrOrigin).GetValue().GetStringValue())
	assert.Equal(t, uint64(ts.UnixNano()), lcp[0].TimeUnixNano)

	bucketPoints := metrics[2].GetGauge().GetDataPoints()
	require.Len(t, bucketPoints, 3)
	assert.Equal(t, 0.05, bucketPoints[2].GetAsDouble())
	assert.Equal(t, int64(2), attr(bucketPoints[2].Attributes, AttrBucketIndex).GetValue().GetIntValue())
	assert.Nil(t, attr(bucketPoints[2].Attributes, AttrBucketEnd), "open-ended bucket has no end")

	assert.Equal(t, 6, PointCount(req))
}

func TestBuildEmpty(t *testing.T) {
	req := Build(nil, Options{})
	assert.Equal(t, 0, PointCount(req))
	assert.Empty(t, req.ResourceMetrics[0].ScopeMetrics[0].Metrics)
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	req := Build(sampleRows(), Options{})
	require.NoError(t, WriteJSONL(&buf, req))
	require.NoError(t, WriteJSONL(&buf, req))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var data metricspb.MetricsData
	require.NoError(t, protojson.Unmarshal(lines[0], &data))
	assert.Len(t, data.ResourceMetrics[0].ScopeMetrics[0].Metrics, 3)
}

// collector records what it receives.
type collector struct {
	collectormetrics.UnimplementedMetricsServiceServer

	mu       sync.Mutex
	requests []*collectormetrics.ExportMetricsServiceRequest
	reject   int64
}

func (c *collector) Export(ctx context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	resp := &collectormetrics.ExportMetricsServiceResponse{}
	if c.reject > 0 {
		resp.PartialSuccess = &collectormetrics.ExportMetricsPartialSuccess{
			RejectedDataPoints: c.reject,
			ErrorMessage:       "too old",
		}
	}
	return resp, nil
}

func startCollector(t *testing.T, c *collector) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	collectormetrics.RegisterMetricsServiceServer(srv, c)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestPush(t *testing.T) {
	c := &collector{}
	endpoint := startCollector(t, c)

	p, err := Dial(endpoint, 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Push(context.Background(), Build(sampleRows(), Options{})))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.requests, 1)
	assert.Equal(t, 6, PointCount(c.requests[0]))
}

func TestPushPartialSuccess(t *testing.T) {
	endpoint := startCollector(t, &collector{reject: 2})

	p, err := Dial(endpoint, 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	err = p.Push(context.Background(), Build(sampleRows(), Options{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected 2")
}

func TestDialRequiresEndpoint(t *testing.T) {
	_, err := Dial("", 0)
	assert.Error(t, err)
}
