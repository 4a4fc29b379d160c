// Package export turns report rows into OTLP metrics, so a CrUX snapshot can
// land in any OpenTelemetry pipeline: as JSONL in the collector's file format
// or pushed to a collector over gRPC.
package export

import (
	"fmt"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/tobert/cruxview/internal/report"
)

const (
	// ScopeName identifies this exporter in the instrumentation scope.
	ScopeName = "github.com/tobert/cruxview/export"

	AttrOrigin      = "crux.origin"
	AttrFormFactor  = "crux.form_factor"
	AttrBatchID     = "crux.batch_id"
	AttrBucketIndex = "crux.bucket.index"
	AttrBucketStart = "crux.bucket.start"
	AttrBucketEnd   = "crux.bucket.end"
)

// Request is the OTLP metrics export message Build produces.
type Request = collectormetrics.ExportMetricsServiceRequest

// Options describes the resource the exported metrics belong to.
type Options struct {
	ServiceName string    // service.name; "cruxview" when empty
	FormFactor  string    // PHONE, DESKTOP, ...
	BatchID     string    // session batch id, omitted when empty
	Time        time.Time // data point timestamp; now when zero
}

// ValueMetricName is the gauge carrying the p75 percentage for metric.
func ValueMetricName(metric string) string {
	return fmt.Sprintf("crux.%s.p75_pct", metric)
}

// BucketMetricName is the gauge carrying histogram bucket proportions.
func BucketMetricName(metric string) string {
	return fmt.Sprintf("crux.%s.bucket", metric)
}

// Build converts rows into a single-resource export request. Each metric gets
// a p75 gauge with one point per origin, plus a bucket gauge when any of its
// rows carries a histogram. Metrics appear in first-seen row order.
func Build(rows []report.Row, opts Options) *collectormetrics.ExportMetricsServiceRequest {
	if opts.ServiceName == "" {
		opts.ServiceName = "cruxview"
	}
	ts := opts.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	nanos := uint64(ts.UnixNano())

	var order []string
	values := make(map[string]*metricspb.Metric)
	buckets := make(map[string]*metricspb.Metric)

	for _, row := range rows {
		g, ok := values[row.Metric]
		if !ok {
			order = append(order, row.Metric)
			g = gauge(ValueMetricName(row.Metric), "%", "75th percentile of "+row.Metric+", scaled to percent")
			values[row.Metric] = g
		}
		g.GetGauge().DataPoints = append(g.GetGauge().DataPoints, &metricspb.NumberDataPoint{
			TimeUnixNano: nanos,
			Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: row.Value},
			Attributes:   []*commonpb.KeyValue{stringAttr(AttrOrigin, row.Origin)},
		})

		if len(row.Histogram) == 0 {
			continue
		}
		b, ok := buckets[row.Metric]
		if !ok {
			b = gauge(BucketMetricName(row.Metric), "1", "Share of page loads per "+row.Metric+" histogram bucket")
			buckets[row.Metric] = b
		}
		for i, bucket := range row.Histogram {
			attrs := []*commonpb.KeyValue{
				stringAttr(AttrOrigin, row.Origin),
				intAttr(AttrBucketIndex, int64(i)),
				doubleAttr(AttrBucketStart, bucket.Start),
			}
			if bucket.End != nil {
				attrs = append(attrs, doubleAttr(AttrBucketEnd, *bucket.End))
			}
			b.GetGauge().DataPoints = append(b.GetGauge().DataPoints, &metricspb.NumberDataPoint{
				TimeUnixNano: nanos,
				Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: bucket.Proportion},
				Attributes:   attrs,
			})
		}
	}

	metrics := make([]*metricspb.Metric, 0, len(order)*2)
	for _, name := range order {
		metrics = append(metrics, values[name])
		if b, ok := buckets[name]; ok {
			metrics = append(metrics, b)
		}
	}

	resAttrs := []*commonpb.KeyValue{stringAttr("service.name", opts.ServiceName)}
	if opts.FormFactor != "" {
		resAttrs = append(resAttrs, stringAttr(AttrFormFactor, opts.FormFactor))
	}
	if opts.BatchID != "" {
		resAttrs = append(resAttrs, stringAttr(AttrBatchID, opts.BatchID))
	}

	return &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			{
				Resource: &resourcepb.Resource{Attributes: resAttrs},
				ScopeMetrics: []*metricspb.ScopeMetrics{
					{
						Scope:   &commonpb.InstrumentationScope{Name: ScopeName},
						Metrics: metrics,
					},
				},
			},
		},
	}
}

// PointCount returns the number of data points in req.
func PointCount(req *collectormetrics.ExportMetricsServiceRequest) int {
	n := 0
	for _, rm := range req.GetResourceMetrics() {
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				n += len(m.GetGauge().GetDataPoints())
			}
		}
	}
	return n
}

func gauge(name, unit, description string) *metricspb.Metric {
	return &metricspb.Metric{
		Name:        name,
		Unit:        unit,
		Description: description,
		Data:        &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{}},
	}
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

func doubleAttr(key string, value float64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: value}},
	}
}
