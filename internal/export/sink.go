package export

import (
	"context"
	"fmt"
	"io"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
)

// WriteJSONL appends req to w as one MetricsData line, the layout the
// OpenTelemetry Collector file exporter writes.
func WriteJSONL(w io.Writer, req *collectormetrics.ExportMetricsServiceRequest) error {
	data := &metricspb.MetricsData{ResourceMetrics: req.GetResourceMetrics()}
	line, err := protojson.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Pusher sends export requests to an OTLP/gRPC collector.
type Pusher struct {
	conn    *grpc.ClientConn
	client  collectormetrics.MetricsServiceClient
	timeout time.Duration
}

// Dial connects to a collector at endpoint (host:port). The connection is
// plaintext, matching a local collector sidecar.
func Dial(endpoint string, timeout time.Duration) (*Pusher, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", endpoint, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pusher{
		conn:    conn,
		client:  collectormetrics.NewMetricsServiceClient(conn),
		timeout: timeout,
	}, nil
}

// Push exports req. A partial success with rejected points is an error.
func (p *Pusher) Push(ctx context.Context, req *collectormetrics.ExportMetricsServiceRequest) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("export metrics: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedDataPoints() > 0 {
		return fmt.Errorf("collector rejected %d data points: %s", ps.GetRejectedDataPoints(), ps.GetErrorMessage())
	}
	return nil
}

// Close releases the connection.
func (p *Pusher) Close() error {
	return p.conn.Close()
}
