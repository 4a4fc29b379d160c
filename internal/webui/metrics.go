package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tobert/cruxview/internal/crux"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds the Prometheus collectors for the HTTP surface and the
// upstream CrUX calls.
type Metrics struct {
	gatherer        prometheus.Gatherer
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// NewMetrics registers collectors on reg. A nil reg uses the default
// registry. Registering twice on one registry reuses the existing collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	m := &Metrics{
		gatherer: gatherer,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cruxview",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cruxview",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cruxview",
			Subsystem: "crux",
			Name:      "queries_total",
			Help:      "CrUX API queries by outcome",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cruxview",
			Subsystem: "crux",
			Name:      "query_duration_seconds",
			Help:      "Latency distribution of CrUX API queries",
			Buckets:   histogramBuckets,
		}, []string{"outcome"}),
	}

	m.requestTotal = register(registerer, m.requestTotal)
	m.requestDuration = register(registerer, m.requestDuration)
	m.upstreamTotal = register(registerer, m.upstreamTotal)
	m.upstreamLatency = register(registerer, m.upstreamLatency)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, r)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		m.requestTotal.With(labels).Inc()
		m.requestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Fetcher wraps f so every query is counted and timed.
func (m *Metrics) Fetcher(f crux.Fetcher) crux.Fetcher {
	if m == nil || f == nil {
		return f
	}
	return &instrumentedFetcher{next: f, metrics: m}
}

type instrumentedFetcher struct {
	next    crux.Fetcher
	metrics *Metrics
}

func (i *instrumentedFetcher) QueryRecord(ctx context.Context, origin string) (json.RawMessage, error) {
	start := time.Now()
	body, err := i.next.QueryRecord(ctx, origin)
	outcome := outcomeOf(err)
	i.metrics.upstreamTotal.WithLabelValues(outcome).Inc()
	i.metrics.upstreamLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return body, err
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *crux.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.NotFound():
		return "not_found"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transport_error"
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
