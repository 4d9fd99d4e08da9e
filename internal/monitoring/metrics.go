package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Tracing metrics
	SpansStarted    prometheus.Counter
	SpansFinished   *prometheus.CounterVec
	SpanDuration    *prometheus.HistogramVec
	ActiveSpans     prometheus.Gauge
	TracesCompleted prometheus.Counter
	SpansDropped    prometheus.Counter

	// Rate limit metrics
	RateLimitChecks   *prometheus.CounterVec
	RateLimitFailOpen prometheus.Counter

	// Store metrics
	StoreErrors *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsconductor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsconductor_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SpansStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsconductor_tracing_spans_started_total",
				Help: "Total number of spans started",
			},
		),
		SpansFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsconductor_tracing_spans_finished_total",
				Help: "Total number of spans finished",
			},
			[]string{"status"},
		),
		SpanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsconductor_tracing_span_duration_seconds",
				Help:    "Span duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "kind"},
		),
		ActiveSpans: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsconductor_tracing_active_spans",
				Help: "Number of spans currently open",
			},
		),
		TracesCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsconductor_tracing_traces_completed_total",
				Help: "Total number of traces detected complete",
			},
		),
		SpansDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsconductor_tracing_spans_dropped_total",
				Help: "Total number of spans not persisted due to store errors",
			},
		),

		RateLimitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsconductor_ratelimit_checks_total",
				Help: "Total number of rate limit checks",
			},
			[]string{"policy", "result"},
		),
		RateLimitFailOpen: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsconductor_ratelimit_fail_open_total",
				Help: "Total number of checks allowed because the store was unavailable",
			},
		),

		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsconductor_store_errors_total",
				Help: "Total number of store operation failures",
			},
			[]string{"operation"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsconductor_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	return m
}

// Handler returns an http.Handler serving this collector's registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSpanStarted records a span entering the active set
func (m *Metrics) RecordSpanStarted() {
	m.SpansStarted.Inc()
	m.ActiveSpans.Inc()
}

// RecordSpanFinished records a span leaving the active set
func (m *Metrics) RecordSpanFinished(service, kind, status string, duration time.Duration) {
	m.SpansFinished.WithLabelValues(status).Inc()
	m.SpanDuration.WithLabelValues(service, kind).Observe(duration.Seconds())
	m.ActiveSpans.Dec()
}

// RecordTraceCompleted records a trace detected complete
func (m *Metrics) RecordTraceCompleted() {
	m.TracesCompleted.Inc()
}

// RecordSpanDropped records a span lost to a store failure
func (m *Metrics) RecordSpanDropped() {
	m.SpansDropped.Inc()
}

// RecordRateLimitCheck records a rate limit decision
func (m *Metrics) RecordRateLimitCheck(policy, result string) {
	m.RateLimitChecks.WithLabelValues(policy, result).Inc()
}

// RecordRateLimitFailOpen records a check allowed due to store failure
func (m *Metrics) RecordRateLimitFailOpen() {
	m.RateLimitFailOpen.Inc()
}

// RecordStoreError records a store operation failure
func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// UpdateUptime refreshes the uptime gauge
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
