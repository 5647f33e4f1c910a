// Package metrics exposes the gateway's Prometheus instrumentation: request and
// provider call counters/histograms, active-stream gauge, and tool execution stats.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the gateway registers.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestCounter  *prometheus.CounterVec

	ProviderRequestDuration *prometheus.HistogramVec
	ProviderRequestCounter  *prometheus.CounterVec

	ToolExecutionDuration *prometheus.HistogramVec
	ToolExecutionCounter  *prometheus.CounterVec

	ActiveStreams prometheus.Gauge

	CheckpointCounter prometheus.Counter
}

// New registers and returns a fresh set of collectors against the default registry.
func New() *Metrics {
	return &Metrics{
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_gateway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "path", "status"}),

		HTTPRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_gateway_http_requests_total",
			Help: "Total HTTP requests.",
		}, []string{"method", "path", "status"}),

		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_gateway_provider_request_duration_seconds",
			Help:    "Upstream provider request latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		ProviderRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_gateway_provider_requests_total",
			Help: "Total upstream provider requests.",
		}, []string{"provider", "model", "status"}),

		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_gateway_tool_execution_duration_seconds",
			Help:    "Tool-call execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),

		ToolExecutionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_gateway_tool_executions_total",
			Help: "Total tool-call executions.",
		}, []string{"tool", "status"}),

		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_gateway_active_streams",
			Help: "Number of in-flight SSE streams.",
		}),

		CheckpointCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nexus_gateway_checkpoints_total",
			Help: "Total draft-message checkpoint writes.",
		}),
	}
}

// ObserveHTTP records one completed HTTP request.
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
	m.HTTPRequestCounter.WithLabelValues(method, path, status).Inc()
}

// ObserveProvider records one completed upstream provider call.
func (m *Metrics) ObserveProvider(provider, model, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
}

// ObserveTool records one completed tool-call execution.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
}
