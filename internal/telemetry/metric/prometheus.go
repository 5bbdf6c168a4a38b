package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "toolhost"

// Registry holds all server metrics.
type Registry struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ToolCalls         *prometheus.CounterVec
	HookDuration      *prometheus.HistogramVec
	TelemetryFlushes  *prometheus.CounterVec
	HandshakeFailures prometheus.Counter
	ResidentMemory    prometheus.Gauge
}

// New creates a registry with the server metrics and the Go and process
// collectors registered.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method and status code.",
		}, []string{"method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool invocations, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		HookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "hook_duration_seconds",
			Help:      "Time spent in each shutdown hook.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"hook", "result"}),
		TelemetryFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "flushed_total",
			Help:      "Records or snapshots persisted by the telemetry writers.",
		}, []string{"store"}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_failures_total",
			Help:      "TLS handshakes that failed or timed out.",
		}),
		ResidentMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "resident_bytes",
			Help:      "Resident set size sampled by the memory monitor.",
		}),
	}

	r.registry.MustRegister(
		r.RequestsTotal,
		r.RequestDuration,
		r.ToolCalls,
		r.HookDuration,
		r.TelemetryFlushes,
		r.HandshakeFailures,
		r.ResidentMemory,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Prometheus returns the underlying registry for components that register
// their own collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// GaugeFunc registers a gauge whose value is read at scrape time.
func (r *Registry) GaugeFunc(subsystem, name, help string, fn func() float64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// CounterFunc registers a counter whose value is read at scrape time.
func (r *Registry) CounterFunc(subsystem, name, help string, fn func() float64) {
	r.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveRequest records one finished HTTP request.
func (r *Registry) ObserveRequest(method string, code int, d time.Duration) {
	r.RequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveToolCall records a tool outcome.
func (r *Registry) ObserveToolCall(tool string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	r.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveHook records a shutdown hook result.
func (r *Registry) ObserveHook(name string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.HookDuration.WithLabelValues(name, result).Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
