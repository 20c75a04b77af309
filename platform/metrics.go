package platform

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "relaychat"

// Metrics holds the Prometheus collectors of the server. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests    *prometheus.CounterVec
	relayActive      prometheus.Gauge
	relayFrames      *prometheus.CounterVec
	relayDuration    prometheus.Histogram
	persistFailures  *prometheus.CounterVec
	titleGenerations *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		relayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay invocations by outcome.",
		}, []string{"outcome"}),
		relayActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "active_streams",
			Help:      "Streams currently relaying model output.",
		}),
		relayFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames produced for clients by frame type.",
		}, []string{"type"}),
		relayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "stream_duration_seconds",
			Help:      "Time from model invocation to finalization.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "persist_failures_total",
			Help:      "Failed message writes by stage.",
		}, []string{"stage"}),
		titleGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "title_generations_total",
			Help:      "Background title generations by status.",
		}, []string{"status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "llm",
			Name:      "tool_calls_total",
			Help:      "Tool invocations requested by the model.",
		}, []string{"tool", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
	}

	registry.MustRegister(
		m.relayRequests,
		m.relayActive,
		m.relayFrames,
		m.relayDuration,
		m.persistFailures,
		m.titleGenerations,
		m.toolCalls,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.relayActive.Inc()
}

func (m *Metrics) StreamFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.relayActive.Dec()
	m.relayRequests.WithLabelValues(outcome).Inc()
	m.relayDuration.Observe(d.Seconds())
}

func (m *Metrics) RelayRejected(reason string) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(reason).Inc()
}

func (m *Metrics) Frame(frameType string) {
	if m == nil {
		return
	}
	m.relayFrames.WithLabelValues(frameType).Inc()
}

func (m *Metrics) PersistFailed(stage string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) TitleGenerated(ok bool) {
	if m == nil {
		return
	}
	m.titleGenerations.WithLabelValues(status(ok)).Inc()
}

func (m *Metrics) ToolCalled(tool string, ok bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status(ok)).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, httpCode(code)).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
