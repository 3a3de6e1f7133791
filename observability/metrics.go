// Package observability is the ambient tracing/metrics layer: one span
// per provider turn and per tool dispatch, and a small set of Prometheus
// counters/histograms for turns, tool calls, and token usage. Grounded on
// the teacher's pkg/observability package, scaled to what the reply loop
// (C8) and agent manager (C9) actually emit.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the runtime emits to. A nil
// *Metrics is valid and every Record* method on it is a no-op, so callers
// that don't want metrics can pass nil instead of branching.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrorsTotal  *prometheus.CounterVec
	tokensInput      *prometheus.CounterVec
	tokensOutput     *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	agentsEvicted    prometheus.Counter
}

// NewMetrics constructs a Metrics instance registered against a fresh
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goose", Subsystem: "reply", Name: "turns_total",
		Help: "Total number of reply-loop turns.",
	}, []string{"model"})

	m.turnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "goose", Subsystem: "reply", Name: "turn_duration_seconds",
		Help: "Duration of one provider call plus its tool round-trip.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"model"})

	m.toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goose", Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool dispatches.",
	}, []string{"tool_name"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "goose", Subsystem: "tool", Name: "call_duration_seconds",
		Help: "Tool dispatch duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name"})

	m.toolErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goose", Subsystem: "tool", Name: "errors_total",
		Help: "Total number of failed tool dispatches.",
	}, []string{"tool_name", "kind"})

	m.tokensInput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goose", Subsystem: "llm", Name: "tokens_input_total",
		Help: "Total input tokens consumed.",
	}, []string{"model"})

	m.tokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goose", Subsystem: "llm", Name: "tokens_output_total",
		Help: "Total output tokens generated.",
	}, []string{"model"})

	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goose", Subsystem: "agentmgr", Name: "sessions_active",
		Help: "Number of sessions currently cached in the agent manager.",
	})

	m.agentsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "goose", Subsystem: "agentmgr", Name: "evictions_total",
		Help: "Total number of agents evicted from the LRU cache.",
	})

	m.registry.MustRegister(
		m.turnsTotal, m.turnDuration, m.toolCallsTotal, m.toolCallDuration,
		m.toolErrorsTotal, m.tokensInput, m.tokensOutput, m.sessionsActive, m.agentsEvicted,
	)
	return m
}

// RecordTurn records one completed reply-loop turn.
func (m *Metrics) RecordTurn(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(model).Inc()
	m.turnDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordToolCall records one tool dispatch.
func (m *Metrics) RecordToolCall(toolName string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

// RecordToolError records one failed tool dispatch.
func (m *Metrics) RecordToolError(toolName, kind string) {
	if m == nil {
		return
	}
	m.toolErrorsTotal.WithLabelValues(toolName, kind).Inc()
}

// RecordTokens records input/output token usage for one provider call.
func (m *Metrics) RecordTokens(model string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.tokensInput.WithLabelValues(model).Add(float64(input))
	}
	if output > 0 {
		m.tokensOutput.WithLabelValues(model).Add(float64(output))
	}
}

// SetSessionsActive sets the agent manager's active session gauge.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// RecordEviction records one LRU eviction.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.agentsEvicted.Inc()
}

// Handler returns an HTTP handler exposing the registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
