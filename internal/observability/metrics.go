// Package observability collects Prometheus metrics for the engine:
// message outcomes, rate limiting, reasoning retries and action
// executions. All metrics register against the default registry and are
// exposed by the /metrics handler.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the engine's metric set. It satisfies the session layer's
// Metrics interface.
type Metrics struct {
	// MessageCounter counts processed messages by final outcome
	// (complete, clarifying, rate_limited, errored, disconnected).
	MessageCounter *prometheus.CounterVec

	// MessageDuration measures end-to-end message handling in seconds.
	// Labels: outcome
	MessageDuration *prometheus.HistogramVec

	// RateLimitCounter counts messages rejected by the rate limiter.
	RateLimitCounter prometheus.Counter

	// ReasoningRetryCounter counts retried reasoning calls by operation.
	ReasoningRetryCounter *prometheus.CounterVec

	// ActionCounter counts action executions by action name and status.
	ActionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		MessageCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_messages_total",
				Help: "Total number of messages processed by outcome",
			},
			[]string{"outcome"},
		),

		MessageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_message_duration_seconds",
				Help:    "End-to-end message handling duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		RateLimitCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_rate_limited_total",
				Help: "Total number of messages rejected by the rate limiter",
			},
		),

		ReasoningRetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_reasoning_retries_total",
				Help: "Total number of retried reasoning backend calls by operation",
			},
			[]string{"operation"},
		),

		ActionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_action_executions_total",
				Help: "Total number of action executions by name and status",
			},
			[]string{"action", "status"},
		),
	}
}

// MessageProcessed records one finished message.
func (m *Metrics) MessageProcessed(outcome string, d time.Duration) {
	m.MessageCounter.WithLabelValues(outcome).Inc()
	m.MessageDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RateLimited records one rejected message.
func (m *Metrics) RateLimited() {
	m.RateLimitCounter.Inc()
}

// ReasoningRetried records one retried reasoning call.
func (m *Metrics) ReasoningRetried(operation string) {
	m.ReasoningRetryCounter.WithLabelValues(operation).Inc()
}

// ActionExecuted records one action execution.
func (m *Metrics) ActionExecuted(action, status string) {
	m.ActionCounter.WithLabelValues(action, status).Inc()
}
