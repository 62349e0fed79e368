package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "adminpilot"

// Package-level collectors, registered with the default registry by promauto
// and served on /metrics.
var (
	// Labels: method, route, status.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	// Labels: tool, outcome ("success", "failure", "rejected", "pending").
	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_executions_total",
			Help:      "Tool invocations by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_duration_seconds",
			Help:      "Tool handler latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"tool"},
	)

	// Labels: status ("success" or "error").
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Model provider calls by status.",
		},
		[]string{"status"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Model provider latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	// Labels: error_type ("rate_limit", "quota", "timeout", "auth", "server", "unknown").
	llmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Model provider errors by type.",
		},
		[]string{"error_type"},
	)

	// Labels: direction ("prompt" or "completion").
	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model provider.",
		},
		[]string{"direction"},
	)

	// Labels: source.
	contextSourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "context_source_failures_total",
			Help:      "Context sources that failed or timed out while building a snapshot.",
		},
		[]string{"source"},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Action records that could not be persisted.",
		},
	)

	// Labels: outcome ("created", "confirmed", "discarded", "expired", "unknown", "purged").
	pendingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "pending_actions_total",
			Help:      "Destructive actions held for confirmation, by outcome.",
		},
		[]string{"outcome"},
	)
)

// RecordHTTPRequest records one served request. route is the chi route
// pattern, never the raw path.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordToolExecution records one tool invocation. d is zero for invocations
// that never reached a handler.
func RecordToolExecution(tool, outcome string, d time.Duration) {
	toolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	if d > 0 {
		toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// RecordLLMRequest records a completed model call. errorType is empty on success.
func RecordLLMRequest(d time.Duration, promptTokens, completionTokens int, errorType string) {
	status := "success"
	if errorType != "" {
		status = "error"
		llmErrorsTotal.WithLabelValues(errorType).Inc()
	}
	llmRequestsTotal.WithLabelValues(status).Inc()
	llmRequestDuration.WithLabelValues(status).Observe(d.Seconds())
	if errorType == "" {
		llmTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
		llmTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

func RecordContextSourceFailure(source string) {
	contextSourceFailures.WithLabelValues(source).Inc()
}

func RecordAuditWriteFailure() {
	auditWriteFailures.Inc()
}

func RecordPendingAction(outcome string) {
	pendingActionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPendingPurged counts pending actions removed by the retention sweep.
func RecordPendingPurged(n int) {
	if n > 0 {
		pendingActionsTotal.WithLabelValues("purged").Add(float64(n))
	}
}
