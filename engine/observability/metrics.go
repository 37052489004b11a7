// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// TURN METRICS
// =============================================================================

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_turns_total",
			Help: "Total number of turns processed",
		},
		[]string{"tenant", "reason_code"},
	)

	turnDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnguard_turn_duration_seconds",
			Help:    "Turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tenant"},
	)

	turnModelCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnguard_turn_model_calls",
			Help:    "Model calls made per turn",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
		[]string{"tenant"},
	)
)

// =============================================================================
// DECISION METRICS
// =============================================================================

var (
	critiqueVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_critique_verdicts_total",
			Help: "Critique verdicts by decision, including synthesized ones",
		},
		[]string{"decision", "synthesized"},
	)

	policyBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_policy_blocks_total",
			Help: "Assessments blocked by policy enforcement",
		},
		[]string{"reason"},
	)

	escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_escalations_total",
			Help: "Turns escalated to a human channel",
		},
		[]string{"tenant", "reason"},
	)

	confirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_confirmations_total",
			Help: "Pending intent confirmation outcomes",
		},
		[]string{"outcome"}, // confirmed, expired, absent
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_llm_calls_total",
			Help: "Total number of model calls",
		},
		[]string{"purpose", "status"}, // purpose: turn, critique, clarify
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnguard_llm_duration_seconds",
			Help:    "Model call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"purpose"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_llm_tokens_total",
			Help: "Tokens consumed by model calls",
		},
		[]string{"purpose", "direction"}, // direction: in, out
	)
)

// =============================================================================
// TOOL METRICS
// =============================================================================

var (
	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"action", "status"},
	)

	toolDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnguard_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"action"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnguard_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"},
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnguard_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordTurn records per-turn metrics after a turn completes.
func RecordTurn(tenant, reasonCode string, modelCalls int, durationMS int) {
	turnsTotal.WithLabelValues(tenant, reasonCode).Inc()
	turnDurationSeconds.WithLabelValues(tenant).Observe(float64(durationMS) / 1000.0)
	turnModelCalls.WithLabelValues(tenant).Observe(float64(modelCalls))
}

// RecordCritiqueVerdict records a critique decision.
func RecordCritiqueVerdict(decision string, synthesized bool) {
	label := "false"
	if synthesized {
		label = "true"
	}
	critiqueVerdictsTotal.WithLabelValues(decision, label).Inc()
}

// RecordPolicyBlock records an enforcement block by reason code.
func RecordPolicyBlock(reason string) {
	policyBlocksTotal.WithLabelValues(reason).Inc()
}

// RecordEscalation records an escalated turn.
func RecordEscalation(tenant, reason string) {
	escalationsTotal.WithLabelValues(tenant, reason).Inc()
}

// RecordConfirmation records a pending intent consumption outcome.
func RecordConfirmation(outcome string) {
	confirmationsTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMCall records model call metrics.
func RecordLLMCall(purpose, status string, durationMS int, tokensIn, tokensOut int) {
	llmCallsTotal.WithLabelValues(purpose, status).Inc()
	llmDurationSeconds.WithLabelValues(purpose).Observe(float64(durationMS) / 1000.0)
	if tokensIn > 0 {
		llmTokensTotal.WithLabelValues(purpose, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		llmTokensTotal.WithLabelValues(purpose, "out").Add(float64(tokensOut))
	}
}

// RecordToolExecution records tool execution metrics.
func RecordToolExecution(action, status string, durationMS int) {
	toolExecutionsTotal.WithLabelValues(action, status).Inc()
	toolDurationSeconds.WithLabelValues(action).Observe(float64(durationMS) / 1000.0)
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
