// Package turn defines the shared vocabulary of a single conversational turn:
// reason codes, resolver decisions, the turn request/outcome pair, and the
// transient per-turn reasoning cycle state.
//
// Every other engine package depends on this one; it depends on nothing but
// the standard library.
package turn

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Reason Codes
// =============================================================================

// ReasonCode is the fixed vocabulary under which audit entries and turn
// outcomes are classified - exactly one terminal code per turn.
type ReasonCode string

const (
	// ReasonActionNotFound indicates the model named an action absent from
	// the catalog (hallucination guard).
	ReasonActionNotFound ReasonCode = "action-not-found"
	// ReasonMissingParameter indicates required parameters were absent.
	ReasonMissingParameter ReasonCode = "missing-parameter"
	// ReasonConfidenceFloorApplied indicates the policy cap reduced the
	// model's claimed confidence. Non-blocking.
	ReasonConfidenceFloorApplied ReasonCode = "confidence-floor-applied"
	// ReasonCritiqueTriggered indicates a second-pass critique was invoked.
	ReasonCritiqueTriggered ReasonCode = "critique-triggered"
	// ReasonCritiqueSkipped indicates the gate found no risk signal.
	ReasonCritiqueSkipped ReasonCode = "critique-skipped"
	// ReasonAwaitingConfirmation indicates a pending intent was stored and
	// the user was asked to confirm.
	ReasonAwaitingConfirmation ReasonCode = "awaiting-confirmation"
	// ReasonEscalated indicates the turn was handed to a human operator.
	ReasonEscalated ReasonCode = "escalated"
	// ReasonExecutedSuccessfully indicates a tool action ran and succeeded.
	ReasonExecutedSuccessfully ReasonCode = "executed-successfully"
	// ReasonRespondedSuccessfully indicates a plain response turn with no
	// tool action.
	ReasonRespondedSuccessfully ReasonCode = "responded-successfully"
	// ReasonConfirmationReceived indicates a stored pending intent was
	// matched and consumed.
	ReasonConfirmationReceived ReasonCode = "confirmation-received"
)

// =============================================================================
// Resolver Decisions
// =============================================================================

// Decision is a resolver state. The critique engine produces one per verdict;
// the decision resolver consumes it.
type Decision string

const (
	DecisionProceed  Decision = "PROCEED"
	DecisionRetry    Decision = "RETRY"
	DecisionAskUser  Decision = "ASK_USER"
	DecisionEscalate Decision = "ESCALATE"
)

// ParseDecision normalizes a raw decision string. Unknown values coerce to
// ASK_USER so a malformed critique payload can never green-light an action.
func ParseDecision(value string) (Decision, bool) {
	switch Decision(strings.ToUpper(strings.TrimSpace(value))) {
	case DecisionProceed:
		return DecisionProceed, true
	case DecisionRetry:
		return DecisionRetry, true
	case DecisionAskUser:
		return DecisionAskUser, true
	case DecisionEscalate:
		return DecisionEscalate, true
	default:
		return DecisionAskUser, false
	}
}

// =============================================================================
// Request / Outcome
// =============================================================================

// HistoryEntry is one prior exchange provided as context for a turn.
type HistoryEntry struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request describes one inbound user message.
type Request struct {
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id"`
	Message        string         `json:"message"`
	History        []HistoryEntry `json:"history,omitempty"`
}

// Validate checks the minimum shape of a request.
func (r *Request) Validate() error {
	if r.ConversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// Metrics captures per-turn counters surfaced with the outcome.
type Metrics struct {
	CritiqueTriggered bool `json:"critique_triggered"`
	ContextFetchCount int  `json:"context_fetch_count"`
	LLMCalls          int  `json:"llm_calls"`
	TokensIn          int  `json:"tokens_in"`
	TokensOut         int  `json:"tokens_out"`
}

// Outcome is the structured result of one turn - exactly one per request.
type Outcome struct {
	TurnID       string         `json:"turn_id"`
	Response     string         `json:"response"`
	ToolExecuted bool           `json:"tool_executed"`
	ToolResult   map[string]any `json:"tool_result,omitempty"`
	ReasonCode   ReasonCode     `json:"reason_code"`
	Escalated    bool           `json:"escalated"`
	Metrics      Metrics        `json:"metrics"`
}

// =============================================================================
// Reasoning Cycle
// =============================================================================

// Cycle is the transient per-turn reasoning state. It is plain counter state,
// never persisted beyond audit entries, and is the mechanism that makes the
// engine's termination guarantee checkable: three independent caps (context
// fetches, critique attempts, the single retry) bound every turn.
type Cycle struct {
	TurnID            string
	StartedAt         time.Time
	MaxContextFetches int

	ContextFetchCount int
	RetryUsed         bool
	CritiqueTriggered bool
	ModelCalls        int
	TokensIn          int
	TokensOut         int
}

// NewCycle creates cycle state for one turn.
func NewCycle(turnID string, maxContextFetches int) *Cycle {
	return &Cycle{
		TurnID:            turnID,
		StartedAt:         time.Now().UTC(),
		MaxContextFetches: maxContextFetches,
	}
}

// RecordModelCall accumulates one gateway call's token usage.
func (c *Cycle) RecordModelCall(tokensIn, tokensOut int) {
	c.ModelCalls++
	c.TokensIn += tokensIn
	c.TokensOut += tokensOut
}

// CanFetchContext reports whether another augmentation iteration is allowed.
func (c *Cycle) CanFetchContext() bool {
	return c.ContextFetchCount < c.MaxContextFetches
}

// UseRetry consumes the single retry allowance. Returns false if it was
// already spent; the caller must then convert RETRY to ESCALATE.
func (c *Cycle) UseRetry() bool {
	if c.RetryUsed {
		return false
	}
	c.RetryUsed = true
	return true
}

// Metrics snapshots the cycle into outcome metrics.
func (c *Cycle) Metrics() Metrics {
	return Metrics{
		CritiqueTriggered: c.CritiqueTriggered,
		ContextFetchCount: c.ContextFetchCount,
		LLMCalls:          c.ModelCalls,
		TokensIn:          c.TokensIn,
		TokensOut:         c.TokensOut,
	}
}
