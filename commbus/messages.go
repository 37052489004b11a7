// Package commbus message definitions.
//
// All message types the engine publishes are defined here, organized by
// domain. Categories:
//   - EVENT: fire-and-forget, fan-out to subscribers
//   - QUERY: request-response, single handler
//   - COMMAND: fire-and-forget, single handler
package commbus

import (
	"fmt"
	"time"
)

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// TURN LIFECYCLE EVENTS
// =============================================================================

// TurnStarted is emitted when the orchestrator accepts a turn.
// Subscribers: telemetry, trace logging.
type TurnStarted struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	TenantID       string    `json:"tenant_id"`
	StartedAt      time.Time `json:"started_at"`
}

// Category implements the Message interface.
func (m *TurnStarted) Category() string { return string(MessageCategoryEvent) }

// AssessmentExtracted is emitted after each model response is parsed.
// Subscribers: telemetry, trace logging.
type AssessmentExtracted struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	HasAssessment  bool   `json:"has_assessment"`
	ParseFailed    bool   `json:"parse_failed"`
	Action         string `json:"action,omitempty"`
	Confidence     int    `json:"confidence,omitempty"`
}

// Category implements the Message interface.
func (m *AssessmentExtracted) Category() string { return string(MessageCategoryEvent) }

// PolicyBlocked is emitted when enforcement refuses a proposed action.
// Subscribers: telemetry, audit.
type PolicyBlocked struct {
	TurnID         string   `json:"turn_id"`
	ConversationID string   `json:"conversation_id"`
	Action         string   `json:"action"`
	Reason         string   `json:"reason"`
	MissingParams  []string `json:"missing_params,omitempty"`
}

// Category implements the Message interface.
func (m *PolicyBlocked) Category() string { return string(MessageCategoryEvent) }

// CritiqueCompleted is emitted after the critique engine returns a verdict,
// synthesized or not.
type CritiqueCompleted struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Decision       string `json:"decision"`
	Synthesized    bool   `json:"synthesized"`
	Attempts       int    `json:"attempts"`
}

// Category implements the Message interface.
func (m *CritiqueCompleted) Category() string { return string(MessageCategoryEvent) }

// IntentStored is emitted when a pending intent is written for later
// confirmation.
type IntentStored struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Action         string `json:"action"`
	Hash           string `json:"hash"`
}

// Category implements the Message interface.
func (m *IntentStored) Category() string { return string(MessageCategoryEvent) }

// IntentConfirmed is emitted when a stored intent is consumed by an
// affirmative reply.
type IntentConfirmed struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Action         string `json:"action"`
	Hash           string `json:"hash"`
}

// Category implements the Message interface.
func (m *IntentConfirmed) Category() string { return string(MessageCategoryEvent) }

// ActionExecuted is emitted after a tool runs, whether it succeeded or not.
// Subscribers: telemetry, audit.
type ActionExecuted struct {
	TurnID         string        `json:"turn_id"`
	ConversationID string        `json:"conversation_id"`
	Action         string        `json:"action"`
	Success        bool          `json:"success"`
	Duration       time.Duration `json:"duration"`
}

// Category implements the Message interface.
func (m *ActionExecuted) Category() string { return string(MessageCategoryEvent) }

// EscalationRaised is emitted when a turn is handed to a human channel.
type EscalationRaised struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id"`
	Reason         string `json:"reason"`
}

// Category implements the Message interface.
func (m *EscalationRaised) Category() string { return string(MessageCategoryEvent) }

// TurnCompleted is emitted when the orchestrator finishes a turn, on every
// path including degraded ones.
type TurnCompleted struct {
	TurnID         string        `json:"turn_id"`
	ConversationID string        `json:"conversation_id"`
	ReasonCode     string        `json:"reason_code"`
	Escalated      bool          `json:"escalated"`
	ModelCalls     int           `json:"model_calls"`
	Duration       time.Duration `json:"duration"`
}

// Category implements the Message interface.
func (m *TurnCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// AUDIT EVENTS
// =============================================================================

// AuditRecorded is emitted for every audit entry appended through the bus
// sink. Carries the headline fields only; the full entry lives in the log.
type AuditRecorded struct {
	EntryID        string `json:"entry_id"`
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Stage          string `json:"stage"`
	Reason         string `json:"reason,omitempty"`
}

// Category implements the Message interface.
func (m *AuditRecorded) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// QUERIES
// =============================================================================

// CatalogSnapshotQuery requests the action names registered for a tenant.
// Used by operational tooling over the bus.
type CatalogSnapshotQuery struct {
	TenantID string `json:"tenant_id"`
}

// Category implements the Message interface.
func (m *CatalogSnapshotQuery) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *CatalogSnapshotQuery) IsQuery() {}

// CatalogSnapshotResponse is the response to CatalogSnapshotQuery.
type CatalogSnapshotResponse struct {
	TenantID string   `json:"tenant_id"`
	Actions  []string `json:"actions"`
}

// =============================================================================
// COMMANDS
// =============================================================================

// SweepIntentsCommand tells the intent store to drop expired entries.
type SweepIntentsCommand struct {
	RequestedAt time.Time `json:"requested_at"`
}

// Category implements the Message interface.
func (m *SweepIntentsCommand) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// MESSAGE TYPE RESOLUTION
// =============================================================================

// TypedMessage lets a message declare its own type string, bypassing the
// static mapping below.
type TypedMessage interface {
	MessageType() string
}

// GetMessageType returns the canonical type string used for subscription and
// handler registration.
func GetMessageType(message Message) string {
	if typed, ok := message.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch message.(type) {
	case *TurnStarted:
		return "turn.started"
	case *AssessmentExtracted:
		return "turn.assessment_extracted"
	case *PolicyBlocked:
		return "turn.policy_blocked"
	case *CritiqueCompleted:
		return "turn.critique_completed"
	case *IntentStored:
		return "turn.intent_stored"
	case *IntentConfirmed:
		return "turn.intent_confirmed"
	case *ActionExecuted:
		return "turn.action_executed"
	case *EscalationRaised:
		return "turn.escalation_raised"
	case *TurnCompleted:
		return "turn.completed"
	case *AuditRecorded:
		return "audit.recorded"
	case *CatalogSnapshotQuery:
		return "catalog.snapshot"
	case *SweepIntentsCommand:
		return "intents.sweep"
	default:
		return fmt.Sprintf("%T", message)
	}
}
