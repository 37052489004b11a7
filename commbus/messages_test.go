package commbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// MESSAGE TYPE RESOLUTION
// =============================================================================

func TestGetMessageTypeStaticMapping(t *testing.T) {
	cases := []struct {
		message  Message
		expected string
	}{
		{&TurnStarted{}, "turn.started"},
		{&AssessmentExtracted{}, "turn.assessment_extracted"},
		{&PolicyBlocked{}, "turn.policy_blocked"},
		{&CritiqueCompleted{}, "turn.critique_completed"},
		{&IntentStored{}, "turn.intent_stored"},
		{&IntentConfirmed{}, "turn.intent_confirmed"},
		{&ActionExecuted{}, "turn.action_executed"},
		{&EscalationRaised{}, "turn.escalation_raised"},
		{&TurnCompleted{}, "turn.completed"},
		{&AuditRecorded{}, "audit.recorded"},
		{&CatalogSnapshotQuery{}, "catalog.snapshot"},
		{&SweepIntentsCommand{}, "intents.sweep"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, GetMessageType(tc.message))
	}
}

type customTypedMessage struct{}

func (m *customTypedMessage) Category() string    { return "event" }
func (m *customTypedMessage) MessageType() string { return "custom.typed" }

func TestGetMessageTypeHonorsTypedMessage(t *testing.T) {
	assert.Equal(t, "custom.typed", GetMessageType(&customTypedMessage{}))
}

type unknownMessage struct{}

func (m *unknownMessage) Category() string { return "event" }

func TestGetMessageTypeFallsBackToTypeName(t *testing.T) {
	assert.Contains(t, GetMessageType(&unknownMessage{}), "unknownMessage")
}

// =============================================================================
// CATEGORIES
// =============================================================================

func TestEventCategories(t *testing.T) {
	events := []Message{
		&TurnStarted{},
		&AssessmentExtracted{},
		&PolicyBlocked{},
		&CritiqueCompleted{},
		&IntentStored{},
		&IntentConfirmed{},
		&ActionExecuted{},
		&EscalationRaised{},
		&TurnCompleted{},
		&AuditRecorded{},
	}
	for _, e := range events {
		assert.Equal(t, "event", e.Category())
	}
}

func TestQueryCategory(t *testing.T) {
	q := &CatalogSnapshotQuery{}
	assert.Equal(t, "query", q.Category())

	// Compile-time check that it satisfies Query.
	var _ Query = q
}

func TestCommandCategory(t *testing.T) {
	c := &SweepIntentsCommand{}
	assert.Equal(t, "command", c.Category())
}
