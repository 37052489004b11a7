package critique_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayline/turnguard/engine/assessment"
	"github.com/relayline/turnguard/engine/catalog"
	"github.com/relayline/turnguard/engine/critique"
	"github.com/relayline/turnguard/engine/testutil"
	"github.com/relayline/turnguard/engine/turn"
)

// =============================================================================
// VERDICT PARSING
// =============================================================================

func TestParseVerdictProceed(t *testing.T) {
	v, err := critique.ParseVerdict(`{"decision": "PROCEED", "reasoning": "looks right"}`)
	require.NoError(t, err)
	assert.Equal(t, turn.DecisionProceed, v.Decision)
	assert.Equal(t, "looks right", v.Reasoning)
	assert.False(t, v.Synthesized)
}

func TestParseVerdictFullPayload(t *testing.T) {
	raw := `{
		"decision": "RETRY",
		"reasoning": "wrong action",
		"understanding": {"correct": false, "misunderstanding": "user wants status, not cancellation", "what_user_wants": "order status"},
		"choice": {"correct": false, "suggested": "track_order"},
		"execution": {"issues": ["order_id unverified"]}
	}`
	v, err := critique.ParseVerdict(raw)
	require.NoError(t, err)
	assert.Equal(t, turn.DecisionRetry, v.Decision)
	require.NotNil(t, v.Understanding)
	assert.False(t, v.Understanding.Correct)
	require.NotNil(t, v.Choice)
	assert.Equal(t, "track_order", v.Choice.Suggested)
	assert.Equal(t, []string{"order_id unverified"}, v.Issues())

	c := v.Correction()
	assert.Equal(t, "wrong action", c.Reasoning)
	assert.Equal(t, "order status", c.WhatUserWants)
	assert.Equal(t, "track_order", c.SuggestedAction)
}

func TestParseVerdictStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"decision\": \"ASK_USER\", \"reasoning\": \"ambiguous\"}\n```"
	v, err := critique.ParseVerdict(raw)
	require.NoError(t, err)
	assert.Equal(t, turn.DecisionAskUser, v.Decision)
}

func TestParseVerdictCaseInsensitiveDecision(t *testing.T) {
	v, err := critique.ParseVerdict(`{"decision": "proceed", "reasoning": "ok"}`)
	require.NoError(t, err)
	assert.Equal(t, turn.DecisionProceed, v.Decision)
}

func TestParseVerdictUnknownDecisionCoercesToAskUser(t *testing.T) {
	v, err := critique.ParseVerdict(`{"decision": "MAYBE"}`)
	require.NoError(t, err)
	assert.Equal(t, turn.DecisionAskUser, v.Decision)
	assert.Contains(t, v.Reasoning, "MAYBE")
}

func TestParseVerdictFailures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"prose", "I think this looks fine to me."},
		{"missing decision", `{"reasoning": "no tag"}`},
		{"truncated json", `{"decision": "PROC`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := critique.ParseVerdict(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestIssuesNilSafe(t *testing.T) {
	v := &critique.Verdict{Decision: turn.DecisionProceed}
	assert.Nil(t, v.Issues())

	v, err := critique.ParseVerdict(`{"decision": "PROCEED", "execution": {}}`)
	require.NoError(t, err)
	assert.NotNil(t, v.Execution.Issues)
	assert.Empty(t, v.Execution.Issues)
}

func TestSyntheticVerdictConstructors(t *testing.T) {
	p := critique.ProceedVerdict("no risk signals present")
	assert.Equal(t, turn.DecisionProceed, p.Decision)
	assert.False(t, p.Synthesized)

	e := critique.EscalateVerdict("reviewer offline")
	assert.Equal(t, turn.DecisionEscalate, e.Decision)
	assert.True(t, e.Synthesized)
}

// =============================================================================
// REVIEW LOOP
// =============================================================================

func reviewInput(t *testing.T) critique.Input {
	t.Helper()
	cat, err := catalog.New("acme", &catalog.ActionSpec{
		Name:   "cancel_order",
		Policy: catalog.Policy{MaxConfidence: 6, IsDestructive: true},
	})
	require.NoError(t, err)
	return critique.Input{
		UserMessage: "cancel my order",
		Assessment: &assessment.Assessment{
			Confidence:    6,
			Action:        "cancel_order",
			Params:        map[string]any{"order_id": "42"},
			IsDestructive: true,
		},
		Catalog: cat,
	}
}

func testConfig() critique.Config {
	cfg := critique.DefaultConfig()
	cfg.RetryDelay = 0
	return cfg
}

func TestReviewReturnsParsedVerdict(t *testing.T) {
	gw := testutil.NewMockGateway(`{"decision": "PROCEED", "reasoning": "fine"}`)
	e := critique.NewEngine(gw, testConfig(), nil)

	v := e.Review(context.Background(), reviewInput(t))

	assert.Equal(t, turn.DecisionProceed, v.Decision)
	assert.False(t, v.Synthesized)
	assert.Equal(t, 1, gw.CallCount())
}

func TestReviewRetriesAfterParseFailure(t *testing.T) {
	gw := testutil.NewMockGateway(
		"that does not look like json",
		`{"decision": "RETRY", "reasoning": "second attempt"}`,
	)
	e := critique.NewEngine(gw, testConfig(), nil)

	v := e.Review(context.Background(), reviewInput(t))

	assert.Equal(t, turn.DecisionRetry, v.Decision)
	assert.Equal(t, 2, gw.CallCount())
}

func TestReviewRetriesAfterTransportFailure(t *testing.T) {
	gw := testutil.NewMockGateway(`{"decision": "PROCEED", "reasoning": "ok"}`)
	gw.ErrorScript = map[int]error{1: context.DeadlineExceeded}
	e := critique.NewEngine(gw, testConfig(), nil)

	v := e.Review(context.Background(), reviewInput(t))

	assert.Equal(t, turn.DecisionProceed, v.Decision)
	assert.Equal(t, 2, gw.CallCount())
}

func TestReviewExhaustionSynthesizesEscalate(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.ErrorScript = map[int]error{1: context.DeadlineExceeded, 2: context.DeadlineExceeded}
	e := critique.NewEngine(gw, testConfig(), nil)

	v := e.Review(context.Background(), reviewInput(t))

	assert.Equal(t, turn.DecisionEscalate, v.Decision)
	assert.True(t, v.Synthesized)
	assert.Contains(t, v.Reasoning, "2 attempts")
	assert.Equal(t, 2, gw.CallCount())
}

func TestReviewPersistentGarbageSynthesizesEscalate(t *testing.T) {
	gw := testutil.NewMockGateway("nope", "still nope")
	e := critique.NewEngine(gw, testConfig(), nil)

	v := e.Review(context.Background(), reviewInput(t))

	assert.Equal(t, turn.DecisionEscalate, v.Decision)
	assert.True(t, v.Synthesized)
}

func TestReviewPromptCarriesAssessmentAndCatalog(t *testing.T) {
	gw := testutil.NewMockGateway(`{"decision": "PROCEED", "reasoning": "ok"}`)
	e := critique.NewEngine(gw, testConfig(), nil)

	e.Review(context.Background(), reviewInput(t))

	assert.True(t, gw.PromptContains("cancel my order"))
	assert.True(t, gw.PromptContains("cancel_order"))
	assert.True(t, gw.PromptContains("[destructive]"))
}
