package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainResponseHasNullAssessment(t *testing.T) {
	ext := Extract("Your order ships tomorrow.")

	assert.Nil(t, ext.Assessment)
	assert.False(t, ext.ParseFailed)
	assert.Equal(t, "Your order ships tomorrow.", ext.VisibleResponse)
}

func TestExtractWellFormedBlocks(t *testing.T) {
	raw := `I can cancel that for you.
<reasoning>The user clearly wants order 123 cancelled.</reasoning>
<assessment>{"confidence": 8, "action": "cancel_order", "params": {"order_id": "123"}, "is_destructive": true}</assessment>`

	ext := Extract(raw)

	require.NotNil(t, ext.Assessment)
	assert.False(t, ext.ParseFailed)
	assert.Equal(t, "I can cancel that for you.", ext.VisibleResponse)
	assert.Equal(t, "The user clearly wants order 123 cancelled.", ext.Reasoning)
	assert.Equal(t, 8, ext.Assessment.Confidence)
	assert.Equal(t, "cancel_order", ext.Assessment.Action)
	assert.Equal(t, "123", ext.Assessment.Params["order_id"])
	assert.True(t, ext.Assessment.IsDestructive)
}

func TestExtractCaseInsensitiveTags(t *testing.T) {
	raw := `Sure.
<ASSESSMENT>{"confidence": 5}</ASSESSMENT>`

	ext := Extract(raw)

	require.NotNil(t, ext.Assessment)
	assert.Equal(t, 5, ext.Assessment.Confidence)
	assert.Equal(t, "Sure.", ext.VisibleResponse)
}

func TestExtractUnparseableBlockDegrades(t *testing.T) {
	raw := `Here you go.
<assessment>{not json at all</assessment>`

	ext := Extract(raw)

	assert.Nil(t, ext.Assessment)
	assert.True(t, ext.ParseFailed)
	// Degraded output is the full raw text, blocks included.
	assert.Equal(t, raw, ext.VisibleResponse)
}

func TestExtractEmptyBlockIsParseFailure(t *testing.T) {
	ext := Extract("Hello <assessment>  </assessment>")

	assert.Nil(t, ext.Assessment)
	assert.True(t, ext.ParseFailed)
}

func TestExtractMarkdownFencedJSON(t *testing.T) {
	raw := "Okay.\n<assessment>```json\n{\"confidence\": 6, \"action\": \"track_order\", \"params\": {\"order_id\": \"9\"}}\n```</assessment>"

	ext := Extract(raw)

	require.NotNil(t, ext.Assessment)
	assert.Equal(t, 6, ext.Assessment.Confidence)
	assert.Equal(t, "track_order", ext.Assessment.Action)
}

func TestExtractConfidenceClamped(t *testing.T) {
	cases := []struct {
		raw      string
		expected int
	}{
		{`<assessment>{"confidence": 42}</assessment>`, 10},
		{`<assessment>{"confidence": -3}</assessment>`, 1},
		{`<assessment>{"confidence": 0}</assessment>`, 1},
		{`<assessment>{"confidence": "9"}</assessment>`, 9},
		{`<assessment>{"confidence": 7.6}</assessment>`, 7},
	}

	for _, tc := range cases {
		ext := Extract(tc.raw)
		require.NotNil(t, ext.Assessment, tc.raw)
		assert.Equal(t, tc.expected, ext.Assessment.Confidence, tc.raw)
	}
}

func TestExtractCoercesDeclaredTypes(t *testing.T) {
	raw := `<assessment>{
		"confidence": 7,
		"action": "  lookup  ",
		"params": null,
		"missing_params": "order_id",
		"is_destructive": "true",
		"needs_confirmation": 1,
		"needs_more_context": ["a", "a", " b "]
	}</assessment>`

	ext := Extract(raw)

	require.NotNil(t, ext.Assessment)
	a := ext.Assessment
	assert.Equal(t, "lookup", a.Action)
	assert.NotNil(t, a.Params)
	assert.Equal(t, []string{"order_id"}, a.MissingParams)
	assert.True(t, a.IsDestructive)
	assert.True(t, a.NeedsConfirmation)
	assert.Equal(t, []string{"a", "b"}, a.NeedsMoreContext)
}

func TestExtractNeverPanicsOnGarbage(t *testing.T) {
	inputs := []string{
		"",
		"<assessment>",
		"</assessment><assessment>",
		"<assessment>null</assessment>",
		"<assessment>[1,2,3]</assessment>",
		"<reasoning><assessment></reasoning></assessment>",
	}
	for _, raw := range inputs {
		assert.NotPanics(t, func() { Extract(raw) }, raw)
	}
}

func TestExtractStripsBlankRuns(t *testing.T) {
	raw := "Before.\n\n\n<assessment>{\"confidence\": 5}</assessment>\n\n\nAfter."

	ext := Extract(raw)

	require.NotNil(t, ext.Assessment)
	assert.NotContains(t, ext.VisibleResponse, "\n\n\n")
	assert.Contains(t, ext.VisibleResponse, "Before.")
	assert.Contains(t, ext.VisibleResponse, "After.")
}

func TestAssessmentClone(t *testing.T) {
	a := &Assessment{
		Confidence:    8,
		Action:        "cancel_order",
		Params:        map[string]any{"order_id": "1"},
		MissingParams: []string{"x"},
	}

	clone := a.Clone()
	clone.Params["order_id"] = "2"
	clone.MissingParams[0] = "y"

	assert.Equal(t, "1", a.Params["order_id"])
	assert.Equal(t, "x", a.MissingParams[0])
}
