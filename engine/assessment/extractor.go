package assessment

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The model is asked to embed two delimited blocks in its completion:
// a free-text <reasoning> block and a JSON <assessment> block. Tags are
// matched case-insensitively and may appear anywhere in the text.
var (
	assessmentBlockRe = regexp.MustCompile(`(?is)<assessment>\s*(.*?)\s*</assessment>`)
	reasoningBlockRe  = regexp.MustCompile(`(?is)<reasoning>\s*(.*?)\s*</reasoning>`)
	blankRunRe        = regexp.MustCompile(`\n{3,}`)
)

// Extraction is the result of parsing one raw completion.
type Extraction struct {
	// VisibleResponse is the user-facing text with both blocks stripped.
	// On parse failure it is the full raw text.
	VisibleResponse string
	// Assessment is the validated self-assessment, nil when the block was
	// absent or unparseable.
	Assessment *Assessment
	// Reasoning is the free-text reasoning block, if present.
	Reasoning string
	// ParseFailed distinguishes "block present but unparseable" from the
	// valid null-assessment case of no block at all.
	ParseFailed bool
}

// Extract parses raw model text. It never returns an error and never
// panics past the caller: every malformed input degrades to a plain
// visible response with a nil assessment.
func Extract(raw string) *Extraction {
	ext := &Extraction{VisibleResponse: strings.TrimSpace(raw)}

	if m := reasoningBlockRe.FindStringSubmatch(raw); m != nil {
		ext.Reasoning = strings.TrimSpace(m[1])
	}

	block := assessmentBlockRe.FindStringSubmatch(raw)
	if block == nil {
		// No block at all: a valid plain response.
		ext.VisibleResponse = stripBlocks(raw)
		return ext
	}

	parsed, ok := parseBlock(block[1])
	if !ok {
		// Block present but unusable: degrade to the full text so the
		// user still gets a response.
		ext.ParseFailed = true
		return ext
	}

	ext.Assessment = parsed
	ext.VisibleResponse = stripBlocks(raw)
	return ext
}

// parseBlock decodes the assessment JSON into an untyped map and rebuilds
// the assessment field by field. Decoding into the struct directly would
// let a single mistyped field poison the whole block.
func parseBlock(body string) (*Assessment, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		// Models occasionally wrap the JSON in a markdown fence.
		body = strings.TrimSpace(strings.Trim(body, "`"))
		body = strings.TrimPrefix(body, "json")
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			return nil, false
		}
	}

	a := &Assessment{
		Confidence:        coerceInt(fields["confidence"], MinConfidence),
		Action:            coerceString(fields["action"]),
		Params:            coerceMap(fields["params"]),
		MissingParams:     coerceStringList(fields["missing_params"]),
		IsDestructive:     coerceBool(fields["is_destructive"]),
		NeedsConfirmation: coerceBool(fields["needs_confirmation"]),
		NeedsMoreContext:  coerceStringList(fields["needs_more_context"]),
	}
	a.normalize()
	return a, true
}

// stripBlocks removes both delimited blocks and collapses leftover blank
// runs so the visible response reads naturally.
func stripBlocks(raw string) string {
	out := assessmentBlockRe.ReplaceAllString(raw, "")
	out = reasoningBlockRe.ReplaceAllString(out, "")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
