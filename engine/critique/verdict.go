// Package critique implements the independent second-pass check: one model
// call reviewing a policy-enforced assessment, producing a structured
// verdict the decision resolver consumes.
package critique

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/relayline/turnguard/engine/turn"
)

// UnderstandingCheck reports whether the first pass understood the user.
type UnderstandingCheck struct {
	Correct          bool   `json:"correct"`
	Misunderstanding string `json:"misunderstanding,omitempty"`
	WhatUserWants    string `json:"what_user_wants,omitempty"`
}

// ChoiceCheck reports whether the chosen action was the right one.
type ChoiceCheck struct {
	Correct   bool   `json:"correct"`
	Suggested string `json:"suggested,omitempty"`
}

// ExecutionCheck lists concrete problems with the proposed execution.
type ExecutionCheck struct {
	Issues []string `json:"issues"`
}

// Verdict is the structured critique result. Decision is the tag; the
// payload fields are decision-specific and optional.
type Verdict struct {
	Decision      turn.Decision       `json:"decision"`
	Reasoning     string              `json:"reasoning"`
	Understanding *UnderstandingCheck `json:"understanding,omitempty"`
	Choice        *ChoiceCheck        `json:"choice,omitempty"`
	Execution     *ExecutionCheck     `json:"execution,omitempty"`
	// Synthesized marks verdicts the engine fabricated after retry
	// exhaustion rather than parsed from model output.
	Synthesized bool `json:"synthesized,omitempty"`
}

// Issues returns the execution issue list, never nil.
func (v *Verdict) Issues() []string {
	if v.Execution == nil {
		return nil
	}
	return v.Execution.Issues
}

// Correction is the structured feedback appended to the transcript when the
// resolver re-runs the reasoning cycle on a RETRY verdict.
type Correction struct {
	Reasoning        string
	Misunderstanding string
	WhatUserWants    string
	SuggestedAction  string
}

// Correction extracts retry feedback from the verdict.
func (v *Verdict) Correction() *Correction {
	c := &Correction{Reasoning: v.Reasoning}
	if v.Understanding != nil {
		c.Misunderstanding = v.Understanding.Misunderstanding
		c.WhatUserWants = v.Understanding.WhatUserWants
	}
	if v.Choice != nil {
		c.SuggestedAction = v.Choice.Suggested
	}
	return c
}

// ProceedVerdict is the implicit verdict used when the gate skips critique.
func ProceedVerdict(reason string) *Verdict {
	return &Verdict{Decision: turn.DecisionProceed, Reasoning: reason}
}

// EscalateVerdict synthesizes a fail-closed verdict, used on retry
// exhaustion so a critique failure can never silently permit an action.
func EscalateVerdict(reason string) *Verdict {
	return &Verdict{
		Decision:    turn.DecisionEscalate,
		Reasoning:   reason,
		Synthesized: true,
	}
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseVerdict decodes raw critique output. A missing or undecodable body
// is an error (the caller retries); a decodable body with an invalid
// decision value coerces to ASK_USER per the fail-safe rule.
func ParseVerdict(raw string) (*Verdict, error) {
	body := strings.TrimSpace(raw)
	if m := jsonFenceRe.FindStringSubmatch(body); m != nil {
		body = m[1]
	}
	if body == "" {
		return nil, fmt.Errorf("empty critique response")
	}

	var fields struct {
		Decision      string              `json:"decision"`
		Reasoning     string              `json:"reasoning"`
		Understanding *UnderstandingCheck `json:"understanding"`
		Choice        *ChoiceCheck        `json:"choice"`
		Execution     *ExecutionCheck     `json:"execution"`
	}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("undecodable critique response: %w", err)
	}
	if strings.TrimSpace(fields.Decision) == "" {
		return nil, fmt.Errorf("critique response missing decision")
	}

	decision, known := turn.ParseDecision(fields.Decision)
	v := &Verdict{
		Decision:      decision,
		Reasoning:     fields.Reasoning,
		Understanding: fields.Understanding,
		Choice:        fields.Choice,
		Execution:     fields.Execution,
	}
	if !known {
		// Invalid decision values coerce to ASK_USER rather than failing
		// the parse: the payload is otherwise usable.
		v.Decision = turn.DecisionAskUser
		if v.Reasoning == "" {
			v.Reasoning = fmt.Sprintf("unrecognized critique decision %q", fields.Decision)
		}
	}
	if v.Execution != nil && v.Execution.Issues == nil {
		v.Execution.Issues = []string{}
	}
	return v, nil
}
