// Package assessment parses and validates the model's structured
// self-assessment out of raw completion text.
//
// The extractor is the first trust boundary: nothing the model declares is
// taken at face value. Every field of a parsed assessment is independently
// re-validated and coerced, and malformed input always degrades to forward
// progress - a plain visible response - rather than an error.
package assessment

import (
	"sort"
	"strings"
)

// Confidence bounds. Values outside the range are clamped, never rejected.
const (
	MinConfidence = 1
	MaxConfidence = 10
)

// Assessment is the model's structured self-report of confidence, intended
// action and risk for one turn.
type Assessment struct {
	// Confidence is the model's claimed confidence, clamped to [1,10].
	Confidence int `json:"confidence"`
	// Action is the intended action name. Empty means a plain response.
	Action string `json:"action,omitempty"`
	// Params are the model-provided action parameters.
	Params map[string]any `json:"params"`
	// MissingParams is the model's own report of parameters it could not
	// fill. The policy enforcer recomputes this server-side and never
	// trusts it.
	MissingParams []string `json:"missing_params"`
	// IsDestructive is the model's own destructiveness claim.
	IsDestructive bool `json:"is_destructive"`
	// NeedsConfirmation is the model's own confirmation claim.
	NeedsConfirmation bool `json:"needs_confirmation"`
	// NeedsMoreContext lists knowledge keys the model asked for.
	NeedsMoreContext []string `json:"needs_more_context"`
}

// HasAction reports whether the assessment names an action.
func (a *Assessment) HasAction() bool {
	return a != nil && a.Action != ""
}

// ParamKeys returns the provided parameter keys, sorted.
func (a *Assessment) ParamKeys() []string {
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep-enough copy for the enforcer to mutate safely.
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Params = make(map[string]any, len(a.Params))
	for k, v := range a.Params {
		clone.Params[k] = v
	}
	clone.MissingParams = append([]string(nil), a.MissingParams...)
	clone.NeedsMoreContext = append([]string(nil), a.NeedsMoreContext...)
	return &clone
}

// normalize enforces the package invariants: confidence clamped, collection
// fields never nil, list entries trimmed and de-duplicated.
func (a *Assessment) normalize() {
	if a.Confidence < MinConfidence {
		a.Confidence = MinConfidence
	}
	if a.Confidence > MaxConfidence {
		a.Confidence = MaxConfidence
	}
	a.Action = strings.TrimSpace(a.Action)
	if a.Params == nil {
		a.Params = map[string]any{}
	}
	a.MissingParams = dedupeStrings(a.MissingParams)
	a.NeedsMoreContext = dedupeStrings(a.NeedsMoreContext)
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
