// Package policy applies the per-tenant safety rules to a parsed assessment
// and decides whether a second-pass critique is required.
//
// The enforcer is the sole trust boundary for destructive actions. It runs
// unconditionally whenever an assessment names an action, independent of the
// critique gate, and it never trusts a model-reported field where it can
// compute the truth server-side.
package policy

import (
	"github.com/relayline/turnguard/engine/assessment"
	"github.com/relayline/turnguard/engine/catalog"
	"github.com/relayline/turnguard/engine/turn"
)

// Enforcement is the enforcer's verdict over one assessment.
type Enforcement struct {
	// Allowed is false when a hard stop fired.
	Allowed bool
	// Reason classifies the outcome. For allowed assessments it is either
	// empty or the non-blocking confidence-floor-applied code.
	Reason turn.ReasonCode
	// Assessment is the updated copy: effective confidence applied, flags
	// unioned with policy. The input assessment is never mutated.
	Assessment *assessment.Assessment
	// MissingParams is the server-computed list of absent required
	// parameters, in schema order. Set only for missing-parameter blocks.
	MissingParams []string
}

// Enforce applies the hard stops and confidence floor in order, short-
// circuiting on the first block.
//
// Order matters: existence is checked before anything else so a
// hallucinated action can never reach the parameter or confidence logic,
// and unknown actions fail existence even though PolicyFor would hand them
// a permissive default.
func Enforce(a *assessment.Assessment, cat *catalog.Catalog) *Enforcement {
	updated := a.Clone()

	if !a.HasAction() {
		// Nothing to enforce on a plain response.
		return &Enforcement{Allowed: true, Assessment: updated}
	}

	// Hard stop (a): hallucination guard.
	spec := cat.Lookup(a.Action)
	if spec == nil {
		return &Enforcement{
			Allowed:    false,
			Reason:     turn.ReasonActionNotFound,
			Assessment: updated,
		}
	}

	// Hard stop (b): required parameters, computed server-side. The
	// model's own missing_params report is discarded outright.
	var missing []string
	for _, name := range spec.RequiredParameters() {
		if _, ok := a.Params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		updated.MissingParams = missing
		return &Enforcement{
			Allowed:       false,
			Reason:        turn.ReasonMissingParameter,
			Assessment:    updated,
			MissingParams: missing,
		}
	}
	updated.MissingParams = []string{}

	result := &Enforcement{Allowed: true, Assessment: updated}

	// Confidence floor: effective confidence never exceeds the policy cap
	// nor the model's own claim.
	if spec.Policy.MaxConfidence < updated.Confidence {
		updated.Confidence = spec.Policy.MaxConfidence
		result.Reason = turn.ReasonConfidenceFloorApplied
	}

	// Flag union is monotonic: policy can raise is_destructive or
	// needs_confirmation, never lower a claim the model already made.
	updated.IsDestructive = updated.IsDestructive || spec.Policy.IsDestructive
	updated.NeedsConfirmation = updated.NeedsConfirmation || spec.Policy.RequiresConfirmation

	return result
}

// RequiresCritique is the critique gate: a pure function over a
// policy-enforced assessment. It returns true when any risk signal is
// present and false only when every check passes cleanly. An assessment
// with no action never needs critique.
func RequiresCritique(a *assessment.Assessment, cat *catalog.Catalog, minConfidence int) bool {
	if !a.HasAction() {
		return false
	}
	if !cat.Has(a.Action) {
		return true
	}
	if a.IsDestructive {
		return true
	}
	if a.Confidence < minConfidence {
		return true
	}
	if len(a.MissingParams) > 0 {
		return true
	}
	if a.NeedsConfirmation {
		return true
	}
	return false
}
