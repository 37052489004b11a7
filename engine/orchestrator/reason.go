package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relayline/turnguard/commbus"
	"github.com/relayline/turnguard/engine/assessment"
	"github.com/relayline/turnguard/engine/audit"
	"github.com/relayline/turnguard/engine/critique"
	"github.com/relayline/turnguard/engine/llm"
	"github.com/relayline/turnguard/engine/observability"
	"github.com/relayline/turnguard/engine/policy"
)

// cycleResult is the output of one reasoning cycle: the final extraction and
// its policy enforcement.
type cycleResult struct {
	Extraction  *assessment.Extraction
	Enforcement *policy.Enforcement
}

// reason runs one reasoning cycle: first-pass model call, extraction, the
// context augmentation loop, and policy enforcement. A non-nil correction
// means this is the single retry cycle and the critique's structured
// feedback is appended to the transcript.
//
// The augmentation budget lives on the shared cycle state, so the retry
// cycle spends from the same allowance and the per-turn model-call bound
// holds regardless of how the turn got here.
func (o *Orchestrator) reason(ctx context.Context, st *turnState, correction *critique.Correction) (*cycleResult, error) {
	messages := o.buildMessages(st, correction)

	completion, err := o.complete(ctx, st, "turn", messages)
	if err != nil {
		return nil, err
	}

	ext := assessment.Extract(completion.Content)
	o.auditExtraction(ctx, st, ext)

	ext = o.augment(ctx, st, messages, ext)

	result := &cycleResult{Extraction: ext}
	if ext.Assessment != nil {
		result.Enforcement = policy.Enforce(ext.Assessment, o.catalog)
		o.auditEnforcement(ctx, st, result.Enforcement)
	}
	return result, nil
}

// augment runs the context augmentation loop. For each iteration within the
// budget: resolve the requested keys against tenant knowledge, report
// unresolved keys explicitly so the model stops re-requesting them, re-call
// the model and re-extract. An iteration that resolves zero keys terminates
// the loop early. If the budget is exhausted with context still requested,
// exactly one final call carries the full knowledge object and its result is
// accepted as-is.
func (o *Orchestrator) augment(ctx context.Context, st *turnState, messages []llm.Message, ext *assessment.Extraction) *assessment.Extraction {
	for ext.Assessment != nil && len(ext.Assessment.NeedsMoreContext) > 0 && st.cycle.CanFetchContext() {
		resolved := map[string]any{}
		var unresolved []string
		for _, key := range ext.Assessment.NeedsMoreContext {
			if value, ok := o.knowledge.Resolve(key); ok {
				resolved[key] = value
			} else {
				unresolved = append(unresolved, key)
			}
		}

		st.cycle.ContextFetchCount++
		o.audit(ctx, st, audit.StageAugmentation, "", map[string]any{
			"iteration":  st.cycle.ContextFetchCount,
			"requested":  ext.Assessment.NeedsMoreContext,
			"resolved":   keysOf(resolved),
			"unresolved": unresolved,
		})

		if len(resolved) == 0 {
			// Zero progress: nothing we supply next round would change.
			o.logDebug("augmentation_zero_progress",
				"turn_id", st.cycle.TurnID,
				"unresolved", strings.Join(unresolved, ","))
			return ext
		}

		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: contextMessage(resolved, unresolved),
		})

		completion, err := o.complete(ctx, st, "turn", messages)
		if err != nil {
			o.logWarn("augmentation_call_failed", "turn_id", st.cycle.TurnID, "error", err.Error())
			return ext
		}
		next := assessment.Extract(completion.Content)
		o.auditExtraction(ctx, st, next)
		ext = next
	}

	if ext.Assessment != nil && len(ext.Assessment.NeedsMoreContext) > 0 && !st.fallbackUsed {
		// Budget exhausted with context still requested: one final call
		// with everything attached, accepted whatever it says.
		st.fallbackUsed = true
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: fullKnowledgeMessage(o.knowledge.All()),
		})
		completion, err := o.complete(ctx, st, "turn", messages)
		if err != nil {
			o.logWarn("full_knowledge_call_failed", "turn_id", st.cycle.TurnID, "error", err.Error())
			return ext
		}
		next := assessment.Extract(completion.Content)
		o.auditExtraction(ctx, st, next)
		ext = next
	}

	return ext
}

// complete makes one first-pass-family model call with the per-call timeout
// and records its usage on the cycle.
func (o *Orchestrator) complete(ctx context.Context, st *turnState, purpose string, messages []llm.Message) (*llm.Completion, error) {
	opts := llm.Options{
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Timeout:     o.cfg.ModelTimeout,
	}

	start := time.Now()
	completion, err := llm.CallWithTimeout(ctx, o.gateway, messages, opts)
	durationMS := int(time.Since(start).Milliseconds())
	if err != nil {
		observability.RecordLLMCall(purpose, "error", durationMS, 0, 0)
		return nil, err
	}

	st.cycle.RecordModelCall(completion.Usage.TokensIn, completion.Usage.TokensOut)
	observability.RecordLLMCall(purpose, "success", durationMS, completion.Usage.TokensIn, completion.Usage.TokensOut)
	return completion, nil
}

func (o *Orchestrator) auditExtraction(ctx context.Context, st *turnState, ext *assessment.Extraction) {
	detail := map[string]any{
		"has_assessment": ext.Assessment != nil,
		"parse_failed":   ext.ParseFailed,
	}
	event := &commbus.AssessmentExtracted{
		TurnID:         st.cycle.TurnID,
		ConversationID: st.req.ConversationID,
		HasAssessment:  ext.Assessment != nil,
		ParseFailed:    ext.ParseFailed,
	}
	if ext.Assessment != nil {
		detail["action"] = ext.Assessment.Action
		detail["confidence"] = ext.Assessment.Confidence
		event.Action = ext.Assessment.Action
		event.Confidence = ext.Assessment.Confidence
	}
	o.audit(ctx, st, audit.StageExtraction, "", detail)
	o.publish(ctx, event)
}

func (o *Orchestrator) auditEnforcement(ctx context.Context, st *turnState, enf *policy.Enforcement) {
	o.audit(ctx, st, audit.StageEnforcement, enf.Reason, map[string]any{
		"allowed":        enf.Allowed,
		"action":         enf.Assessment.Action,
		"confidence":     enf.Assessment.Confidence,
		"missing_params": enf.MissingParams,
	})
}

// =============================================================================
// PROMPT CONSTRUCTION
// =============================================================================

// buildMessages assembles the first-pass transcript: system instructions
// with the catalog and response contract, recent history, the user message,
// and (on the retry cycle) the critique's structured correction.
func (o *Orchestrator) buildMessages(st *turnState, correction *critique.Correction) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: o.systemPrompt()}}

	for _, h := range st.req.History {
		role := llm.RoleUser
		if h.Role == "assistant" {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: h.Content})
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: st.req.Message})

	if correction != nil {
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: correctionPrompt(correction),
		})
	}
	return messages
}

// correctionPrompt renders the critique's structured correction for the
// retry cycle. The critique's own text never reaches the user; here it only
// steers the second first-pass call.
func correctionPrompt(c *critique.Correction) string {
	var b strings.Builder
	b.WriteString("An independent review found problems with your previous assessment. Reconsider:\n")
	if c.Misunderstanding != "" {
		b.WriteString("- Misunderstanding: ")
		b.WriteString(c.Misunderstanding)
		b.WriteString("\n")
	}
	if c.WhatUserWants != "" {
		b.WriteString("- What the user actually wants: ")
		b.WriteString(c.WhatUserWants)
		b.WriteString("\n")
	}
	if c.SuggestedAction != "" {
		b.WriteString("- Suggested action: ")
		b.WriteString(c.SuggestedAction)
		b.WriteString("\n")
	}
	if c.Reasoning != "" {
		b.WriteString("- Review notes: ")
		b.WriteString(c.Reasoning)
		b.WriteString("\n")
	}
	b.WriteString("Reply again with the same block format.")
	return b.String()
}

func (o *Orchestrator) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a careful assistant operating with a fixed action catalog.\n\n")
	b.WriteString("Available actions:\n")
	b.WriteString(o.catalog.Summary())
	if keys := o.knowledge.Keys(); len(keys) > 0 {
		b.WriteString("\nKnowledge keys you may request via needs_more_context:\n")
		for _, k := range keys {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nAfter your reply, append two blocks:\n")
	b.WriteString("<reasoning>your private reasoning</reasoning>\n")
	b.WriteString("<assessment>")
	b.WriteString(`{"confidence": 1-10, "action": "name or empty", "params": {}, `)
	b.WriteString(`"missing_params": [], "is_destructive": bool, "needs_confirmation": bool, `)
	b.WriteString(`"needs_more_context": []}`)
	b.WriteString("</assessment>\n")
	b.WriteString("Only name actions from the catalog. If no action applies, leave action empty.")
	return b.String()
}

func contextMessage(resolved map[string]any, unresolved []string) string {
	var b strings.Builder
	b.WriteString("Additional context you requested:\n")
	body, _ := json.MarshalIndent(resolved, "", "  ")
	b.Write(body)
	if len(unresolved) > 0 {
		b.WriteString("\n\nThese keys do not exist and will never resolve; do not request them again: ")
		b.WriteString(strings.Join(unresolved, ", "))
	}
	b.WriteString("\n\nReply again with the same block format.")
	return b.String()
}

func fullKnowledgeMessage(all map[string]any) string {
	body, _ := json.MarshalIndent(all, "", "  ")
	return fmt.Sprintf(
		"This is everything known for this tenant; no further context is available:\n%s\n\nGive your final reply with the same block format and do not request more context.",
		body)
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
