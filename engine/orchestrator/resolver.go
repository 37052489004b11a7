package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayline/turnguard/commbus"
	"github.com/relayline/turnguard/engine/assessment"
	"github.com/relayline/turnguard/engine/audit"
	"github.com/relayline/turnguard/engine/critique"
	"github.com/relayline/turnguard/engine/intent"
	"github.com/relayline/turnguard/engine/llm"
	"github.com/relayline/turnguard/engine/observability"
	"github.com/relayline/turnguard/engine/policy"
	"github.com/relayline/turnguard/engine/tools"
	"github.com/relayline/turnguard/engine/turn"
)

// resolveCycle takes one reasoning cycle through the critique gate, the
// critique engine when required, and the decision resolver.
func (o *Orchestrator) resolveCycle(ctx context.Context, st *turnState, result *cycleResult) *turn.Outcome {
	ext := result.Extraction

	if ext.Assessment == nil {
		// Null assessment, including the parse-failed degradation: a plain
		// response turn.
		outcome := o.outcome(st, turn.ReasonRespondedSuccessfully)
		outcome.Response = ext.VisibleResponse
		o.audit(ctx, st, audit.StageResolution, turn.ReasonRespondedSuccessfully, map[string]any{
			"parse_failed": ext.ParseFailed,
		})
		return outcome
	}

	enf := result.Enforcement
	if !enf.Allowed {
		observability.RecordPolicyBlock(string(enf.Reason))
		o.publish(ctx, &commbus.PolicyBlocked{
			TurnID:         st.cycle.TurnID,
			ConversationID: st.req.ConversationID,
			Action:         enf.Assessment.Action,
			Reason:         string(enf.Reason),
			MissingParams:  enf.MissingParams,
		})
	}

	verdict := o.reviewIfRequired(ctx, st, result)
	return o.resolve(ctx, st, result, verdict)
}

// reviewIfRequired runs the critique gate and, when it fires, the critique
// engine. The gate skipping earns an implicit PROCEED verdict.
func (o *Orchestrator) reviewIfRequired(ctx context.Context, st *turnState, result *cycleResult) *critique.Verdict {
	enforced := result.Enforcement.Assessment

	if !policy.RequiresCritique(enforced, o.catalog, o.cfg.MinConfidence) {
		o.audit(ctx, st, audit.StageGate, turn.ReasonCritiqueSkipped, map[string]any{
			"action":     enforced.Action,
			"confidence": enforced.Confidence,
		})
		return critique.ProceedVerdict("no risk signals present")
	}

	st.cycle.CritiqueTriggered = true
	o.audit(ctx, st, audit.StageGate, turn.ReasonCritiqueTriggered, map[string]any{
		"action":         enforced.Action,
		"confidence":     enforced.Confidence,
		"is_destructive": enforced.IsDestructive,
		"missing_params": enforced.MissingParams,
	})

	ctx, span := o.tracer.Start(ctx, "turn.critique",
		trace.WithAttributes(attribute.String("turn.id", st.cycle.TurnID)))
	defer span.End()

	verdict := o.critic.Review(ctx, critique.Input{
		UserMessage: st.req.Message,
		Assessment:  enforced,
		Catalog:     o.catalog,
		History:     st.req.History,
	})

	span.SetAttributes(
		attribute.String("critique.decision", string(verdict.Decision)),
		attribute.Bool("critique.synthesized", verdict.Synthesized),
	)
	observability.RecordCritiqueVerdict(string(verdict.Decision), verdict.Synthesized)
	o.audit(ctx, st, audit.StageCritique, "", map[string]any{
		"decision":    string(verdict.Decision),
		"reasoning":   verdict.Reasoning,
		"synthesized": verdict.Synthesized,
	})
	o.publish(ctx, &commbus.CritiqueCompleted{
		TurnID:         st.cycle.TurnID,
		ConversationID: st.req.ConversationID,
		Decision:       string(verdict.Decision),
		Synthesized:    verdict.Synthesized,
	})
	return verdict
}

// resolve is the decision state machine. Unrecognized decisions were already
// coerced at parse time; anything still unknown here fails closed to
// ESCALATE.
func (o *Orchestrator) resolve(ctx context.Context, st *turnState, result *cycleResult, verdict *critique.Verdict) *turn.Outcome {
	enf := result.Enforcement
	enforced := enf.Assessment

	switch verdict.Decision {
	case turn.DecisionProceed:
		if !enf.Allowed {
			// The enforcer is the sole trust boundary; a critique verdict
			// never overrides a hard stop.
			return o.blockedOutcome(ctx, st, enf)
		}
		return o.proceed(ctx, st, result)

	case turn.DecisionAskUser:
		if !enf.Allowed {
			return o.blockedOutcome(ctx, st, enf)
		}
		return o.askUser(ctx, st, enforced, verdict)

	case turn.DecisionRetry:
		if !st.cycle.UseRetry() {
			// The single retry allowance is spent; a second RETRY is
			// forcibly converted.
			o.logDebug("retry_converted_to_escalate", "turn_id", st.cycle.TurnID)
			return o.escalate(ctx, st, enforced, critique.EscalateVerdict(
				"second RETRY verdict in one turn; converted to escalation"))
		}
		next, err := o.reason(ctx, st, verdict.Correction())
		if err != nil {
			return o.escalate(ctx, st, enforced, critique.EscalateVerdict(
				"retry cycle failed: "+err.Error()))
		}
		// Retries are never exempt from safety checks: the new assessment
		// goes back through enforcement and the gate.
		return o.resolveCycle(ctx, st, next)

	case turn.DecisionEscalate:
		return o.escalate(ctx, st, enforced, verdict)

	default:
		return o.escalate(ctx, st, enforced, critique.EscalateVerdict(
			fmt.Sprintf("unrecognized resolver decision %q", verdict.Decision)))
	}
}

// proceed invokes the tool gateway for an allowed assessment, or emits the
// plain response when no action is named.
func (o *Orchestrator) proceed(ctx context.Context, st *turnState, result *cycleResult) *turn.Outcome {
	enforced := result.Enforcement.Assessment
	visible := result.Extraction.VisibleResponse

	if !enforced.HasAction() {
		outcome := o.outcome(st, turn.ReasonRespondedSuccessfully)
		outcome.Response = visible
		o.audit(ctx, st, audit.StageResolution, turn.ReasonRespondedSuccessfully, nil)
		return outcome
	}

	toolResult := o.execute(ctx, st, enforced.Action, enforced.Params)
	if toolResult == nil || !toolResult.Executed {
		// Degraded but user-visible fallback; the turn itself still
		// succeeds.
		outcome := o.outcome(st, turn.ReasonRespondedSuccessfully)
		outcome.Response = visible
		if strings.TrimSpace(outcome.Response) == "" {
			outcome.Response = o.generateMessage(ctx, st, toolFailedPrompt(enforced.Action),
				"I wasn't able to complete that just now. Nothing has been changed; please try again shortly.")
		}
		o.audit(ctx, st, audit.StageResolution, turn.ReasonRespondedSuccessfully, map[string]any{
			"degraded": true,
			"action":   enforced.Action,
		})
		return outcome
	}

	outcome := o.outcome(st, turn.ReasonExecutedSuccessfully)
	outcome.ToolExecuted = true
	outcome.ToolResult = toolResult.Output
	outcome.Response = visible
	if strings.TrimSpace(outcome.Response) == "" {
		outcome.Response = o.generateMessage(ctx, st, executedPrompt(enforced.Action, toolResult.Output),
			"Done. The requested action has been completed.")
	}
	o.audit(ctx, st, audit.StageResolution, turn.ReasonExecutedSuccessfully, map[string]any{
		"action": enforced.Action,
	})
	return outcome
}

// askUser persists a pending intent for destructive actions, then asks a
// freshly generated clarifying question seeded with the critique's issues.
// Internal critique text is never echoed verbatim.
func (o *Orchestrator) askUser(ctx context.Context, st *turnState, enforced *assessment.Assessment, verdict *critique.Verdict) *turn.Outcome {
	reason := turn.ReasonRespondedSuccessfully

	if enforced.IsDestructive && enforced.HasAction() {
		pi := intent.NewPendingIntent(enforced.Action, enforced.Params)
		if err := o.intents.Set(ctx, st.req.ConversationID, pi, o.cfg.IntentTTL); err != nil {
			o.logWarn("intent_store_failed", "turn_id", st.cycle.TurnID, "error", err.Error())
		} else {
			reason = turn.ReasonAwaitingConfirmation
			o.audit(ctx, st, audit.StageResolution, turn.ReasonAwaitingConfirmation, map[string]any{
				"action": pi.Action,
				"hash":   pi.Hash,
			})
			o.publish(ctx, &commbus.IntentStored{
				TurnID:         st.cycle.TurnID,
				ConversationID: st.req.ConversationID,
				Action:         pi.Action,
				Hash:           pi.Hash,
			})
		}
	}

	outcome := o.outcome(st, reason)
	outcome.Response = o.generateMessage(ctx, st,
		clarifyPrompt(st.req.Message, enforced, verdict.Issues(), nil),
		"Before I go ahead, could you confirm exactly what you'd like me to do?")
	if reason == turn.ReasonRespondedSuccessfully {
		o.audit(ctx, st, audit.StageResolution, reason, map[string]any{"clarification": true})
	}
	return outcome
}

// blockedOutcome surfaces a policy hard stop as a live-generated clarifying
// message carrying the enforcement reason code, never a static string.
func (o *Orchestrator) blockedOutcome(ctx context.Context, st *turnState, enf *policy.Enforcement) *turn.Outcome {
	outcome := o.outcome(st, enf.Reason)
	outcome.Response = o.generateMessage(ctx, st,
		clarifyPrompt(st.req.Message, enf.Assessment, nil, enf.MissingParams),
		"I need a little more information before I can help with that.")
	o.audit(ctx, st, audit.StageResolution, enf.Reason, map[string]any{
		"action":         enf.Assessment.Action,
		"missing_params": enf.MissingParams,
	})
	return outcome
}

// escalate notifies the escalation collaborator with the full reasoning
// trail and tells the user a person is taking over, in a generated message
// for language and tone consistency.
func (o *Orchestrator) escalate(ctx context.Context, st *turnState, enforced *assessment.Assessment, verdict *critique.Verdict) *turn.Outcome {
	o.audit(ctx, st, audit.StageResolution, turn.ReasonEscalated, map[string]any{
		"reasoning":   verdict.Reasoning,
		"synthesized": verdict.Synthesized,
	})

	if o.escalator != nil {
		err := o.escalator.Escalate(ctx, &Escalation{
			TurnID:         st.cycle.TurnID,
			ConversationID: st.req.ConversationID,
			TenantID:       st.req.TenantID,
			UserMessage:    st.req.Message,
			Reason:         verdict.Reasoning,
			Assessment:     enforced,
			Verdict:        verdict,
		})
		if err != nil {
			o.logWarn("escalator_notify_failed", "turn_id", st.cycle.TurnID, "error", err.Error())
		}
	}

	observability.RecordEscalation(st.req.TenantID, string(turn.ReasonEscalated))
	o.publish(ctx, &commbus.EscalationRaised{
		TurnID:         st.cycle.TurnID,
		ConversationID: st.req.ConversationID,
		TenantID:       st.req.TenantID,
		Reason:         verdict.Reasoning,
	})

	outcome := o.outcome(st, turn.ReasonEscalated)
	outcome.Escalated = true
	outcome.Response = o.generateMessage(ctx, st, escalatePrompt(st.req.Message),
		"I'm connecting you with a person who can help with this. One moment please.")
	return outcome
}

// execute runs one tool call. The execution artifact is appended before the
// side effect so a mid-call failure still leaves a trail. Returns nil when
// the gateway rejected the action outright.
func (o *Orchestrator) execute(ctx context.Context, st *turnState, action string, params map[string]any) *tools.Result {
	o.audit(ctx, st, audit.StageExecution, "", map[string]any{
		"action": action,
		"params": params,
	})

	ctx, span := o.tracer.Start(ctx, "turn.execute",
		trace.WithAttributes(
			attribute.String("turn.id", st.cycle.TurnID),
			attribute.String("tool.action", action),
		))
	defer span.End()

	if o.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := o.tools.Execute(ctx, action, params, st.req.ConversationID)
	durationMS := int(time.Since(start).Milliseconds())

	status := "success"
	success := err == nil && result != nil && result.Executed
	if !success {
		status = "error"
	}
	observability.RecordToolExecution(action, status, durationMS)
	o.publish(ctx, &commbus.ActionExecuted{
		TurnID:         st.cycle.TurnID,
		ConversationID: st.req.ConversationID,
		Action:         action,
		Success:        success,
		Duration:       time.Since(start),
	})

	if err != nil {
		o.logWarn("tool_execution_failed", "turn_id", st.cycle.TurnID, "action", action, "error", err.Error())
		o.audit(ctx, st, audit.StageExecution, "", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
		return nil
	}
	if result.Error != "" {
		o.audit(ctx, st, audit.StageExecution, "", map[string]any{
			"action": action,
			"error":  result.Error,
		})
	}
	return result
}

// generateMessage makes one model call to phrase a user-facing message. The
// fallback is used only when the model itself is unreachable.
func (o *Orchestrator) generateMessage(ctx context.Context, st *turnState, prompt, fallback string) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You write short, friendly messages to the user on behalf of an assistant. Reply with the message text only."},
		{Role: llm.RoleUser, Content: prompt},
	}
	opts := llm.Options{
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Timeout:     o.cfg.ModelTimeout,
	}

	start := time.Now()
	completion, err := llm.CallWithTimeout(ctx, o.gateway, messages, opts)
	durationMS := int(time.Since(start).Milliseconds())
	if err != nil {
		observability.RecordLLMCall("message", "error", durationMS, 0, 0)
		o.logWarn("message_generation_failed", "turn_id", st.cycle.TurnID, "error", err.Error())
		return fallback
	}
	st.cycle.RecordModelCall(completion.Usage.TokensIn, completion.Usage.TokensOut)
	observability.RecordLLMCall("message", "success", durationMS, completion.Usage.TokensIn, completion.Usage.TokensOut)

	content := strings.TrimSpace(completion.Content)
	if content == "" {
		return fallback
	}
	return content
}

// =============================================================================
// MESSAGE PROMPTS
// =============================================================================

func clarifyPrompt(userMessage string, a *assessment.Assessment, issues []string, missing []string) string {
	var b strings.Builder
	b.WriteString("The user said:\n")
	b.WriteString(userMessage)
	b.WriteString("\n\nWrite a clarifying question for them.")
	if a.HasAction() {
		b.WriteString(" The assistant considered the action \"")
		b.WriteString(a.Action)
		b.WriteString("\" but is not certain it should run yet.")
	}
	if len(missing) > 0 {
		b.WriteString(" Ask for the following missing details: ")
		b.WriteString(strings.Join(missing, ", "))
		b.WriteString(".")
	}
	if len(issues) > 0 {
		b.WriteString(" Concerns to address, in your own words: ")
		b.WriteString(strings.Join(issues, "; "))
		b.WriteString(".")
	}
	b.WriteString(" Do not mention internal reviews or policies.")
	return b.String()
}

func escalatePrompt(userMessage string) string {
	return fmt.Sprintf(
		"The user said:\n%s\n\nTell them, matching their language and tone, that you are connecting them with a person who will take it from here. Keep it to one or two sentences.",
		userMessage)
}

func executedPrompt(action string, output map[string]any) string {
	var b strings.Builder
	b.WriteString("The action \"")
	b.WriteString(action)
	b.WriteString("\" just completed successfully")
	if len(output) > 0 {
		b.WriteString(fmt.Sprintf(" with result %v", output))
	}
	b.WriteString(". Tell the user it is done, in one or two sentences.")
	return b.String()
}

func toolFailedPrompt(action string) string {
	return fmt.Sprintf(
		"The action %q could not be completed due to a technical problem and nothing was changed. Apologize briefly and suggest trying again shortly.",
		action)
}
