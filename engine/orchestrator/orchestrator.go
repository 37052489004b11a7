// Package orchestrator composes the full reasoning pipeline for one
// conversational turn: extraction, policy enforcement, the critique gate and
// engine, context augmentation, decision resolution and the confirmation
// short-circuit.
//
// One sequential task per turn; every gateway and store call is awaited
// before the next. Turns for different conversations run concurrently with
// no shared mutable state besides the pending-intent store and the read-only
// catalog.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayline/turnguard/commbus"
	"github.com/relayline/turnguard/engine/assessment"
	"github.com/relayline/turnguard/engine/audit"
	"github.com/relayline/turnguard/engine/catalog"
	"github.com/relayline/turnguard/engine/config"
	"github.com/relayline/turnguard/engine/critique"
	"github.com/relayline/turnguard/engine/intent"
	"github.com/relayline/turnguard/engine/llm"
	"github.com/relayline/turnguard/engine/observability"
	"github.com/relayline/turnguard/engine/tools"
	"github.com/relayline/turnguard/engine/turn"
)

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Escalation is the full reasoning trail handed to the escalation
// collaborator.
type Escalation struct {
	TurnID         string
	ConversationID string
	TenantID       string
	UserMessage    string
	Reason         string
	Assessment     *assessment.Assessment
	Verdict        *critique.Verdict
}

// Escalator receives turns the engine refuses to finish on its own.
type Escalator interface {
	Escalate(ctx context.Context, e *Escalation) error
}

// Deps are the collaborators the orchestrator is wired with. Catalog and
// Knowledge are read-only after construction.
type Deps struct {
	Gateway   llm.Gateway
	Tools     tools.Gateway
	Catalog   *catalog.Catalog
	Knowledge *catalog.Knowledge
	Intents   intent.Store
	Audit     audit.Log
	Escalator Escalator
	Bus       commbus.CommBus
	Logger    Logger
}

// Orchestrator drives one turn end to end.
type Orchestrator struct {
	gateway   llm.Gateway
	tools     tools.Gateway
	catalog   *catalog.Catalog
	knowledge *catalog.Knowledge
	critic    *critique.Engine
	intents   intent.Store
	matcher   *intent.Matcher
	auditLog  audit.Log
	escalator Escalator
	bus       commbus.CommBus
	cfg       *config.EngineConfig
	logger    Logger
	tracer    trace.Tracer
}

// New wires an orchestrator. Audit defaults to an in-memory log and
// Knowledge to an empty object when not provided.
func New(cfg *config.EngineConfig, deps Deps) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewMemoryLog()
	}
	if deps.Knowledge == nil {
		deps.Knowledge = catalog.NewKnowledge(nil)
	}

	critic := critique.NewEngine(deps.Gateway, critique.Config{
		MaxAttempts: cfg.CritiqueMaxAttempts,
		RetryDelay:  cfg.CritiqueRetryDelay,
		Timeout:     cfg.CritiqueTimeout,
		Temperature: 0.0,
		MaxTokens:   cfg.MaxTokens,
	}, deps.Logger)

	return &Orchestrator{
		gateway:   deps.Gateway,
		tools:     deps.Tools,
		catalog:   deps.Catalog,
		knowledge: deps.Knowledge,
		critic:    critic,
		intents:   deps.Intents,
		matcher:   intent.NewMatcher(cfg.ConfirmationPhrases),
		auditLog:  deps.Audit,
		escalator: deps.Escalator,
		bus:       deps.Bus,
		cfg:       cfg,
		logger:    deps.Logger,
		tracer:    otel.Tracer("turnguard/orchestrator"),
	}
}

// turnState is the per-turn mutable state threaded through the pipeline.
type turnState struct {
	req   *turn.Request
	cycle *turn.Cycle
	// fallbackUsed marks the single full-knowledge call as spent, so the
	// model-call bound holds even across the retry cycle.
	fallbackUsed bool
}

// HandleTurn processes one inbound message and returns exactly one outcome.
// It only returns an error for an invalid request; every runtime failure
// degrades to a user-visible outcome instead.
func (o *Orchestrator) HandleTurn(ctx context.Context, req *turn.Request) (*turn.Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	turnID := "trn_" + uuid.New().String()[:16]
	st := &turnState{req: req, cycle: turn.NewCycle(turnID, o.cfg.MaxContextFetches)}

	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "turn.handle",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("conversation.id", req.ConversationID),
			attribute.String("tenant.id", req.TenantID),
		))
	defer span.End()

	o.publish(ctx, &commbus.TurnStarted{
		TurnID:         turnID,
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		StartedAt:      st.cycle.StartedAt,
	})

	outcome := o.handle(ctx, st)
	outcome.Metrics = st.cycle.Metrics()

	span.SetAttributes(
		attribute.String("turn.reason_code", string(outcome.ReasonCode)),
		attribute.Bool("turn.escalated", outcome.Escalated),
		attribute.Int("turn.model_calls", st.cycle.ModelCalls),
	)

	duration := time.Since(st.cycle.StartedAt)
	observability.RecordTurn(req.TenantID, string(outcome.ReasonCode), st.cycle.ModelCalls, int(duration.Milliseconds()))
	o.publish(ctx, &commbus.TurnCompleted{
		TurnID:         turnID,
		ConversationID: req.ConversationID,
		ReasonCode:     string(outcome.ReasonCode),
		Escalated:      outcome.Escalated,
		ModelCalls:     st.cycle.ModelCalls,
		Duration:       duration,
	})
	return outcome, nil
}

// handle runs the confirmation short-circuit, then the full pipeline.
func (o *Orchestrator) handle(ctx context.Context, st *turnState) *turn.Outcome {
	if outcome := o.tryConfirmation(ctx, st); outcome != nil {
		return outcome
	}

	result, err := o.reason(ctx, st, nil)
	if err != nil {
		// The model gateway itself is down. There is nothing to reason
		// about; hand the turn to a human with the stock message.
		o.logWarn("first_pass_unavailable", "turn_id", st.cycle.TurnID, "error", err.Error())
		return o.escalate(ctx, st, nil, critique.EscalateVerdict(
			"language model unavailable: "+err.Error()))
	}

	return o.resolveCycle(ctx, st, result)
}

// tryConfirmation is the alternate entry path. A lexical match earns an
// atomic get-and-clear; a live intent executes directly through the tool
// gateway. The policy enforcer and critique gate are bypassed because the
// intent's action and params were validated at creation time and the stored
// copy is single-use.
func (o *Orchestrator) tryConfirmation(ctx context.Context, st *turnState) *turn.Outcome {
	if !o.matcher.Matches(st.req.Message) {
		return nil
	}

	pi, err := o.intents.GetAndClear(ctx, st.req.ConversationID)
	if err != nil {
		o.logWarn("intent_lookup_failed", "turn_id", st.cycle.TurnID, "error", err.Error())
		return nil
	}
	if pi == nil {
		// An affirmative message with nothing pending is a normal message.
		observability.RecordConfirmation("absent")
		return nil
	}

	observability.RecordConfirmation("confirmed")
	o.audit(ctx, st, audit.StageConfirmation, turn.ReasonConfirmationReceived, map[string]any{
		"action": pi.Action,
		"hash":   pi.Hash,
	})
	o.publish(ctx, &commbus.IntentConfirmed{
		TurnID:         st.cycle.TurnID,
		ConversationID: st.req.ConversationID,
		Action:         pi.Action,
		Hash:           pi.Hash,
	})

	result := o.execute(ctx, st, pi.Action, pi.Params)
	outcome := o.outcome(st, turn.ReasonConfirmationReceived)
	if result != nil && result.Executed {
		outcome.ToolExecuted = true
		outcome.ToolResult = result.Output
		outcome.Response = o.generateMessage(ctx, st, executedPrompt(pi.Action, result.Output),
			"Done. The requested action has been completed.")
	} else {
		outcome.Response = o.generateMessage(ctx, st, toolFailedPrompt(pi.Action),
			"I wasn't able to complete that action. Nothing has been changed.")
	}
	return outcome
}

// outcome builds the outcome skeleton for the current turn. Metrics are
// stamped once in HandleTurn after the pipeline finishes.
func (o *Orchestrator) outcome(st *turnState, reason turn.ReasonCode) *turn.Outcome {
	return &turn.Outcome{
		TurnID:     st.cycle.TurnID,
		ReasonCode: reason,
	}
}

// audit appends a reasoning artifact. Audit failures are logged, never
// propagated; losing an audit write must not fail a user turn.
func (o *Orchestrator) audit(ctx context.Context, st *turnState, stage audit.Stage, reason turn.ReasonCode, detail map[string]any) {
	entry := audit.NewEntry(st.cycle.TurnID, st.req.ConversationID, st.req.TenantID, stage, reason, detail)
	if err := o.auditLog.Append(ctx, entry); err != nil {
		o.logWarn("audit_append_failed", "turn_id", st.cycle.TurnID, "stage", string(stage), "error", err.Error())
	}
}

func (o *Orchestrator) publish(ctx context.Context, event commbus.Message) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, event); err != nil {
		o.logWarn("event_publish_failed", "event_type", commbus.GetMessageType(event), "error", err.Error())
	}
}

func (o *Orchestrator) logDebug(msg string, kv ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, kv...)
	}
}

func (o *Orchestrator) logWarn(msg string, kv ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, kv...)
	}
}
