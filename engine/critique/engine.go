package critique

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relayline/turnguard/engine/assessment"
	"github.com/relayline/turnguard/engine/catalog"
	"github.com/relayline/turnguard/engine/llm"
	"github.com/relayline/turnguard/engine/turn"
)

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config bounds the critique engine's model calls.
type Config struct {
	// MaxAttempts is the total number of model calls before the engine
	// synthesizes an ESCALATE verdict.
	MaxAttempts int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
	// Timeout is the per-call upper bound. A timeout is handled exactly
	// like a parse failure: retry, then escalate.
	Timeout time.Duration
	// Temperature for the critique call. Critique wants determinism.
	Temperature float64
	// MaxTokens for the critique call.
	MaxTokens int
}

// DefaultConfig returns the standard critique bounds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 2,
		RetryDelay:  500 * time.Millisecond,
		Timeout:     30 * time.Second,
		Temperature: 0.0,
		MaxTokens:   1024,
	}
}

// Input is everything the second pass reviews.
type Input struct {
	UserMessage string
	Assessment  *assessment.Assessment
	Catalog     *catalog.Catalog
	History     []turn.HistoryEntry
}

// Engine performs the independent second model pass.
type Engine struct {
	gateway llm.Gateway
	config  Config
	logger  Logger
}

// NewEngine creates a critique engine.
func NewEngine(gateway llm.Gateway, config Config, logger Logger) *Engine {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Engine{gateway: gateway, config: config, logger: logger}
}

// Review runs the critique call with bounded retry. It always returns a
// usable verdict: transport errors, timeouts and parse failures are retried
// up to the configured attempt count, and exhaustion synthesizes ESCALATE
// with the failure cited in the reasoning. Critique failure must never
// silently permit an unvalidated action.
func (e *Engine) Review(ctx context.Context, in Input) *Verdict {
	messages := e.buildMessages(in)
	opts := llm.Options{
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		Timeout:     e.config.Timeout,
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if attempt > 1 && e.config.RetryDelay > 0 {
			timer := time.NewTimer(e.config.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return e.exhausted(ctx.Err())
			case <-timer.C:
			}
		}

		completion, err := llm.CallWithTimeout(ctx, e.gateway, messages, opts)
		if err != nil {
			lastErr = err
			if e.logger != nil {
				e.logger.Warn("critique_call_failed",
					"attempt", attempt,
					"max_attempts", e.config.MaxAttempts,
					"error", err.Error(),
				)
			}
			continue
		}

		verdict, err := ParseVerdict(completion.Content)
		if err != nil {
			lastErr = err
			if e.logger != nil {
				e.logger.Warn("critique_parse_failed",
					"attempt", attempt,
					"error", err.Error(),
				)
			}
			continue
		}

		if e.logger != nil {
			e.logger.Debug("critique_completed",
				"attempt", attempt,
				"decision", string(verdict.Decision),
			)
		}
		return verdict
	}

	return e.exhausted(lastErr)
}

// exhausted synthesizes the fail-closed verdict after retry exhaustion.
func (e *Engine) exhausted(lastErr error) *Verdict {
	reason := fmt.Sprintf(
		"critique unavailable after %d attempts (last error: %v); escalating to a human for safety",
		e.config.MaxAttempts, lastErr,
	)
	if e.logger != nil {
		e.logger.Error("critique_exhausted", "attempts", e.config.MaxAttempts, "error", fmt.Sprint(lastErr))
	}
	return EscalateVerdict(reason)
}

// buildMessages assembles the critique transcript: system instructions, the
// recent history, and one user message bundling the original request with
// the full enforced assessment and catalog summary.
func (e *Engine) buildMessages(in Input) []llm.Message {
	assessmentJSON, _ := json.MarshalIndent(in.Assessment, "", "  ")

	var b strings.Builder
	b.WriteString("Review the assistant's self-assessment for the user message below.\n\n")
	b.WriteString("User message:\n")
	b.WriteString(in.UserMessage)
	b.WriteString("\n\nSelf-assessment:\n")
	b.Write(assessmentJSON)
	b.WriteString("\n\nAvailable actions:\n")
	b.WriteString(in.Catalog.Summary())
	b.WriteString("\nRespond with a single JSON object: ")
	b.WriteString(`{"decision": "PROCEED|RETRY|ASK_USER|ESCALATE", "reasoning": "...", `)
	b.WriteString(`"understanding": {"correct": bool, "misunderstanding": "...", "what_user_wants": "..."}, `)
	b.WriteString(`"choice": {"correct": bool, "suggested": "..."}, `)
	b.WriteString(`"execution": {"issues": ["..."]}}`)

	messages := []llm.Message{{
		Role: llm.RoleSystem,
		Content: "You are an independent reviewer. Judge whether the proposed " +
			"action is safe, correctly chosen, and correctly parameterized. " +
			"Be skeptical of the assistant's own confidence claims.",
	}}
	for _, h := range in.History {
		role := llm.RoleUser
		if h.Role == "assistant" {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: h.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: b.String()})
}
