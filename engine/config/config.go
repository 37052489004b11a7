// Package config provides engine orchestration configuration - no
// infrastructure URLs, no provider settings.
//
// The config object is injected read-only into the orchestrator at wiring
// time. There is no global mutable policy table: per-tenant overrides are a
// matter of constructing a second config.
package config

import (
	"fmt"
	"time"
)

// EngineConfig holds the knobs that bound a reasoning turn.
type EngineConfig struct {
	// MinConfidence is the critique gate's confidence floor: enforced
	// confidence below this triggers a second pass.
	MinConfidence int `json:"min_confidence"`

	// MaxContextFetches caps augmentation loop iterations per turn.
	MaxContextFetches int `json:"max_context_fetches"`

	// CritiqueMaxAttempts is the critique engine's total model-call budget.
	CritiqueMaxAttempts int `json:"critique_max_attempts"`
	// CritiqueRetryDelay is the fixed delay between critique attempts.
	CritiqueRetryDelay time.Duration `json:"critique_retry_delay"`

	// Timeouts - every gateway call carries an upper bound.
	ModelTimeout    time.Duration `json:"model_timeout"`
	CritiqueTimeout time.Duration `json:"critique_timeout"`
	ToolTimeout     time.Duration `json:"tool_timeout"`
	TurnTimeout     time.Duration `json:"turn_timeout"`

	// IntentTTL is how long an unconfirmed pending intent survives.
	IntentTTL time.Duration `json:"intent_ttl"`

	// ConfirmationPhrases overrides the default language-specific phrase
	// set. Empty uses the default English set.
	ConfirmationPhrases []string `json:"confirmation_phrases,omitempty"`

	// Sampling for first-pass and message-generation calls.
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// DefaultEngineConfig returns an EngineConfig with default values.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MinConfidence:       7,
		MaxContextFetches:   2,
		CritiqueMaxAttempts: 2,
		CritiqueRetryDelay:  500 * time.Millisecond,

		ModelTimeout:    60 * time.Second,
		CritiqueTimeout: 30 * time.Second,
		ToolTimeout:     30 * time.Second,
		TurnTimeout:     5 * time.Minute,

		IntentTTL: 10 * time.Minute,

		Temperature: 0.3,
		MaxTokens:   2048,
	}
}

// Validate checks that the configuration is internally consistent.
func (c *EngineConfig) Validate() error {
	if c.MinConfidence < 1 || c.MinConfidence > 10 {
		return fmt.Errorf("min_confidence must be in [1,10], got %d", c.MinConfidence)
	}
	if c.MaxContextFetches < 0 {
		return fmt.Errorf("max_context_fetches must be >= 0, got %d", c.MaxContextFetches)
	}
	if c.CritiqueMaxAttempts < 1 {
		return fmt.Errorf("critique_max_attempts must be >= 1, got %d", c.CritiqueMaxAttempts)
	}
	if c.ModelTimeout <= 0 || c.CritiqueTimeout <= 0 || c.ToolTimeout <= 0 {
		return fmt.Errorf("all call timeouts must be positive")
	}
	if c.IntentTTL <= 0 {
		return fmt.Errorf("intent_ttl must be positive, got %s", c.IntentTTL)
	}
	return nil
}
