// Package llm defines the Language Model Gateway consumed by the engine.
//
// The engine only ever sees an ordered message list in and free text plus
// token usage out. Prompt templating, provider selection and transport
// concerns live behind the Gateway implementation.
package llm

import (
	"context"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the ordered conversation transcript sent to the
// gateway.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options carries sampling options for a single call.
type Options struct {
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"-"`
}

// Usage is the gateway-reported token accounting for one call.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Completion is the gateway response: free-text content plus usage.
type Completion struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Gateway is the engine's view of a language model provider.
type Gateway interface {
	Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error)
}

// CallWithTimeout wraps a gateway call in the per-call upper-bound timeout
// required of every suspension point. A zero timeout leaves the parent
// context's deadline in force.
func CallWithTimeout(ctx context.Context, gw Gateway, messages []Message, opts Options) (*Completion, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return gw.Complete(ctx, messages, opts)
}
