// Package testutil provides shared mocks for engine tests.
//
// All mocks here let the engine components be tested in isolation without a
// real model provider, tool backend or escalation channel.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/relayline/turnguard/engine/llm"
	"github.com/relayline/turnguard/engine/orchestrator"
	"github.com/relayline/turnguard/engine/tools"
)

// =============================================================================
// MOCK LLM GATEWAY
// =============================================================================

// GatewayCall records a single gateway call for assertion.
type GatewayCall struct {
	Messages []llm.Message
	Options  llm.Options
}

// MockGateway implements llm.Gateway for testing.
//
// Responses are consumed in order; when the script runs out, the
// DefaultResponse is returned. Errors can be scripted per-call with an
// ErrorScript entry, or globally with Error. CompleteFunc overrides
// everything when set.
type MockGateway struct {
	// Script is the ordered list of responses, consumed one per call.
	Script []string

	// ErrorScript maps 1-based call numbers to errors. A scripted error
	// consumes a call without consuming a Script entry.
	ErrorScript map[int]error

	// DefaultResponse is returned once the script is exhausted.
	DefaultResponse string

	// Error, when set, fails every call.
	Error error

	// Delay simulates provider latency.
	Delay time.Duration

	// CompleteFunc allows fully custom behavior.
	CompleteFunc func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error)

	// Calls records every call for assertion.
	Calls []GatewayCall

	callCount int
	scriptPos int
	mu        sync.Mutex
}

// NewMockGateway creates a gateway that replays the given responses in
// order.
func NewMockGateway(script ...string) *MockGateway {
	return &MockGateway{
		Script:          script,
		DefaultResponse: "Happy to help.",
	}
}

// Complete implements llm.Gateway.
func (m *MockGateway) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
	m.mu.Lock()
	m.callCount++
	call := m.callCount
	m.Calls = append(m.Calls, GatewayCall{Messages: messages, Options: opts})
	custom := m.CompleteFunc
	m.mu.Unlock()

	if custom != nil {
		return custom(ctx, messages, opts)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Error != nil {
		return nil, m.Error
	}
	if err, ok := m.ErrorScript[call]; ok {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	content := m.DefaultResponse
	if m.scriptPos < len(m.Script) {
		content = m.Script[m.scriptPos]
		m.scriptPos++
	}
	return &llm.Completion{
		Content: content,
		Usage:   llm.Usage{TokensIn: 10, TokensOut: 20},
	}, nil
}

// CallCount returns the number of calls made so far.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastCall returns the most recent call, or nil if none were made.
func (m *MockGateway) LastCall() *GatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return &m.Calls[len(m.Calls)-1]
}

// PromptContains reports whether any recorded message of any call contains
// the substring.
func (m *MockGateway) PromptContains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.Calls {
		for _, msg := range call.Messages {
			if strings.Contains(msg.Content, substr) {
				return true
			}
		}
	}
	return false
}

var _ llm.Gateway = (*MockGateway)(nil)

// =============================================================================
// MOCK TOOL GATEWAY
// =============================================================================

// ToolCall records one Execute invocation.
type ToolCall struct {
	Action         string
	Params         map[string]any
	ConversationID string
}

// MockToolGateway implements tools.Gateway for testing.
type MockToolGateway struct {
	// Result is returned for every call unless Error is set.
	Result *tools.Result
	// Error fails every call.
	Error error

	Calls []ToolCall
	mu    sync.Mutex
}

// NewMockToolGateway creates a gateway that reports success with the given
// output.
func NewMockToolGateway(output map[string]any) *MockToolGateway {
	return &MockToolGateway{Result: &tools.Result{Executed: true, Output: output}}
}

// Execute implements tools.Gateway.
func (m *MockToolGateway) Execute(ctx context.Context, action string, params map[string]any, conversationID string) (*tools.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ToolCall{Action: action, Params: params, ConversationID: conversationID})
	m.mu.Unlock()

	if m.Error != nil {
		return nil, m.Error
	}
	return m.Result, nil
}

// CallCount returns the number of Execute calls.
func (m *MockToolGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ tools.Gateway = (*MockToolGateway)(nil)

// =============================================================================
// MOCK ESCALATOR
// =============================================================================

// MockEscalator implements orchestrator.Escalator for testing.
type MockEscalator struct {
	Escalations []*orchestrator.Escalation
	Error       error
	mu          sync.Mutex
}

// Escalate implements orchestrator.Escalator.
func (m *MockEscalator) Escalate(ctx context.Context, e *orchestrator.Escalation) error {
	m.mu.Lock()
	m.Escalations = append(m.Escalations, e)
	m.mu.Unlock()
	return m.Error
}

// Count returns the number of escalations received.
func (m *MockEscalator) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Escalations)
}

// Last returns the most recent escalation, or nil.
func (m *MockEscalator) Last() *orchestrator.Escalation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Escalations) == 0 {
		return nil
	}
	return m.Escalations[len(m.Escalations)-1]
}

var _ orchestrator.Escalator = (*MockEscalator)(nil)
