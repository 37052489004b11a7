// Package tools provides the Tool Execution Gateway: the boundary through
// which a validated action becomes a side effect.
package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Result is the gateway outcome for one action invocation.
type Result struct {
	Executed bool           `json:"executed"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"-"`
}

// Gateway executes a named action with validated parameters. Retry and
// backoff against the underlying system are the implementation's concern,
// not the engine's.
type Gateway interface {
	Execute(ctx context.Context, action string, params map[string]any, conversationID string) (*Result, error)
}

// Handler is a function that executes one tool.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Definition defines a tool's metadata and handler.
type Definition struct {
	Name        string
	Description string
	RiskLevel   string // "low", "medium", "high"
	Handler     Handler
}

// Executor is the in-process Gateway: a registry of handlers keyed by
// action name. Handler panics are recovered and surfaced as failed results
// so a buggy tool cannot take the turn down with it.
type Executor struct {
	tools map[string]*Definition
	mu    sync.RWMutex
}

// NewExecutor creates an empty executor.
func NewExecutor() *Executor {
	return &Executor{tools: make(map[string]*Definition)}
}

// Register registers a tool.
func (e *Executor) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required for '%s'", def.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Name] = def
	return nil
}

// Has checks if a tool is registered.
func (e *Executor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.tools[name]
	return exists
}

// List returns all registered tool names.
func (e *Executor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// Execute implements Gateway.
func (e *Executor) Execute(ctx context.Context, action string, params map[string]any, conversationID string) (*Result, error) {
	e.mu.RLock()
	def, exists := e.tools[action]
	e.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("tool not found: %s", action)
	}

	start := time.Now()
	output, err := callRecovered(ctx, def, params)
	result := &Result{Duration: time.Since(start)}
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Executed = true
	result.Output = output
	return result, nil
}

// callRecovered runs a handler with panic recovery.
func callRecovered(ctx context.Context, def *Definition, params map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tool %s: %v\n%s", def.Name, r, debug.Stack())
		}
	}()
	return def.Handler(ctx, params)
}

var _ Gateway = (*Executor)(nil)
