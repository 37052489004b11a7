// Package commbus provides the in-process communication bus the engine
// publishes its turn lifecycle events on.
//
// Components depend on these protocols, not on the bus implementation. The
// audit bus sink, metrics subscribers and the server's trace logging all
// attach here.
package commbus

import "context"

// Message is the protocol for all bus messages. Every message (event,
// query, command) declares its category.
type Message interface {
	// Category returns "event", "query", or "command".
	Category() string
}

// Query is the protocol for messages that expect a response.
type Query interface {
	Message
	// IsQuery is a marker method distinguishing queries.
	IsQuery()
}

// Handler processes a message and optionally returns a response (queries).
type Handler interface {
	Handle(ctx context.Context, message Message) (any, error)
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, message Message) (any, error) {
	return f(ctx, message)
}

// Middleware intercepts messages before/after handling for cross-cutting
// concerns: logging, telemetry, circuit breaking.
type Middleware interface {
	// Before is called before the message is handled. Returning a nil
	// message aborts processing.
	Before(ctx context.Context, message Message) (Message, error)

	// After is called after the message is handled.
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus provides three messaging patterns:
//   - Publish(event): fire-and-forget, fan-out to all subscribers
//   - Send(command): fire-and-forget, single handler
//   - QuerySync(query): request-response with timeout
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	Send(ctx context.Context, command Message) error
	QuerySync(ctx context.Context, query Query) (any, error)

	Subscribe(eventType string, handler HandlerFunc) func()
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)

	HasHandler(messageType string) bool
}

// Logger is the canonical protocol for structured logging on the bus.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
