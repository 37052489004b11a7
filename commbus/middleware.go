// CommBus middleware implementations.
//
// Middleware intercepts messages before/after handling for cross-cutting
// concerns.
//
// Available middleware:
//   - LoggingMiddleware: structured logging of all message traffic
//   - CircuitBreakerMiddleware: failure protection per message type
package commbus

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("bus_message",
		"category", message.Category(),
		"message_type", GetMessageType(message))
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if err != nil {
		m.logger.Warn("bus_message_failed", "message_type", msgType, "error", err)
	} else {
		m.logger.Debug("bus_message_completed", "message_type", msgType)
	}
	return result, nil
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

// CircuitBreakerState tracks per-message-type breaker state.
type CircuitBreakerState struct {
	Failures    int
	LastFailure time.Time
	State       string // "closed", "open", "half-open"
}

// CircuitBreakerMiddleware implements the circuit breaker pattern.
//
// Protects against cascading failures by:
//   - Opening the circuit after N failures
//   - Blocking requests while open
//   - Testing with a single request in half-open state
//   - Closing the circuit after success
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTypes    map[string]struct{}
	states           map[string]*CircuitBreakerState
	logger           Logger
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a new CircuitBreakerMiddleware.
// A failureThreshold of 0 means the circuit never opens.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string, logger Logger) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{})
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTypes:    excluded,
		states:           make(map[string]*CircuitBreakerState),
		logger:           logger,
	}
}

// getState gets or creates state for a message type. Caller holds the lock.
func (m *CircuitBreakerMiddleware) getState(msgType string) *CircuitBreakerState {
	if _, exists := m.states[msgType]; !exists {
		m.states[msgType] = &CircuitBreakerState{State: "closed"}
	}
	return m.states[msgType]
}

// Before checks circuit breaker state. Returns a nil message to block the
// request while the circuit is open.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	now := time.Now()

	if state.State == "open" {
		if now.Sub(state.LastFailure) >= m.resetTimeout {
			state.State = "half-open"
			m.logger.Info("circuit_half_open", "message_type", msgType)
		} else {
			m.logger.Warn("circuit_open_blocking", "message_type", msgType)
			return nil, nil
		}
	}

	return message, nil
}

// After updates circuit breaker state based on the handler result.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)

	if err != nil {
		state.Failures++
		state.LastFailure = time.Now()

		if state.State == "half-open" {
			state.State = "open"
			m.logger.Warn("circuit_reopened", "message_type", msgType)
		} else if m.failureThreshold > 0 && state.Failures >= m.failureThreshold {
			state.State = "open"
			m.logger.Warn("circuit_opened",
				"message_type", msgType,
				"failures", state.Failures)
		}
	} else if state.State == "half-open" {
		state.State = "closed"
		state.Failures = 0
		m.logger.Info("circuit_closed", "message_type", msgType)
	}

	return result, nil
}

// States returns current circuit states keyed by message type.
func (m *CircuitBreakerMiddleware) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string)
	for k, v := range m.states {
		result[k] = v.State
	}
	return result
}

// Reset clears breaker state for one message type, or all when msgType is
// empty.
func (m *CircuitBreakerMiddleware) Reset(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msgType != "" {
		delete(m.states, msgType)
	} else {
		m.states = make(map[string]*CircuitBreakerState)
	}
}

// Ensure all middleware types implement Middleware interface.
var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
