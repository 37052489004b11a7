package commbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBus() *InMemoryCommBus {
	return NewInMemoryCommBus(5*time.Second, nil)
}

func countingHandler(counter *int32) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		atomic.AddInt32(counter, 1)
		return "ok", nil
	}
}

func failingHandler(errMsg string) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New(errMsg)
	}
}

type abortingMiddleware struct{}

func (m *abortingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	return nil, nil
}

func (m *abortingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, err
}

type trackingMiddleware struct {
	order *[]string
	mu    *sync.Mutex
	name  string
}

func (m *trackingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+"-before")
	m.mu.Unlock()
	return message, nil
}

func (m *trackingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+"-after")
	m.mu.Unlock()
	return result, err
}

// =============================================================================
// PUBLISH
// =============================================================================

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := newTestBus()

	var count1, count2 int32
	bus.Subscribe("turn.completed", countingHandler(&count1))
	bus.Subscribe("turn.completed", countingHandler(&count2))

	err := bus.Publish(context.Background(), &TurnCompleted{
		TurnID:         "t-1",
		ConversationID: "c-1",
		ReasonCode:     "responded-successfully",
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count2))
}

func TestPublishWithNoSubscribersSucceeds(t *testing.T) {
	bus := newTestBus()

	err := bus.Publish(context.Background(), &TurnStarted{TurnID: "t-1"})
	assert.NoError(t, err)
}

func TestPublishSubscriberFailureDoesNotStopOthers(t *testing.T) {
	bus := newTestBus()

	var count int32
	bus.Subscribe("turn.escalation_raised", failingHandler("boom"))
	bus.Subscribe("turn.escalation_raised", countingHandler(&count))

	err := bus.Publish(context.Background(), &EscalationRaised{TurnID: "t-1"})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestUnsubscribeRemovesOnlyThatSubscription(t *testing.T) {
	bus := newTestBus()

	var count1, count2 int32
	unsub := bus.Subscribe("turn.started", countingHandler(&count1))
	bus.Subscribe("turn.started", countingHandler(&count2))

	require.Equal(t, 2, bus.SubscriberCount("turn.started"))

	unsub()
	require.Equal(t, 1, bus.SubscriberCount("turn.started"))

	err := bus.Publish(context.Background(), &TurnStarted{TurnID: "t-1"})
	require.NoError(t, err)

	assert.Equal(t, int32(0), atomic.LoadInt32(&count1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count2))
}

// =============================================================================
// SEND
// =============================================================================

func TestSendInvokesRegisteredHandler(t *testing.T) {
	bus := newTestBus()

	var count int32
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))

	err := bus.Send(context.Background(), &SweepIntentsCommand{RequestedAt: time.Now()})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestSendWithoutHandlerIsNotAnError(t *testing.T) {
	bus := newTestBus()

	err := bus.Send(context.Background(), &SweepIntentsCommand{})
	assert.NoError(t, err)
}

func TestSendPropagatesHandlerError(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler("intents.sweep", failingHandler("sweep failed")))

	err := bus.Send(context.Background(), &SweepIntentsCommand{})
	assert.EqualError(t, err, "sweep failed")
}

// =============================================================================
// QUERY
// =============================================================================

func TestQuerySyncReturnsHandlerResponse(t *testing.T) {
	bus := newTestBus()

	require.NoError(t, bus.RegisterHandler("catalog.snapshot", func(ctx context.Context, msg Message) (any, error) {
		q := msg.(*CatalogSnapshotQuery)
		return &CatalogSnapshotResponse{
			TenantID: q.TenantID,
			Actions:  []string{"cancel_order", "track_order"},
		}, nil
	}))

	result, err := bus.QuerySync(context.Background(), &CatalogSnapshotQuery{TenantID: "acme"})

	require.NoError(t, err)
	resp := result.(*CatalogSnapshotResponse)
	assert.Equal(t, "acme", resp.TenantID)
	assert.Equal(t, []string{"cancel_order", "track_order"}, resp.Actions)
}

func TestQuerySyncWithoutHandlerFails(t *testing.T) {
	bus := newTestBus()

	_, err := bus.QuerySync(context.Background(), &CatalogSnapshotQuery{TenantID: "acme"})

	var noHandler *NoHandlerError
	require.ErrorAs(t, err, &noHandler)
	assert.Equal(t, "catalog.snapshot", noHandler.MessageType)
}

func TestQuerySyncTimesOut(t *testing.T) {
	bus := NewInMemoryCommBus(50*time.Millisecond, nil)

	require.NoError(t, bus.RegisterHandler("catalog.snapshot", func(ctx context.Context, msg Message) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := bus.QuerySync(context.Background(), &CatalogSnapshotQuery{TenantID: "acme"})

	var timeout *QueryTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "catalog.snapshot", timeout.MessageType)
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegisterHandlerRejectsDuplicates(t *testing.T) {
	bus := newTestBus()

	var count int32
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))

	err := bus.RegisterHandler("intents.sweep", countingHandler(&count))

	var dup *HandlerAlreadyRegisteredError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "intents.sweep", dup.MessageType)
}

func TestHasHandler(t *testing.T) {
	bus := newTestBus()

	assert.False(t, bus.HasHandler("intents.sweep"))

	var count int32
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))
	assert.True(t, bus.HasHandler("intents.sweep"))
}

func TestRegisteredTypesCoversHandlersAndSubscriptions(t *testing.T) {
	bus := newTestBus()

	var count int32
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))
	bus.Subscribe("turn.completed", countingHandler(&count))

	types := bus.RegisteredTypes()
	assert.ElementsMatch(t, []string{"intents.sweep", "turn.completed"}, types)
}

func TestClearRemovesEverything(t *testing.T) {
	bus := newTestBus()

	var count int32
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))
	bus.Subscribe("turn.completed", countingHandler(&count))

	bus.Clear()

	assert.False(t, bus.HasHandler("intents.sweep"))
	assert.Equal(t, 0, bus.SubscriberCount("turn.completed"))
	assert.Empty(t, bus.RegisteredTypes())
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestMiddlewareBeforeAbortBlocksDelivery(t *testing.T) {
	bus := newTestBus()
	bus.AddMiddleware(&abortingMiddleware{})

	var count int32
	bus.Subscribe("turn.started", countingHandler(&count))

	err := bus.Publish(context.Background(), &TurnStarted{TurnID: "t-1"})

	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestMiddlewareRunsBeforeInOrderAfterInReverse(t *testing.T) {
	bus := newTestBus()

	var order []string
	var mu sync.Mutex
	bus.AddMiddleware(&trackingMiddleware{order: &order, mu: &mu, name: "first"})
	bus.AddMiddleware(&trackingMiddleware{order: &order, mu: &mu, name: "second"})

	var count int32
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))
	require.NoError(t, bus.Send(context.Background(), &SweepIntentsCommand{}))

	assert.Equal(t, []string{"first-before", "second-before", "second-after", "first-after"}, order)
}

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	bus := newTestBus()
	cb := NewCircuitBreakerMiddleware(2, time.Minute, nil, nil)
	bus.AddMiddleware(cb)

	require.NoError(t, bus.RegisterHandler("intents.sweep", failingHandler("down")))

	ctx := context.Background()
	_ = bus.Send(ctx, &SweepIntentsCommand{})
	_ = bus.Send(ctx, &SweepIntentsCommand{})

	assert.Equal(t, "open", cb.States()["intents.sweep"])

	// Open circuit blocks the next request before it reaches the handler.
	var count int32
	bus.Clear()
	bus.AddMiddleware(cb)
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))
	_ = bus.Send(ctx, &SweepIntentsCommand{})
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestCircuitBreakerHalfOpenThenCloses(t *testing.T) {
	bus := newTestBus()
	cb := NewCircuitBreakerMiddleware(1, 10*time.Millisecond, nil, nil)
	bus.AddMiddleware(cb)

	require.NoError(t, bus.RegisterHandler("intents.sweep", failingHandler("down")))
	_ = bus.Send(context.Background(), &SweepIntentsCommand{})
	require.Equal(t, "open", cb.States()["intents.sweep"])

	time.Sleep(20 * time.Millisecond)

	// Recovery: swap in a healthy handler, next request goes half-open then closed.
	bus.Clear()
	bus.AddMiddleware(cb)
	var count int32
	require.NoError(t, bus.RegisterHandler("intents.sweep", countingHandler(&count)))
	_ = bus.Send(context.Background(), &SweepIntentsCommand{})

	assert.Equal(t, "closed", cb.States()["intents.sweep"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestCircuitBreakerExcludedTypesBypass(t *testing.T) {
	bus := newTestBus()
	cb := NewCircuitBreakerMiddleware(1, time.Minute, []string{"intents.sweep"}, nil)
	bus.AddMiddleware(cb)

	require.NoError(t, bus.RegisterHandler("intents.sweep", failingHandler("down")))
	_ = bus.Send(context.Background(), &SweepIntentsCommand{})
	_ = bus.Send(context.Background(), &SweepIntentsCommand{})

	_, tracked := cb.States()["intents.sweep"]
	assert.False(t, tracked)
}

func TestCircuitBreakerReset(t *testing.T) {
	bus := newTestBus()
	cb := NewCircuitBreakerMiddleware(1, time.Minute, nil, nil)
	bus.AddMiddleware(cb)

	require.NoError(t, bus.RegisterHandler("intents.sweep", failingHandler("down")))
	_ = bus.Send(context.Background(), &SweepIntentsCommand{})
	require.Equal(t, "open", cb.States()["intents.sweep"])

	cb.Reset("intents.sweep")
	assert.Empty(t, cb.States())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := newTestBus()

	var count int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe("turn.completed", countingHandler(&count))
		}()
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), &TurnCompleted{TurnID: "t"})
		}()
	}

	wg.Wait()
	assert.Equal(t, 10, bus.SubscriberCount("turn.completed"))
}
