package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayline/turnguard/commbus"
	"github.com/relayline/turnguard/engine/turn"
)

func TestNewEntryStampsIdentity(t *testing.T) {
	e := NewEntry("trn_1", "conv-1", "acme", StageExtraction, "", map[string]any{"has_assessment": true})

	assert.True(t, len(e.ID) > 4 && e.ID[:4] == "aud_")
	assert.Equal(t, "trn_1", e.TurnID)
	assert.Equal(t, "conv-1", e.ConversationID)
	assert.Equal(t, "acme", e.TenantID)
	assert.Equal(t, StageExtraction, e.Stage)
	assert.WithinDuration(t, time.Now().UTC(), e.RecordedAt, time.Minute)
}

func TestMemoryLogAppendsInOrder(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, NewEntry("trn_1", "c", "t", StageExtraction, "", nil)))
	require.NoError(t, l.Append(ctx, NewEntry("trn_1", "c", "t", StageEnforcement, turn.ReasonActionNotFound, nil)))
	require.NoError(t, l.Append(ctx, NewEntry("trn_1", "c", "t", StageResolution, turn.ReasonEscalated, nil)))

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, StageExtraction, entries[0].Stage)
	assert.Equal(t, StageResolution, entries[2].Stage)

	blocked := l.ByStage(StageEnforcement)
	require.Len(t, blocked, 1)
	assert.Equal(t, turn.ReasonActionNotFound, blocked[0].Reason)
}

func TestMemoryLogConcurrentAppend(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Append(ctx, NewEntry("trn_1", "c", "t", StageExecution, "", nil)))
		}()
	}
	wg.Wait()

	assert.Len(t, l.Entries(), 20)
}

func TestBusLogAppendsThenPublishes(t *testing.T) {
	inner := NewMemoryLog()
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	l := NewBusLog(inner, bus)

	var published []*commbus.AuditRecorded
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	unsubscribe := bus.Subscribe("audit.recorded", func(ctx context.Context, msg commbus.Message) (any, error) {
		mu.Lock()
		published = append(published, msg.(*commbus.AuditRecorded))
		mu.Unlock()
		done <- struct{}{}
		return nil, nil
	})
	defer unsubscribe()

	entry := NewEntry("trn_1", "conv-1", "acme", StageConfirmation, turn.ReasonConfirmationReceived, nil)
	require.NoError(t, l.Append(context.Background(), entry))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit event was not published")
	}

	require.Len(t, inner.Entries(), 1)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	assert.Equal(t, entry.ID, published[0].EntryID)
	assert.Equal(t, "confirmation", published[0].Stage)
	assert.Equal(t, string(turn.ReasonConfirmationReceived), published[0].Reason)
}
