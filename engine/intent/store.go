package intent

import (
	"context"
	"sync"
	"time"
)

// Store is the keyed, expiring pending-intent store. At most one intent is
// held per conversation; a new Set overwrites any prior one.
//
// GetAndClear is the single operation in the engine requiring true mutual
// exclusion: it must be one indivisible store-level primitive so that two
// near-simultaneous confirmations for the same conversation cannot both
// obtain - and execute - the same destructive action.
type Store interface {
	Set(ctx context.Context, conversationID string, pi *PendingIntent, ttl time.Duration) error
	GetAndClear(ctx context.Context, conversationID string) (*PendingIntent, error)
}

type storedIntent struct {
	intent    *PendingIntent
	expiresAt time.Time // zero means no expiry
}

func (s *storedIntent) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && now.After(s.expiresAt)
}

// MemoryStore is the in-process Store. The mutex held across the whole
// get-and-clear makes it atomic; no gateway call ever happens under it.
type MemoryStore struct {
	intents map[string]*storedIntent
	mu      sync.Mutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*storedIntent)}
}

// Set stores an intent, overwriting any existing one for the conversation.
func (s *MemoryStore) Set(ctx context.Context, conversationID string, pi *PendingIntent, ttl time.Duration) error {
	entry := &storedIntent{intent: pi}
	if ttl > 0 {
		entry.expiresAt = time.Now().UTC().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[conversationID] = entry
	return nil
}

// GetAndClear atomically fetches and removes the intent for a conversation.
// Returns nil when no live intent exists; expired entries are dropped on
// access.
func (s *MemoryStore) GetAndClear(ctx context.Context, conversationID string) (*PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.intents[conversationID]
	if !exists {
		return nil, nil
	}
	delete(s.intents, conversationID)

	if entry.expired(time.Now().UTC()) {
		return nil, nil
	}
	return entry.intent, nil
}

// Sweep removes expired entries. Intended for a periodic cleanup loop; the
// store stays correct without it since GetAndClear drops expired entries
// itself.
func (s *MemoryStore) Sweep() int {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.intents {
		if entry.expired(now) {
			delete(s.intents, id)
			removed++
		}
	}
	return removed
}

var _ Store = (*MemoryStore)(nil)
