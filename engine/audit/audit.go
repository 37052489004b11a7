// Package audit provides the append-only sink for reasoning artifacts.
//
// Every stage of a turn appends its artifact before any side-effecting call
// is made, so a mid-turn failure always leaves a reconstructable trail. The
// engine only writes; reading the trail is an operator concern.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relayline/turnguard/engine/turn"
)

// Stage identifies which engine component produced an entry.
type Stage string

const (
	StageExtraction   Stage = "extraction"
	StageEnforcement  Stage = "enforcement"
	StageGate         Stage = "gate"
	StageAugmentation Stage = "augmentation"
	StageCritique     Stage = "critique"
	StageResolution   Stage = "resolution"
	StageConfirmation Stage = "confirmation"
	StageExecution    Stage = "execution"
)

// Entry is one appended reasoning artifact.
type Entry struct {
	ID             string          `json:"id"`
	TurnID         string          `json:"turn_id"`
	ConversationID string          `json:"conversation_id"`
	TenantID       string          `json:"tenant_id"`
	Stage          Stage           `json:"stage"`
	Reason         turn.ReasonCode `json:"reason,omitempty"`
	Detail         map[string]any  `json:"detail,omitempty"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// Log is the append-only audit sink. Implementations must tolerate being
// called concurrently from independent turns.
type Log interface {
	Append(ctx context.Context, entry *Entry) error
}

// NewEntry stamps identity and time onto an entry.
func NewEntry(turnID, conversationID, tenantID string, stage Stage, reason turn.ReasonCode, detail map[string]any) *Entry {
	return &Entry{
		ID:             "aud_" + uuid.New().String()[:16],
		TurnID:         turnID,
		ConversationID: conversationID,
		TenantID:       tenantID,
		Stage:          stage,
		Reason:         reason,
		Detail:         detail,
		RecordedAt:     time.Now().UTC(),
	}
}

// MemoryLog is an in-process Log, primarily for tests and embedding.
type MemoryLog struct {
	entries []*Entry
	mu      sync.Mutex
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (l *MemoryLog) Append(ctx context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a snapshot of all appended entries in order.
func (l *MemoryLog) Entries() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ByStage returns appended entries for one stage, in order.
func (l *MemoryLog) ByStage(stage Stage) []*Entry {
	var out []*Entry
	for _, e := range l.Entries() {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

var _ Log = (*MemoryLog)(nil)
