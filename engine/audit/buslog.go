package audit

import (
	"context"

	"github.com/relayline/turnguard/commbus"
)

// BusLog decorates another Log and announces every appended entry on the
// communication bus. Publishing is best-effort; the underlying append is the
// source of truth and a bus failure never loses the entry.
type BusLog struct {
	next Log
	bus  commbus.CommBus
}

// NewBusLog wraps next so every entry is also published as an AuditRecorded
// event.
func NewBusLog(next Log, bus commbus.CommBus) *BusLog {
	return &BusLog{next: next, bus: bus}
}

// Append writes the entry to the underlying log, then publishes it.
func (l *BusLog) Append(ctx context.Context, entry *Entry) error {
	if err := l.next.Append(ctx, entry); err != nil {
		return err
	}

	_ = l.bus.Publish(ctx, &commbus.AuditRecorded{
		EntryID:        entry.ID,
		TurnID:         entry.TurnID,
		ConversationID: entry.ConversationID,
		Stage:          string(entry.Stage),
		Reason:         string(entry.Reason),
	})
	return nil
}

var _ Log = (*BusLog)(nil)
