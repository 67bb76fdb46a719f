package changefeed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Outbox collects the change events of one unit of work and publishes them
// only after the caller's transaction committed.
type Outbox struct {
	pub    Publisher
	mu     sync.Mutex
	events []ChangeEvent
}

func NewOutbox(pub Publisher) *Outbox {
	return &Outbox{pub: pub}
}

func (o *Outbox) Add(events ...ChangeEvent) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events...)
}

func (o *Outbox) Insert(table, userID string, row any) {
	o.Add(NewInsert(table, userID, row))
}

func (o *Outbox) Update(table, userID string, old, new any) {
	o.Add(NewUpdate(table, userID, old, new))
}

// Reset drops pending events, e.g. before retrying a rolled back transaction.
func (o *Outbox) Reset() {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = nil
}

func (o *Outbox) Pending() []ChangeEvent {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ChangeEvent, len(o.events))
	copy(out, o.events)
	return out
}

// Flush publishes and clears pending events. Publish failures are logged; the
// committed state is already durable and clients resync on reconnect.
func (o *Outbox) Flush(ctx context.Context) {
	if o == nil || o.pub == nil {
		return
	}
	o.mu.Lock()
	events := o.events
	o.events = nil
	o.mu.Unlock()

	if len(events) == 0 {
		return
	}
	if err := o.pub.Publish(ctx, events...); err != nil {
		zap.L().Warn("failed to publish change events", zap.Int("count", len(events)), zap.Error(err))
	}
}
