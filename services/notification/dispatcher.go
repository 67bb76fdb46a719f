package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink displays a message. Errors are logged by the dispatcher and dropped.
type Sink interface {
	Display(ctx context.Context, msg Message) error
}

type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Display(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// CancelFunc stops a scheduled message. It reports whether the message was
// still pending.
type CancelFunc func() bool

// Dispatcher schedules messages for one session. It is safe for concurrent
// use.
type Dispatcher struct {
	sink    Sink
	mirrors []Sink

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewDispatcher(sink Sink, mirrors ...Sink) *Dispatcher {
	active := make([]Sink, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			active = append(active, m)
		}
	}
	return &Dispatcher{
		sink:      sink,
		mirrors:   active,
		pending:   make(map[string]*time.Timer),
		afterFunc: time.AfterFunc,
	}
}

// Dispatch shows msg after msg.Delay. The returned cancel handle drops the
// message if it has not been shown yet.
func (d *Dispatcher) Dispatch(msg Message) CancelFunc {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		dispatched.WithLabelValues(string(msg.Kind), "dropped").Inc()
		return func() bool { return false }
	}

	timer := d.afterFunc(msg.Delay, func() {
		d.mu.Lock()
		_, ok := d.pending[msg.ID]
		delete(d.pending, msg.ID)
		d.mu.Unlock()
		if !ok {
			return
		}
		d.display(msg)
	})
	d.pending[msg.ID] = timer

	return func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		t, ok := d.pending[msg.ID]
		if !ok {
			return false
		}
		delete(d.pending, msg.ID)
		t.Stop()
		dispatched.WithLabelValues(string(msg.Kind), "cancelled").Inc()
		return true
	}
}

func (d *Dispatcher) display(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.sink.Display(ctx, msg); err != nil {
		zap.L().Warn("notification not displayed",
			zap.String("user_id", msg.UserID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		dispatched.WithLabelValues(string(msg.Kind), "failed").Inc()
		return
	}
	dispatched.WithLabelValues(string(msg.Kind), "displayed").Inc()

	for _, m := range d.mirrors {
		if err := m.Display(ctx, msg); err != nil {
			zap.L().Warn("notification mirror failed",
				zap.String("user_id", msg.UserID),
				zap.String("kind", string(msg.Kind)),
				zap.Error(err),
			)
		}
	}
}

// Pending returns the number of scheduled messages not yet shown.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// CancelAll drops every pending message and rejects later dispatches.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, t := range d.pending {
		t.Stop()
		delete(d.pending, id)
	}
	d.closed = true
}
