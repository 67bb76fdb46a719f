package changefeed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const subscriptionBuffer = 256

// Hub is the in-process feed used by single-node deployments and tests.
type Hub struct {
	schema string

	mu   sync.RWMutex
	subs map[string]*hubSubscription
}

func NewHub(schema string) *Hub {
	return &Hub{
		schema: schema,
		subs:   make(map[string]*hubSubscription),
	}
}

func (h *Hub) Publish(ctx context.Context, events ...ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, evt := range events {
		if evt.Schema == "" {
			evt.Schema = h.schema
		}
		eventsPublished.WithLabelValues("memory", evt.Table).Inc()
		for _, sub := range h.subs {
			if !sub.filter.Match(evt) {
				continue
			}
			sub.deliver(evt)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	sub := &hubSubscription{
		id:     uuid.NewString(),
		hub:    h,
		filter: filter,
		ch:     make(chan ChangeEvent, subscriptionBuffer),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	subscriptionsActive.WithLabelValues("memory").Inc()
	return sub, nil
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

type hubSubscription struct {
	id     string
	hub    *Hub
	filter Filter
	ch     chan ChangeEvent

	mu     sync.Mutex
	closed bool
}

func (s *hubSubscription) deliver(evt ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	default:
		eventsDropped.WithLabelValues("memory").Inc()
		zap.L().Warn("changefeed subscriber buffer full, dropping event",
			zap.String("subscription_id", s.id),
			zap.String("table", evt.Table),
			zap.String("event_id", evt.ID),
		)
	}
}

func (s *hubSubscription) Events() <-chan ChangeEvent {
	return s.ch
}

func (s *hubSubscription) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSubscriptionClosed
	}
	s.deliver(NewHeartbeat())
	return nil
}

func (s *hubSubscription) Close() error {
	s.hub.remove(s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	subscriptionsActive.WithLabelValues("memory").Dec()
	return nil
}
