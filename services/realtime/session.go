package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/notification"
	"loyalty-checkin/services/readmodel"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	dedupSize      = 1024
	listenerBuffer = 64
)

var (
	errNoListener = errors.New("realtime: no client attached")

	// ErrConnectionLost is the cause reported while the change feed
	// subscription is being replaced or has been given up on.
	ErrConnectionLost = errors.New("realtime: change feed connection lost")
)

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDegraded     State = "degraded"
	StateStopped      State = "stopped"
)

type UpdateType string

const (
	UpdateInvalidate   UpdateType = "invalidate"
	UpdateNotification UpdateType = "notification"
	UpdateStatus       UpdateType = "status"
)

// Update is pushed to attached clients.
type Update struct {
	Type UpdateType `json:"type"`
	Data any        `json:"data"`
}

type InvalidatePayload struct {
	Kinds []readmodel.Kind `json:"kinds"`
}

type StatusPayload struct {
	State    State  `json:"state"`
	Attempts int    `json:"attempts,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Invalidator is satisfied by *readmodel.Service.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string, kinds ...readmodel.Kind) error
}

type Options struct {
	Schema               string
	HeartbeatInterval    time.Duration
	HealthCheckInterval  time.Duration
	StaleTimeout         time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
}

// Session is the realtime subscription of one user. All change events are
// handled by a single loop goroutine in arrival order.
type Session struct {
	id          string
	userID      string
	feed        changefeed.Feed
	invalidator Invalidator
	mapper      notification.Mapper
	dispatcher  *notification.Dispatcher
	opts        Options
	now         func() time.Time

	// owned by the loop goroutine
	sub      changefeed.Subscription
	lastSeen time.Time
	seen     *recentSet

	mu        sync.RWMutex
	state     State
	lastErr   error
	listeners map[string]chan Update

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(userID string, feed changefeed.Feed, inv Invalidator, factory *notification.Factory, opts Options) *Session {
	s := &Session{
		id:          uuid.NewString(),
		userID:      userID,
		feed:        feed,
		invalidator: inv,
		opts:        opts,
		now:         time.Now,
		seen:        newRecentSet(dedupSize),
		state:       StateConnecting,
		listeners:   make(map[string]chan Update),
		done:        make(chan struct{}),
	}
	s.mapper = factory.Mapper
	s.dispatcher = factory.NewDispatcher(notification.SinkFunc(s.displayNotification))
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns why the session is reconnecting or degraded, nil otherwise.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) filter() changefeed.Filter {
	return changefeed.Filter{Schema: s.opts.Schema, Tables: changefeed.UserTables, UserID: s.userID}
}

// start subscribes once and launches the loop. A failed first subscribe is
// retried by the health monitor.
func (s *Session) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	sub, err := s.feed.Subscribe(ctx, s.filter())
	if err != nil {
		zap.L().Warn("initial subscribe failed", zap.String("user_id", s.userID), zap.Error(err))
		s.setState(StateReconnecting, 0, fmt.Errorf("%w: %w", ErrConnectionLost, err))
	} else {
		s.sub = sub
		s.setState(StateConnected, 0, nil)
	}
	s.lastSeen = s.now()

	go s.run(ctx)
}

// stop cancels pending notifications and waits for the loop to exit.
func (s *Session) stop() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	health := time.NewTicker(s.opts.HealthCheckInterval)
	defer health.Stop()

	defer func() {
		s.dispatcher.CancelAll()
		if s.sub != nil {
			_ = s.sub.Close()
			s.sub = nil
		}
		s.setState(StateStopped, 0, nil)
		s.closeListeners()
	}()

	for {
		var events <-chan changefeed.ChangeEvent
		if s.sub != nil {
			events = s.sub.Events()
		}

		select {
		case <-ctx.Done():
			return

		case evt, ok := <-events:
			if !ok {
				zap.L().Warn("change subscription closed by transport", zap.String("user_id", s.userID))
				s.sub = nil
				s.reconnect(ctx, ErrConnectionLost)
				continue
			}
			s.lastSeen = s.now()
			if evt.Type == changefeed.TypeHeartbeat {
				continue
			}
			s.handle(ctx, evt)

		case <-heartbeat.C:
			if s.sub == nil {
				continue
			}
			if err := s.sub.Heartbeat(ctx); err != nil {
				zap.L().Debug("heartbeat failed", zap.String("user_id", s.userID), zap.Error(err))
			}

		case <-health.C:
			switch {
			case s.sub == nil:
				s.reconnect(ctx, ErrConnectionLost)
			case s.now().Sub(s.lastSeen) > s.opts.StaleTimeout:
				s.reconnect(ctx, fmt.Errorf("%w: no event for %s", ErrConnectionLost, s.opts.StaleTimeout))
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, evt changefeed.ChangeEvent) {
	eventsHandled.WithLabelValues(evt.Table, string(evt.Type)).Inc()

	for _, cmd := range Route(evt) {
		switch c := cmd.(type) {
		case Invalidate:
			if s.invalidator != nil {
				if err := s.invalidator.Invalidate(ctx, s.userID, c.Kinds...); err != nil {
					zap.L().Warn("invalidate failed", zap.String("user_id", s.userID), zap.Error(err))
				}
			}
			s.broadcast(Update{Type: UpdateInvalidate, Data: InvalidatePayload{Kinds: c.Kinds}})

		case Notify:
			if !s.seen.Add(c.Event.Key) {
				duplicatesDropped.Inc()
				continue
			}
			msg, ok := s.mapper.Map(c.Event)
			if !ok {
				continue
			}
			s.dispatcher.Dispatch(msg)
		}
	}
}

// reconnect replaces the subscription, retrying with exponential backoff. On
// exhaustion the session is degraded until the next health check.
func (s *Session) reconnect(ctx context.Context, cause error) {
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
	reconnects.Inc()
	zap.L().Warn("realtime reconnecting", zap.String("user_id", s.userID), zap.Error(cause))
	s.setState(StateReconnecting, 0, cause)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconnectBackoff
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		sub, err := s.feed.Subscribe(ctx, s.filter())
		if err != nil {
			zap.L().Warn("resubscribe failed",
				zap.String("user_id", s.userID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return err
		}
		s.sub = sub
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.opts.MaxReconnectAttempts-1, 0))), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		zap.L().Error("realtime connection degraded", zap.String("user_id", s.userID), zap.Int("attempts", attempts))
		s.setState(StateDegraded, attempts, cause)
		return
	}

	s.lastSeen = s.now()
	s.setState(StateConnected, attempts, nil)
}

func (s *Session) setState(state State, attempts int, cause error) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.lastErr = cause
	s.mu.Unlock()

	if changed {
		payload := StatusPayload{State: state, Attempts: attempts}
		if cause != nil {
			payload.Reason = cause.Error()
		}
		s.broadcast(Update{Type: UpdateStatus, Data: payload})
	}
}

// Listen attaches a client. The channel is closed when the session stops.
func (s *Session) Listen() (string, <-chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Update, listenerBuffer)
	if s.state == StateStopped {
		close(ch)
		return id, ch
	}
	ch <- Update{Type: UpdateStatus, Data: StatusPayload{State: s.state}}
	s.listeners[id] = ch
	return id, ch
}

func (s *Session) unlisten(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.listeners[id]; ok {
		delete(s.listeners, id)
		close(ch)
	}
	return len(s.listeners)
}

func (s *Session) broadcast(u Update) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for id, ch := range s.listeners {
		select {
		case ch <- u:
			delivered++
		default:
			zap.L().Warn("client too slow, dropping update",
				zap.String("user_id", s.userID),
				zap.String("listener_id", id),
				zap.String("type", string(u.Type)),
			)
		}
	}
	return delivered
}

func (s *Session) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.listeners {
		close(ch)
		delete(s.listeners, id)
	}
}

func (s *Session) displayNotification(_ context.Context, msg notification.Message) error {
	if s.broadcast(Update{Type: UpdateNotification, Data: msg}) == 0 {
		return errNoListener
	}
	return nil
}
