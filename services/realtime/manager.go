package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"loyalty-checkin/pkg/config"
	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/notification"
	"loyalty-checkin/services/readmodel"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrManagerClosed = errors.New("realtime: manager closed")

var Module = fx.Module("realtime",
	fx.Provide(
		NewManager,
		NewHandler,
	),
)

// Manager owns one Session per connected user.
type Manager struct {
	feed        changefeed.Feed
	invalidator Invalidator
	factory     *notification.Factory
	opts        Options

	// ctx outlives requests; sessions are stopped explicitly.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

type ManagerParams struct {
	fx.In
	Lc        fx.Lifecycle
	Config    *config.Config
	Feed      changefeed.Feed
	ReadModel *readmodel.Service
	Factory   *notification.Factory
}

func NewManager(p ManagerParams) *Manager {
	rt := p.Config.Realtime
	m := newManager(p.Feed, p.ReadModel, p.Factory, Options{
		Schema:               rt.Schema,
		HeartbeatInterval:    rt.HeartbeatInterval,
		HealthCheckInterval:  rt.HealthCheckInterval,
		StaleTimeout:         rt.StaleTimeout,
		MaxReconnectAttempts: rt.MaxReconnectAttempts,
		ReconnectBackoff:     rt.ReconnectBackoff,
	})

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			m.Close()
			return nil
		},
	})
	return m
}

func newManager(feed changefeed.Feed, inv Invalidator, factory *notification.Factory, opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		feed:        feed,
		invalidator: inv,
		factory:     factory,
		opts:        opts.withDefaults(),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*Session),
	}
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 10 * time.Second
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = 45 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = time.Second
	}
	return o
}

// Start returns the user's session, creating it when none is active.
func (m *Manager) Start(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(userID)
}

func (m *Manager) startLocked(userID string) (*Session, error) {
	if m.closed {
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	s := newSession(userID, m.feed, m.invalidator, m.factory, m.opts)
	s.start(m.ctx)
	m.sessions[userID] = s
	sessionsActive.Inc()
	zap.L().Info("realtime session started", zap.String("user_id", userID), zap.String("session_id", s.id))
	return s, nil
}

// Stop tears down the user's session and waits until it has exited.
func (m *Manager) Stop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(userID)
}

func (m *Manager) stopLocked(userID string) {
	s, ok := m.sessions[userID]
	if !ok {
		return
	}
	delete(m.sessions, userID)
	s.stop()
	sessionsActive.Dec()
	zap.L().Info("realtime session stopped", zap.String("user_id", userID), zap.String("session_id", s.id))
}

// SwitchUser fully stops from's session before starting to's.
func (m *Manager) SwitchUser(ctx context.Context, from, to string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if from != to {
		m.stopLocked(from)
	}
	return m.startLocked(to)
}

// Attach starts or reuses the user's session and registers a client on it.
func (m *Manager) Attach(ctx context.Context, userID string) (*Session, string, <-chan Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.startLocked(userID)
	if err != nil {
		return nil, "", nil, err
	}
	id, ch := s.Listen()
	return s, id, ch, nil
}

// Detach removes a client and stops the session once no client is left.
func (m *Manager) Detach(userID, listenerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return
	}
	if s.unlisten(listenerID) == 0 {
		m.stopLocked(userID)
	}
}

func (m *Manager) Session(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Close stops every session and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for userID := range m.sessions {
		m.stopLocked(userID)
	}
	m.cancel()
}
