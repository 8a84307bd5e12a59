package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fayispachu/weather-widget/internal/geo"
	"github.com/fayispachu/weather-widget/internal/observability"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many sessions")
)

// ManagerConfig configures a Manager. Session is the template for every
// session it creates; its ID is ignored.
type ManagerConfig struct {
	Session    Config
	Locator    geo.Locator
	GeoTimeout time.Duration
	Max        int
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Manager owns the live sessions of a process.
type Manager struct {
	base       Config
	locator    geo.Locator
	geoTimeout time.Duration
	max        int
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager returns an empty Manager. Max <= 0 means unlimited.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Session.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		base:       cfg.Session,
		locator:    cfg.Locator,
		geoTimeout: cfg.GeoTimeout,
		max:        cfg.Max,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*entry),
	}
}

// Create builds and starts a session. locator overrides the manager's default
// geolocation source when non-nil.
func (m *Manager) Create(locator geo.Locator) (*Session, error) {
	if locator == nil {
		locator = m.locator
	}
	cfg := m.base
	cfg.ID = uuid.NewString()
	cfg.Resolver = geo.NewResolver(locator, m.geoTimeout)

	m.mu.Lock()
	if m.max > 0 && len(m.sessions) >= m.max {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s, err := New(cfg)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[s.ID()] = &entry{session: s, lastSeen: m.now()}
	observability.WidgetSessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if err := s.Start(); err != nil {
		m.remove(s.ID())
		return nil, err
	}
	return s, nil
}

// Get returns the session and marks it as seen.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = m.now()
	return e.session, nil
}

// Delete closes and forgets the session.
func (m *Manager) Delete(id string) error {
	s := m.remove(id)
	if s == nil {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ReapIdle closes sessions not seen for longer than ttl and returns how many
// were closed.
func (m *Manager) ReapIdle(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)
	var idle []*Session
	m.mu.Lock()
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.session)
			delete(m.sessions, id)
		}
	}
	observability.WidgetSessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		observability.WidgetSessionsReapedTotal.Inc()
	}
	if len(idle) > 0 {
		m.logger.Info("reaped idle sessions", zap.Int("count", len(idle)), zap.Duration("idle_ttl", ttl))
	}
	return len(idle)
}

// Reap runs ReapIdle every interval until ctx is done.
func (m *Manager) Reap(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(ttl)
		}
	}
}

// CloseAll closes every session. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, e := range m.sessions {
		all = append(all, e.session)
		delete(m.sessions, id)
	}
	observability.WidgetSessionsActive.Set(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}

func (m *Manager) remove(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	observability.WidgetSessionsActive.Set(float64(len(m.sessions)))
	return e.session
}
