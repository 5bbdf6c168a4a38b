// Package session tracks client sessions and expires idle ones.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/infra/shutdown"
	"github.com/yndnr/toolhost-go/pkg/cmap"
)

var (
	ErrNotFound = domain.ErrSessionNotFound
	ErrExpired  = domain.ErrSessionExpired
)

// HookProvider is implemented by session managers that need cleanup at
// shutdown. The host registers the returned hook when it is not nil.
type HookProvider interface {
	ShutdownHook() shutdown.Hook
}

// Store is the session surface the request handlers depend on. Manager
// implements it.
type Store interface {
	Create(client domain.ClientInfo, remoteAddr string) (*domain.Session, error)
	Get(id string) (*domain.Session, error)
	Touch(id string) error
	Close(id string) bool
	Len() int
}

// Config configures a Manager.
type Config struct {
	// KeepAlive is the idle lifetime of a session. Zero keeps sessions
	// until they are closed.
	KeepAlive time.Duration
	// SweepInterval defaults to KeepAlive/4, at least one second.
	SweepInterval time.Duration
	// OnExpire runs for every session removed by the janitor, outside any
	// lock.
	OnExpire func(ctx context.Context, id string)
	Logger   *slog.Logger
	Now      func() time.Time
}

// Manager owns the live sessions.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	sessions *cmap.Map[*domain.Session]

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates a manager and starts the janitor when KeepAlive is set.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnExpire == nil {
		cfg.OnExpire = func(context.Context, string) {}
	}

	m := &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "session_manager"),
		sessions: cmap.New[*domain.Session](),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.KeepAlive <= 0 {
		m.logger.Info("session keep-alive disabled, sessions never expire")
		close(m.done)
		return m
	}

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = cfg.KeepAlive / 4
		if interval < time.Second {
			interval = time.Second
		}
	}
	m.logger.Info("session keep-alive enabled", "keep_alive", cfg.KeepAlive, "sweep_interval", interval)
	go m.janitor(interval)
	return m
}

// Create registers a new session.
func (m *Manager) Create(client domain.ClientInfo, remoteAddr string) (*domain.Session, error) {
	s, err := domain.NewSession(client, remoteAddr, m.cfg.Now())
	if err != nil {
		return nil, err
	}
	m.sessions.Set(s.ID, s)
	m.logger.Debug("session created", "connection_id", s.ID, "client", client.Name)
	return s.Clone(), nil
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (*domain.Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(s, m.cfg.Now()) {
		return nil, ErrExpired
	}
	return s.Clone(), nil
}

// Touch marks the session active.
func (m *Manager) Touch(id string) error {
	now := m.cfg.Now()
	var err error
	_, ok := m.sessions.UpdateIfPresent(id, func(old *domain.Session) *domain.Session {
		if m.expired(old, now) {
			err = ErrExpired
			return old
		}
		next := old.Clone()
		next.LastActive = now
		return next
	})
	if !ok {
		return ErrNotFound
	}
	return err
}

// Close removes the session. It reports whether it existed.
func (m *Manager) Close(id string) bool {
	_, ok := m.sessions.Pop(id)
	if ok {
		m.logger.Debug("session closed", "connection_id", id)
	}
	return ok
}

// List returns copies of all sessions ordered by creation time.
func (m *Manager) List() []*domain.Session {
	out := make([]*domain.Session, 0, m.sessions.Len())
	m.sessions.Range(func(_ string, s *domain.Session) bool {
		out = append(out, s.Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Sweep expires idle sessions now and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.cfg.KeepAlive <= 0 {
		return 0
	}
	now := m.cfg.Now()
	var expired []string
	m.sessions.Range(func(id string, s *domain.Session) bool {
		if m.expired(s, now) {
			expired = append(expired, id)
		}
		return true
	})

	removed := 0
	for _, id := range expired {
		if _, ok := m.sessions.Pop(id); !ok {
			continue
		}
		removed++
		m.logger.Info("session expired", "connection_id", id, "keep_alive", m.cfg.KeepAlive)
		m.cfg.OnExpire(ctx, id)
	}
	return removed
}

// ShutdownHook returns the hook that stops the janitor and drops all
// sessions.
func (m *Manager) ShutdownHook() shutdown.Hook {
	return shutdown.NamedHook("session-manager", shutdown.HookFunc(m.Shutdown))
}

// Shutdown stops the janitor and drops every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	n := m.sessions.Len()
	m.sessions.Clear()
	m.logger.Info("session manager stopped", "sessions_dropped", n)
	return nil
}

func (m *Manager) expired(s *domain.Session, now time.Time) bool {
	return m.cfg.KeepAlive > 0 && s.IdleFor(now) > m.cfg.KeepAlive
}

func (m *Manager) janitor(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stop:
			return
		}
	}
}
