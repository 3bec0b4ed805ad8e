package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager applies the daily quota rules on top of a Store.
type Manager struct {
	store  Store
	limit  int
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for day boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager enforcing limit messages per day.
func NewManager(store Store, limit int, logger *zap.Logger, opts ...Option) *Manager {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit returns the daily message limit.
func (m *Manager) Limit() int {
	return m.limit
}

// Open loads the session for identity, creating it on first visit. An empty
// identity gets a freshly generated one. A record last active on an earlier
// day comes back with its counter reset.
func (m *Manager) Open(ctx context.Context, identity string) (Session, error) {
	if identity == "" {
		identity = NewIdentity()
	}

	s, err := m.store.Load(ctx, identity)
	if errors.Is(err, ErrSessionNotFound) {
		s = Session{Identity: identity, LastActiveDate: Today(m.now())}
		if err := m.store.Save(ctx, s); err != nil {
			return Session{}, fmt.Errorf("create session: %w", err)
		}
		m.logger.Info("Open: created session", zap.String("identity", identity))
		return s, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return m.rollover(ctx, s)
}

// Refresh re-reads the session and applies the day rollover.
func (m *Manager) Refresh(ctx context.Context, s Session) (Session, error) {
	return m.Open(ctx, s.Identity)
}

// Check returns ErrQuotaExceeded when no messages are left today.
func (m *Manager) Check(ctx context.Context, s Session) (Session, error) {
	s, err := m.Refresh(ctx, s)
	if err != nil {
		return s, err
	}
	if s.Exhausted(m.limit) {
		return s, ErrQuotaExceeded
	}
	return s, nil
}

// RecordSend counts one successful outbound message.
func (m *Manager) RecordSend(ctx context.Context, s Session) (Session, error) {
	s, err := m.Refresh(ctx, s)
	if err != nil {
		return s, err
	}
	s.MessageCount++
	if err := m.store.Save(ctx, s); err != nil {
		return s, fmt.Errorf("record send: %w", err)
	}
	m.logger.Debug("RecordSend: message counted",
		zap.String("identity", s.Identity),
		zap.Int("count", s.MessageCount),
		zap.Int("limit", m.limit))
	return s, nil
}

// MarkOnboardingSeen persists the one-time onboarding flag.
func (m *Manager) MarkOnboardingSeen(ctx context.Context, s Session) (Session, error) {
	s, err := m.Refresh(ctx, s)
	if err != nil {
		return s, err
	}
	if s.OnboardingSeen {
		return s, nil
	}
	s.OnboardingSeen = true
	if err := m.store.Save(ctx, s); err != nil {
		return s, fmt.Errorf("mark onboarding seen: %w", err)
	}
	return s, nil
}

func (m *Manager) rollover(ctx context.Context, s Session) (Session, error) {
	today := Today(m.now())
	if s.LastActiveDate == today {
		return s, nil
	}
	m.logger.Info("rollover: new day, resetting message count",
		zap.String("identity", s.Identity),
		zap.String("previous", s.LastActiveDate),
		zap.String("today", today))
	s.MessageCount = 0
	s.LastActiveDate = today
	if err := m.store.Save(ctx, s); err != nil {
		return s, fmt.Errorf("reset session: %w", err)
	}
	return s, nil
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (ms *MemoryStore) Load(_ context.Context, identity string) (Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	s, ok := ms.sessions[identity]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (ms *MemoryStore) Save(_ context.Context, s Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[s.Identity] = s
	return nil
}

func (ms *MemoryStore) Close() error { return nil }
