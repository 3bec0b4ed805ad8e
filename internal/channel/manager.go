package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"game-sandbox/internal/health"
	"game-sandbox/internal/models"
)

// anonymousIdentity tags payloads sent without a session identity.
const anonymousIdentity = "anonymous"

// Config wires a Manager to its endpoints and its owner.
type Config struct {
	URLs      map[Role]string
	HealthURL string
	Policies  map[Role]Policy

	Dialer        Dialer
	HTTPClient    *http.Client
	DialTimeout   time.Duration
	HealthTimeout time.Duration

	// Loop runs every state transition. The Manager's methods must only be
	// called from callbacks running on it.
	Loop     Poster
	Identity string
	OnEvent  func(Event)
	Logger   *zap.Logger
}

type state struct {
	phase Phase
	gen   uint64
	conn  Conn
}

type pendingSend struct {
	timer *time.Timer
	done  func(error)
}

// Manager owns the create and edit channels for one studio. It is not safe
// for concurrent use: dial, probe and read goroutines only post results back
// to Config.Loop, and stale results are dropped by generation.
type Manager struct {
	cfg     Config
	states  map[Role]*state
	pending map[*pendingSend]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager with both channels disconnected.
func NewManager(cfg Config) *Manager {
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg: cfg,
		states: map[Role]*state{
			RoleCreate: {},
			RoleEdit:   {},
		},
		pending: make(map[*pendingSend]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Phase reports the current phase of role.
func (m *Manager) Phase(role Role) Phase {
	return m.states[role].phase
}

// Open starts connecting role unless it is already connecting or open, and
// returns the resulting phase.
func (m *Manager) Open(role Role) Phase {
	st := m.states[role]
	if m.closed {
		return st.phase
	}
	if st.phase == PhaseConnecting || st.phase == PhaseOpen {
		return st.phase
	}
	st.gen++
	st.phase = PhaseConnecting
	gen := st.gen
	policy := m.cfg.Policies[role]
	url := m.cfg.URLs[role]

	m.cfg.Logger.Debug("Open: connecting",
		zap.Stringer("role", role),
		zap.String("url", url),
		zap.Bool("healthCheck", policy.HealthCheck))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if policy.HealthCheck {
			ctx, cancel := context.WithTimeout(m.ctx, m.cfg.HealthTimeout)
			_, err := health.Check(ctx, m.cfg.HTTPClient, m.cfg.HealthURL)
			cancel()
			if err != nil {
				m.cfg.Loop.Post(func() { m.onUnavailable(role, gen, err) })
				return
			}
		}
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
		conn, err := m.cfg.Dialer.Dial(ctx, url)
		cancel()
		if err != nil {
			m.cfg.Loop.Post(func() { m.onUnavailable(role, gen, err) })
			return
		}
		if !m.cfg.Loop.Post(func() { m.onDialed(role, gen, conn) }) {
			conn.Close()
		}
	}()
	return PhaseConnecting
}

// Send tags payload with the session identity and writes it on role.
func (m *Manager) Send(role Role, payload models.Tagged) error {
	st := m.states[role]
	if st.phase != PhaseOpen {
		return &NotOpenError{Role: role, Phase: st.phase}
	}
	identity := m.cfg.Identity
	if identity == "" {
		identity = anonymousIdentity
	}
	payload.SetUserID(identity)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", role, err)
	}
	if err := st.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		gen := st.gen
		m.cfg.Loop.Post(func() { m.onLost(role, gen, err) })
		return fmt.Errorf("%w: %s: %v", ErrTransportLost, role, err)
	}
	m.cfg.Logger.Debug("Send: payload written",
		zap.Stringer("role", role),
		zap.Int("bytes", len(data)))
	return nil
}

// SendDeferred sends payload on role. When the channel is not open and the
// role's policy allows it, the channel is opened and the send is retried
// after the policy's RetryDelay. done receives the final outcome exactly
// once, on the loop.
func (m *Manager) SendDeferred(role Role, payload models.Tagged, done func(error)) {
	err := m.Send(role, payload)
	if err == nil || !errors.Is(err, ErrNotOpen) {
		done(err)
		return
	}
	policy := m.cfg.Policies[role]
	if !policy.LazyOpen || policy.SendRetries <= 0 || m.closed {
		done(err)
		return
	}
	m.Open(role)
	m.scheduleRetry(role, payload, policy.SendRetries, policy.RetryDelay, done)
}

func (m *Manager) scheduleRetry(role Role, payload models.Tagged, remaining int, delay time.Duration, done func(error)) {
	p := &pendingSend{done: done}
	m.pending[p] = struct{}{}
	p.timer = time.AfterFunc(delay, func() {
		m.cfg.Loop.Post(func() {
			if _, ok := m.pending[p]; !ok {
				return
			}
			delete(m.pending, p)
			if m.closed {
				done(ErrClosed)
				return
			}
			err := m.Send(role, payload)
			if err != nil && errors.Is(err, ErrNotOpen) && remaining > 1 {
				m.Open(role)
				m.scheduleRetry(role, payload, remaining-1, delay, done)
				return
			}
			if err != nil {
				m.cfg.Logger.Warn("SendDeferred: retry failed",
					zap.Stringer("role", role),
					zap.Error(err))
			}
			done(err)
		})
	})
}

// Close shuts role down without raising an event.
func (m *Manager) Close(role Role) {
	st := m.states[role]
	st.gen++
	if st.conn != nil {
		st.conn.Close()
		st.conn = nil
	}
	st.phase = PhaseDisconnected
}

// Reconnect closes role and opens it again through its policy.
func (m *Manager) Reconnect(role Role) Phase {
	m.cfg.Logger.Info("Reconnect: reopening channel", zap.Stringer("role", role))
	m.Close(role)
	return m.Open(role)
}

// CloseAll closes both channels, cancels in-flight dials and fails pending
// deferred sends with ErrClosed. The Manager cannot be reopened.
func (m *Manager) CloseAll() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
	m.Close(RoleCreate)
	m.Close(RoleEdit)
	for p := range m.pending {
		if p.timer.Stop() {
			delete(m.pending, p)
			p.done(ErrClosed)
		}
	}
}

// Wait blocks until every helper goroutine has exited. Call it off the loop,
// after CloseAll.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) onUnavailable(role Role, gen uint64, err error) {
	st := m.states[role]
	if st.gen != gen || st.phase != PhaseConnecting {
		return
	}
	st.phase = PhaseClosedWithError
	m.cfg.Logger.Warn("Open: service unavailable",
		zap.Stringer("role", role),
		zap.Error(err))
	m.cfg.OnEvent(Event{Role: role, Kind: EventUnavailable, Err: err})
}

func (m *Manager) onDialed(role Role, gen uint64, conn Conn) {
	st := m.states[role]
	if m.closed || st.gen != gen || st.phase != PhaseConnecting {
		conn.Close()
		return
	}
	st.conn = conn
	st.phase = PhaseOpen
	m.cfg.Logger.Info("Open: channel open", zap.Stringer("role", role))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				m.cfg.Loop.Post(func() { m.onLost(role, gen, err) })
				return
			}
			if !m.cfg.Loop.Post(func() { m.onFrame(role, gen, data) }) {
				conn.Close()
				return
			}
		}
	}()
	m.cfg.OnEvent(Event{Role: role, Kind: EventOpen})
}

func (m *Manager) onFrame(role Role, gen uint64, data []byte) {
	st := m.states[role]
	if st.gen != gen || st.phase != PhaseOpen {
		return
	}
	m.cfg.OnEvent(Event{Role: role, Kind: EventMessage, Data: data})
}

func (m *Manager) onLost(role Role, gen uint64, err error) {
	st := m.states[role]
	if st.gen != gen || st.phase != PhaseOpen {
		return
	}
	if st.conn != nil {
		st.conn.Close()
		st.conn = nil
	}
	st.phase = PhaseClosedWithError
	m.cfg.Logger.Warn("onLost: transport lost",
		zap.Stringer("role", role),
		zap.Error(err))
	m.cfg.OnEvent(Event{Role: role, Kind: EventTransportLost, Err: err})
}
