// Package studio is the per-visitor state of the game sandbox: the chat
// log, the workspace, the captured console and both service channels, all
// driven from a single event loop.
package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"game-sandbox/internal/channel"
	"game-sandbox/internal/console"
	"game-sandbox/internal/conversation"
	"game-sandbox/internal/loop"
	"game-sandbox/internal/session"
	"game-sandbox/internal/workspace"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrGenerating   = errors.New("a response is still being generated")
	ErrClosed       = errors.New("studio closed")
)

// Change is a bit set naming the parts of a Snapshot that changed.
type Change uint

const (
	ChangeLog Change = 1 << iota
	ChangeFiles
	ChangeConsole
	ChangeStatus
	ChangeBanner

	ChangeAll = ChangeLog | ChangeFiles | ChangeConsole | ChangeStatus | ChangeBanner
)

// Config assembles a Studio.
type Config struct {
	Identity string
	// Sessions enforces the daily quota. Without it the studio runs
	// anonymously with no quota.
	Sessions *session.Manager
	// Channels carries endpoints, policies and transport. Loop, Identity,
	// OnEvent and Logger are filled in by New.
	Channels        channel.Config
	ConsoleCapacity int
	Logger          *zap.Logger
}

// Studio owns one visitor's sandbox. Every exported method is safe for
// concurrent use; the work itself runs on the studio's event loop.
type Studio struct {
	id     string
	cfg    Config
	loop   *loop.Loop
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the loop.
	sess       session.Session
	hasSession bool
	log        *conversation.Log
	ws         *workspace.Workspace
	router     *conversation.Router
	assembler  *conversation.Assembler
	bridge     *console.Bridge
	channels   *channel.Manager
	selected   string
	generating bool
	fixing     bool
	// Deferred sends queued but not yet counted against the quota.
	pendingSends int
	banner     Banner
	subs       map[*Subscription]struct{}
	closed     bool
}

// New loads the visitor's session, seeds the starter workspace and starts
// opening the create channel.
func New(ctx context.Context, cfg Config) (*Studio, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Studio{
		id:       uuid.NewString(),
		cfg:      cfg,
		log:      conversation.NewLog(),
		router:   &conversation.Router{},
		bridge:   console.NewBridge(cfg.ConsoleCapacity),
		selected: workspace.IndexFile,
		banner:   infoBanner(TextConnecting, false),
		subs:     make(map[*Subscription]struct{}),
	}

	if cfg.Sessions != nil {
		sess, err := cfg.Sessions.Open(ctx, cfg.Identity)
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		s.sess = sess
		s.hasSession = true
	}
	identity := s.sess.Identity
	if identity == "" {
		identity = cfg.Identity
	}
	s.logger = logger.With(zap.String("studio", s.id), zap.String("identity", identity))

	ws, err := workspace.New(workspace.Starter())
	if err != nil {
		return nil, fmt.Errorf("starter workspace: %w", err)
	}
	s.ws = ws
	s.assembler = conversation.NewAssembler(s.log, s.ws, s.router, s.logger.Named("assembler"))
	s.log.Append(conversation.Entry{
		Speaker: conversation.SpeakerAssistant,
		Text:    TextGreeting,
	})

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.loop = loop.New()

	chCfg := cfg.Channels
	chCfg.Loop = s.loop
	chCfg.Identity = identity
	chCfg.OnEvent = s.onChannelEvent
	chCfg.Logger = s.logger.Named("channel")
	s.channels = channel.NewManager(chCfg)

	if err := s.loop.Do(func() { s.channels.Open(channel.RoleCreate) }); err != nil {
		return nil, err
	}
	s.logger.Info("New: studio started")
	return s, nil
}

// ID identifies the studio in logs.
func (s *Studio) ID() string { return s.id }

func (s *Studio) do(fn func() error) error {
	var err error
	if lerr := s.loop.Do(func() {
		if s.closed {
			err = ErrClosed
			return
		}
		err = fn()
	}); lerr != nil {
		return ErrClosed
	}
	return err
}

// SendMessage submits a user chat message.
func (s *Studio) SendMessage(text string) error {
	return s.do(func() error {
		text = strings.TrimSpace(text)
		if text == "" {
			return ErrEmptyMessage
		}
		if s.generating || s.fixing {
			return ErrGenerating
		}
		if err := s.checkQuota(); err != nil {
			return err
		}

		s.log.Append(conversation.Entry{Speaker: conversation.SpeakerUser, Text: text})
		s.generating = true
		route := s.router.Route(text, s.ws.Files())
		s.logger.Info("SendMessage: routing message",
			zap.Stringer("role", route.Role),
			zap.Int("length", len(text)))

		if route.Role == channel.RoleCreate {
			if err := s.channels.Send(channel.RoleCreate, route.Payload); err != nil {
				s.generating = false
				s.router.Unsend()
				s.banner = errorBanner(TextServersBusy, true)
				s.logger.Warn("SendMessage: create send failed", zap.Error(err))
				s.notify(ChangeLog | ChangeStatus | ChangeBanner)
				return err
			}
			s.recordSend()
			s.notify(ChangeLog | ChangeStatus)
			return nil
		}

		s.pendingSends++
		s.channels.SendDeferred(channel.RoleEdit, route.Payload, func(err error) {
			s.afterEditSend(err, false)
		})
		s.notify(ChangeLog | ChangeStatus)
		return nil
	})
}

func (s *Studio) afterEditSend(err error, fix bool) {
	if s.pendingSends > 0 {
		s.pendingSends--
	}
	if fix {
		s.fixing = false
	}
	if err != nil {
		s.generating = false
		s.banner = errorBanner(TextEditLost, true)
		s.logger.Warn("afterEditSend: edit send failed", zap.Bool("fix", fix), zap.Error(err))
		s.notify(ChangeStatus | ChangeBanner)
		return
	}
	s.recordSend()
	s.notify(ChangeStatus)
}

func (s *Studio) checkQuota() error {
	if !s.hasSession {
		return nil
	}
	sess, err := s.cfg.Sessions.Check(s.ctx, s.sess)
	if err == nil && s.pendingSends >= sess.Remaining(s.cfg.Sessions.Limit()) {
		// Queued sends hold the remaining slots.
		err = session.ErrQuotaExceeded
	}
	if errors.Is(err, session.ErrQuotaExceeded) {
		s.sess = sess
		s.banner = errorBanner(TextQuotaReached, false)
		s.notify(ChangeStatus | ChangeBanner)
		return err
	}
	if err != nil {
		s.logger.Error("checkQuota: session lookup failed", zap.Error(err))
		return err
	}
	s.sess = sess
	return nil
}

func (s *Studio) recordSend() {
	if !s.hasSession {
		return
	}
	sess, err := s.cfg.Sessions.RecordSend(s.ctx, s.sess)
	if err != nil {
		s.logger.Error("recordSend: could not persist message count", zap.Error(err))
		return
	}
	s.sess = sess
}

func (s *Studio) onChannelEvent(ev channel.Event) {
	if s.closed {
		return
	}
	switch ev.Kind {
	case channel.EventOpen:
		if ev.Role == channel.RoleCreate {
			s.banner = infoBanner(TextConnected, true)
		} else if s.banner.Text == TextEditLost {
			s.banner = Banner{}
		}
		s.notify(ChangeStatus | ChangeBanner)

	case channel.EventMessage:
		res, err := s.assembler.Apply(ev.Role, ev.Data)
		if err != nil {
			s.logger.Warn("onChannelEvent: dropping frame", zap.Stringer("role", ev.Role), zap.Error(err))
			return
		}
		var change Change
		if res.LogChanged {
			change |= ChangeLog
		}
		if res.FilesChanged {
			if !s.ws.Has(s.selected) {
				s.selected = workspace.IndexFile
			}
			change |= ChangeFiles
		}
		if res.Done {
			s.generating = false
			change |= ChangeStatus
		}
		s.notify(change)

	case channel.EventUnavailable:
		s.generating = false
		if ev.Role == channel.RoleCreate {
			s.banner = errorBanner(TextUnavailable, true)
		} else {
			s.banner = errorBanner(TextEditLost, true)
		}
		s.notify(ChangeStatus | ChangeBanner)

	case channel.EventTransportLost:
		s.generating = false
		if ev.Role == channel.RoleCreate {
			s.banner = errorBanner(TextServersBusy, true)
		} else {
			s.banner = errorBanner(TextEditLost, true)
		}
		s.notify(ChangeStatus | ChangeBanner)
	}
}

// EditFile stores text under name, adding the file when it is new.
func (s *Studio) EditFile(name, text string) error {
	return s.do(func() error {
		if err := s.ws.Set(name, text); err != nil {
			return err
		}
		s.notify(ChangeFiles)
		return nil
	})
}

// Select makes name the file shown in the editor.
func (s *Studio) Select(name string) error {
	return s.do(func() error {
		if !s.ws.Has(name) {
			return fmt.Errorf("select %s: %w", name, workspace.ErrNotFound)
		}
		if s.selected != name {
			s.selected = name
			s.notify(ChangeFiles)
		}
		return nil
	})
}

// File returns the current text of name.
func (s *Studio) File(name string) (string, error) {
	var text string
	err := s.do(func() error {
		var err error
		text, err = s.ws.Get(name)
		return err
	})
	return text, err
}

// AcceptConsole records one message posted by the preview frame.
func (s *Studio) AcceptConsole(raw []byte) (console.Event, error) {
	var ev console.Event
	err := s.do(func() error {
		var err error
		ev, err = s.bridge.Accept(raw)
		if err != nil {
			return err
		}
		s.notify(ChangeConsole)
		return nil
	})
	return ev, err
}

// ClearConsole drops every captured console event.
func (s *Studio) ClearConsole() error {
	return s.do(func() error {
		s.bridge.Clear()
		s.notify(ChangeConsole)
		return nil
	})
}

// Reconnect reopens every channel that closed with an error, and the create
// channel when it never opened.
func (s *Studio) Reconnect() error {
	return s.do(func() error {
		reopened := false
		for _, role := range []channel.Role{channel.RoleCreate, channel.RoleEdit} {
			phase := s.channels.Phase(role)
			if phase == channel.PhaseClosedWithError || (role == channel.RoleCreate && phase == channel.PhaseDisconnected) {
				s.channels.Reconnect(role)
				reopened = true
			}
		}
		if reopened {
			s.banner = infoBanner(TextConnecting, false)
		} else {
			s.banner = Banner{}
		}
		s.notify(ChangeStatus | ChangeBanner)
		return nil
	})
}

// DismissBanner hides the current toast.
func (s *Studio) DismissBanner() error {
	return s.do(func() error {
		s.banner = Banner{}
		s.notify(ChangeBanner)
		return nil
	})
}

// DismissOnboarding records that the visitor has seen the introduction.
func (s *Studio) DismissOnboarding(ctx context.Context) error {
	return s.do(func() error {
		if !s.hasSession {
			return nil
		}
		sess, err := s.cfg.Sessions.MarkOnboardingSeen(ctx, s.sess)
		if err != nil {
			return err
		}
		s.sess = sess
		s.notify(ChangeStatus)
		return nil
	})
}

// Close shuts both channels and stops the loop. Subscribers observe it
// through Done.
func (s *Studio) Close() {
	s.loop.Do(func() {
		if s.closed {
			return
		}
		s.closed = true
		s.channels.CloseAll()
	})
	s.channels.Wait()
	s.loop.Stop()
	s.cancel()
	s.logger.Info("Close: studio stopped")
}

// Done is closed once the studio has stopped.
func (s *Studio) Done() <-chan struct{} {
	return s.loop.Done()
}

// Subscription receives coalesced change notifications.
type Subscription struct {
	mu      sync.Mutex
	pending Change
	ready   chan struct{}
}

// Ready fires when changes are pending.
func (sub *Subscription) Ready() <-chan struct{} { return sub.ready }

// Take returns and clears the pending changes.
func (sub *Subscription) Take() Change {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	c := sub.pending
	sub.pending = 0
	return c
}

func (sub *Subscription) signal(c Change) {
	sub.mu.Lock()
	sub.pending |= c
	sub.mu.Unlock()
	select {
	case sub.ready <- struct{}{}:
	default:
	}
}

// Subscribe registers for change notifications.
func (s *Studio) Subscribe() (*Subscription, error) {
	sub := &Subscription{ready: make(chan struct{}, 1)}
	err := s.do(func() error {
		s.subs[sub] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe stops notifications to sub.
func (s *Studio) Unsubscribe(sub *Subscription) {
	s.loop.Post(func() { delete(s.subs, sub) })
}

func (s *Studio) notify(c Change) {
	if c == 0 {
		return
	}
	for sub := range s.subs {
		sub.signal(c)
	}
}
