package studio

import (
	"fmt"

	"game-sandbox/internal/channel"
	"game-sandbox/internal/console"
	"game-sandbox/internal/conversation"
	"game-sandbox/internal/session"
	"game-sandbox/internal/workspace"
)

// Snapshot is a consistent copy of the studio state for rendering.
type Snapshot struct {
	Identity    string
	Entries     []conversation.Entry
	Files       workspace.Files
	Revision    uint64
	Selected    string
	Console     []console.Event
	ErrorCount  int
	Generating  bool
	Fixing      bool
	Banner      Banner
	Session     session.Session
	HasSession  bool
	Limit       int
	CreatePhase channel.Phase
	EditPhase   channel.Phase
}

// Snapshot copies the current state.
func (s *Studio) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() error {
		events := s.bridge.Events()
		errorCount := 0
		for _, ev := range events {
			if ev.Kind == console.KindError {
				errorCount++
			}
		}
		snap = Snapshot{
			Identity:    s.sess.Identity,
			Entries:     s.log.Entries(),
			Files:       s.ws.Files(),
			Revision:    s.ws.Revision(),
			Selected:    s.selected,
			Console:     events,
			ErrorCount:  errorCount,
			Generating:  s.generating,
			Fixing:      s.fixing,
			Banner:      s.banner,
			Session:     s.sess,
			HasSession:  s.hasSession,
			CreatePhase: s.channels.Phase(channel.RoleCreate),
			EditPhase:   s.channels.Phase(channel.RoleEdit),
		}
		if s.hasSession {
			snap.Limit = s.cfg.Sessions.Limit()
		}
		if snap.Identity == "" {
			snap.Identity = s.cfg.Identity
		}
		return nil
	})
	return snap, err
}

// QuotaExhausted reports whether no messages are left today.
func (s Snapshot) QuotaExhausted() bool {
	return s.HasSession && s.Session.Exhausted(s.Limit)
}

// QuotaText is the remaining-messages indicator, empty without a session.
func (s Snapshot) QuotaText() string {
	if !s.HasSession {
		return ""
	}
	if s.QuotaExhausted() {
		return TextLimitReached
	}
	return fmt.Sprintf(textRemainingPattern, s.Session.Remaining(s.Limit))
}

// ShowOnboarding reports whether the introduction dialog is still due.
func (s Snapshot) ShowOnboarding() bool {
	return s.HasSession && !s.Session.OnboardingSeen
}

// SelectedText returns the content of the selected file.
func (s Snapshot) SelectedText() string {
	text, _ := s.Files.Get(s.Selected)
	return text
}

// CanSend reports whether the chat input should accept a message.
func (s Snapshot) CanSend() bool {
	return !s.Generating && !s.QuotaExhausted()
}

// CanFix reports whether the fix-errors action is available.
func (s Snapshot) CanFix() bool {
	return !s.Fixing && !s.Generating && !s.QuotaExhausted()
}
