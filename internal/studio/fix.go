package studio

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"game-sandbox/internal/channel"
	"game-sandbox/internal/console"
	"game-sandbox/internal/conversation"
	"game-sandbox/internal/models"
)

var (
	ErrAlreadyFixing = errors.New("a fix request is already in flight")
	ErrNoSession     = errors.New("no session")
	ErrNoErrorsToFix = errors.New("no console errors to fix")
)

const (
	fixPromptHead = "Please fix all these console errors in the game files. Here are the errors:\n\n"
	fixPromptTail = "\n\nPlease analyze the errors and provide the necessary fixes to the game files."
)

// FixPrompt lists errors as "[HH:MM:SS] message" lines, oldest first, inside
// the fix request prompt.
func FixPrompt(errs []console.Event) string {
	lines := make([]string, len(errs))
	for i, ev := range errs {
		lines[i] = "[" + ev.Clock() + "] " + ev.Text
	}
	return fixPromptHead + strings.Join(lines, "\n") + fixPromptTail
}

// FixErrors asks the edit channel to fix every captured console error. The
// message counts against the daily quota once the send succeeds.
func (s *Studio) FixErrors() error {
	return s.do(func() error {
		if s.fixing {
			return ErrAlreadyFixing
		}
		if !s.hasSession {
			return ErrNoSession
		}
		errs := s.bridge.Errors()
		if len(errs) == 0 {
			s.banner = errorBanner(TextNoErrorsToFix, false)
			s.notify(ChangeBanner)
			return ErrNoErrorsToFix
		}
		if s.generating {
			return ErrGenerating
		}
		if err := s.checkQuota(); err != nil {
			return err
		}

		related := false
		req := &models.EditRequest{
			Prompt:             FixPrompt(errs),
			Files:              s.ws.Files(),
			IsNotRelatedToGame: &related,
		}
		s.fixing = true
		s.pendingSends++
		s.log.Append(conversation.Entry{Speaker: conversation.SpeakerUser, Text: TextFixRequest})
		s.logger.Info("FixErrors: requesting fix", zap.Int("errors", len(errs)))
		s.channels.SendDeferred(channel.RoleEdit, req, func(err error) {
			s.afterEditSend(err, true)
		})
		s.notify(ChangeLog | ChangeStatus)
		return nil
	})
}
