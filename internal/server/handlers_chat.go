package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"game-sandbox/internal/identity"
	"game-sandbox/internal/sse"
	"game-sandbox/internal/studio"
	"game-sandbox/internal/views"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	snap, err := st.Snapshot()
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.renderHTML(w, "index", views.NewPage(snap))
}

// fragment is one region of the page pushed over the event stream.
type fragment struct {
	change studio.Change
	event  string
	data   func(studio.Snapshot) any
}

var fragments = []fragment{
	{studio.ChangeStatus, "status", func(s studio.Snapshot) any { return views.NewStatus(s) }},
	{studio.ChangeBanner, "banner", func(s studio.Snapshot) any { return views.NewBanner(s) }},
	{studio.ChangeLog, "chat", func(s studio.Snapshot) any { return views.NewChat(s) }},
	{studio.ChangeFiles, "editor", func(s studio.Snapshot) any { return views.NewEditor(s) }},
	{studio.ChangeConsole, "console", func(s studio.Snapshot) any { return views.NewConsole(s) }},
}

// pushChanges renders the regions named by c and sends each as an event
// named after its template.
func (s *Server) pushChanges(stream *sse.Stream, snap studio.Snapshot, c studio.Change) error {
	for _, f := range fragments {
		if c&f.change == 0 {
			continue
		}
		html, err := views.Render(s.templates, f.event, f.data(snap))
		if err != nil {
			s.logger.Error("pushChanges: template error", zap.String("template", f.event), zap.Error(err))
			continue
		}
		if err := stream.Send(f.event, html); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	stream, err := sse.NewStream(w)
	if err != nil {
		s.httpError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	sub, err := st.Subscribe()
	if err != nil {
		stream.Send("reload", "")
		return
	}
	defer st.Unsubscribe(sub)

	logger := s.logger.With(zap.String("studio", st.ID()))
	logger.Debug("handleSSE: stream opened")
	defer logger.Debug("handleSSE: stream closed")

	ctx := r.Context()
	previews := NewUpdateRateLimiter(s.opts.PreviewInterval)
	defer previews.Stop()
	keepAlive := time.NewTicker(s.opts.KeepAlive)
	defer keepAlive.Stop()

	// The page reports the revision its preview shows; anything newer is
	// pushed on connect.
	lastRev, _ := strconv.ParseUint(r.URL.Query().Get("rev"), 10, 64)
	pending := studio.ChangeAll

	for {
		if pending != 0 {
			snap, err := st.Snapshot()
			if err != nil {
				stream.Send("reload", "")
				return
			}
			if err := s.pushChanges(stream, snap, pending); err != nil {
				logger.Debug("handleSSE: write failed", zap.Error(err))
				return
			}
			if pending&studio.ChangeFiles != 0 && snap.Revision != lastRev {
				lastRev = snap.Revision
				rev := strconv.FormatUint(snap.Revision, 10)
				previews.TryUpdate(ctx, func() {
					stream.Send("preview", rev)
				})
			}
			pending = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-st.Done():
			stream.Send("reload", "")
			return
		case <-sub.Ready():
			pending = sub.Take()
		case <-keepAlive.C:
			if err := stream.Ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	err = st.SendMessage(r.FormValue("message"))
	if err != nil {
		s.logger.Info("handleSend: message not sent", zap.String("studio", st.ID()), zap.Error(err))
	}
	s.actionResult(w, err)
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	s.actionResult(w, st.FixErrors())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	s.actionResult(w, st.Reconnect())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.resetStudio(identity.FromRequest(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismissBanner(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookupStudio(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.actionResult(w, st.DismissBanner())
}

func (s *Server) handleDismissOnboarding(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	s.actionResult(w, st.DismissOnboarding(r.Context()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"studios": s.ActiveStudios(),
	})
}
