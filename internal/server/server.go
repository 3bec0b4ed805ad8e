package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"game-sandbox/internal/channel"
	"game-sandbox/internal/console"
	"game-sandbox/internal/session"
	"game-sandbox/internal/studio"
	"game-sandbox/internal/views"
	"game-sandbox/internal/workspace"
)

// UpdateRateLimiter implements a token bucket rate limiter for SSE updates.
// It ensures immediate first update, then enforces minimum interval between subsequent updates.
type UpdateRateLimiter struct {
	lastSent     time.Time
	pendingTimer *time.Timer
	mu           sync.Mutex
	minInterval  time.Duration
}

// NewUpdateRateLimiter creates a new rate limiter with specified minimum interval.
func NewUpdateRateLimiter(interval time.Duration) *UpdateRateLimiter {
	return &UpdateRateLimiter{
		minInterval: interval,
	}
}

// TryUpdate attempts to execute the update function, respecting rate limits.
// First update is immediate, subsequent updates are rate-limited to minInterval.
// A pending update is replaced by a newer one. The context cancels pending
// updates when the connection closes.
func (u *UpdateRateLimiter) TryUpdate(ctx context.Context, doUpdate func()) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pendingTimer != nil {
		u.pendingTimer.Stop()
		u.pendingTimer = nil
	}

	now := time.Now()
	elapsed := now.Sub(u.lastSent)

	if u.lastSent.IsZero() || elapsed >= u.minInterval {
		u.lastSent = now
		if ctx.Err() == nil {
			doUpdate()
		}
		return
	}

	remainingWait := u.minInterval - elapsed
	u.pendingTimer = time.AfterFunc(remainingWait, func() {
		u.mu.Lock()
		u.pendingTimer = nil
		if ctx.Err() != nil {
			u.mu.Unlock()
			return
		}
		u.lastSent = time.Now()
		u.mu.Unlock()
		doUpdate()
	})
}

// Stop cancels a pending update.
func (u *UpdateRateLimiter) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pendingTimer != nil {
		u.pendingTimer.Stop()
		u.pendingTimer = nil
	}
}

// Options configures a Server.
type Options struct {
	// Channels is the template every studio's channel manager starts from.
	Channels channel.Config
	// Sessions enforces the daily quota. Nil runs every studio anonymously.
	Sessions        *session.Manager
	ConsoleCapacity int
	// PreviewInterval spaces out preview reloads while files change quickly.
	PreviewInterval time.Duration
	// KeepAlive is how often an idle event stream is pinged.
	KeepAlive     time.Duration
	SecureCookies bool
	Logger        *zap.Logger
}

// Server is the main application server.
type Server struct {
	opts      Options
	logger    *zap.Logger
	studios   map[string]*studio.Studio // identity -> studio
	mu        sync.RWMutex
	closed    bool
	templates *template.Template
}

// NewServer creates a new Server instance with properly initialized templates.
func NewServer(opts Options) (*Server, error) {
	tmpl, err := views.LoadTemplates()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConsoleCapacity <= 0 {
		opts.ConsoleCapacity = console.DefaultCapacity
	}
	if opts.PreviewInterval <= 0 {
		opts.PreviewInterval = 300 * time.Millisecond
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}

	return &Server{
		opts:      opts,
		logger:    opts.Logger,
		studios:   make(map[string]*studio.Studio),
		templates: tmpl,
	}, nil
}

// renderHTML sets the HTML content type header and executes the template.
func (s *Server) renderHTML(w http.ResponseWriter, tmplName string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, tmplName, data); err != nil {
		http.Error(w, "Template error", http.StatusInternalServerError)
		s.logger.Error("renderHTML: template error", zap.String("template", tmplName), zap.Error(err))
	}
}

// httpError logs and sends an HTTP error response.
func (s *Server) httpError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("httpError", zap.Int("status", code), zap.String("message", message))
	} else {
		s.logger.Debug("httpError", zap.Int("status", code), zap.String("message", message))
	}
	http.Error(w, message, code)
}

// actionResult answers a POST action. Studio errors already surfaced as a
// banner or inline text map to 4xx; only unexpected failures are 5xx.
func (s *Server) actionResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, studio.ErrEmptyMessage),
		errors.Is(err, workspace.ErrInvalidName),
		errors.Is(err, console.ErrNotConsoleMessage):
		s.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, workspace.ErrNotFound):
		s.httpError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrQuotaExceeded):
		s.httpError(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, studio.ErrGenerating),
		errors.Is(err, studio.ErrAlreadyFixing),
		errors.Is(err, channel.ErrNotOpen),
		errors.Is(err, channel.ErrTransportLost):
		s.httpError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, studio.ErrNoErrorsToFix),
		errors.Is(err, studio.ErrNoSession):
		s.httpError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, studio.ErrClosed):
		s.httpError(w, err.Error(), http.StatusGone)
	default:
		s.httpError(w, err.Error(), http.StatusInternalServerError)
	}
}
