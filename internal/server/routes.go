package server

import (
	"net/http"

	"game-sandbox/internal/identity"
	"game-sandbox/internal/middleware"
	"game-sandbox/internal/templates"
)

// RegisterRoutes creates and configures the HTTP mux with Go 1.22+ method routing.
func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Main page
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /events", s.handleSSE)

	// Chat and session actions
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("POST /fix", s.handleFix)
	mux.HandleFunc("POST /reconnect", s.handleReconnect)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("POST /banner/dismiss", s.handleDismissBanner)
	mux.HandleFunc("POST /onboarding/dismiss", s.handleDismissOnboarding)

	// Workspace
	mux.HandleFunc("GET /files/{name...}", s.handleFileSelect)
	mux.HandleFunc("POST /files/{name...}", s.handleFileSave)
	mux.HandleFunc("GET /preview/{rev}", s.handlePreview)
	mux.HandleFunc("GET /download", s.handleDownload)

	// Console bridge
	mux.HandleFunc("POST /console", s.handleConsole)
	mux.HandleFunc("POST /console/clear", s.handleConsoleClear)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Static files
	mux.Handle("GET /static/", http.FileServer(http.FS(templates.StaticFS)))

	return mux
}

// WrapWithMiddleware applies standard middleware to the mux.
func (s *Server) WrapWithMiddleware(mux *http.ServeMux) http.Handler {
	return middleware.ChainMiddleware(mux,
		middleware.Recover(s.logger),
		middleware.LoggingMiddleware(s.logger.Named("http"), "/events"),
		identity.Middleware(s.logger, s.opts.SecureCookies),
	)
}

// Handler is the fully wrapped application handler.
func (s *Server) Handler() http.Handler {
	return s.WrapWithMiddleware(s.RegisterRoutes())
}
