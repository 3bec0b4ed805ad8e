package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"game-sandbox/internal/identity"
	"game-sandbox/internal/studio"
)

var errShuttingDown = errors.New("server shutting down")

func isDone(st *studio.Studio) bool {
	select {
	case <-st.Done():
		return true
	default:
		return false
	}
}

// studioFor returns the studio of the request's identity, starting one on
// first use.
func (s *Server) studioFor(r *http.Request) (*studio.Studio, error) {
	id := identity.FromRequest(r)
	if id == "" {
		return nil, errors.New("request has no identity")
	}

	s.mu.RLock()
	st, exists := s.studios[id]
	s.mu.RUnlock()
	if exists && !isDone(st) {
		return st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errShuttingDown
	}
	if st, exists := s.studios[id]; exists && !isDone(st) {
		return st, nil
	}

	st, err := studio.New(r.Context(), studio.Config{
		Identity:        id,
		Sessions:        s.opts.Sessions,
		Channels:        s.opts.Channels,
		ConsoleCapacity: s.opts.ConsoleCapacity,
		Logger:          s.logger.Named("studio"),
	})
	if err != nil {
		s.logger.Error("studioFor: failed to start studio", zap.String("identity", id), zap.Error(err))
		return nil, err
	}
	s.studios[id] = st
	s.logger.Info("studioFor: started studio",
		zap.String("identity", id),
		zap.String("studio", st.ID()),
		zap.Int("active", len(s.studios)))
	return st, nil
}

// lookupStudio returns the running studio of the request's identity without
// starting one.
func (s *Server) lookupStudio(r *http.Request) (*studio.Studio, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studios[identity.FromRequest(r)]
	if !ok || isDone(st) {
		return nil, false
	}
	return st, true
}

// resetStudio tears down the identity's studio. The next request starts a
// fresh one; the session record and its quota survive.
func (s *Server) resetStudio(id string) {
	s.mu.Lock()
	st, ok := s.studios[id]
	delete(s.studios, id)
	s.mu.Unlock()
	if ok {
		st.Close()
		s.logger.Info("resetStudio: studio closed", zap.String("identity", id), zap.String("studio", st.ID()))
	}
}

// ActiveStudios reports how many studios are running.
func (s *Server) ActiveStudios() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.studios)
}

// Close stops every studio. Later requests that need one fail.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	studios := s.studios
	s.studios = make(map[string]*studio.Studio)
	s.mu.Unlock()

	for _, st := range studios {
		st.Close()
	}
	s.logger.Info("Close: all studios stopped", zap.Int("count", len(studios)))
}
