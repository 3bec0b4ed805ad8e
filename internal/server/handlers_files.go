package server

import (
	"archive/zip"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"game-sandbox/internal/identity"
	"game-sandbox/internal/preview"
	"game-sandbox/internal/views"
	"game-sandbox/internal/workspace"
)

// maxConsoleBody bounds one forwarded console message.
const maxConsoleBody = 64 << 10

func (s *Server) handleFileSelect(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	name := r.PathValue("name")
	if err := st.Select(name); err != nil {
		s.actionResult(w, err)
		return
	}
	snap, err := st.Snapshot()
	if err != nil {
		s.actionResult(w, err)
		return
	}
	s.logger.Debug("handleFileSelect: selected file", zap.String("studio", st.ID()), zap.String("file", name))
	s.renderHTML(w, "editor", views.NewEditor(snap))
}

func (s *Server) handleFileSave(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.httpError(w, "Invalid form", http.StatusBadRequest)
		return
	}
	s.actionResult(w, st.EditFile(r.PathValue("name"), r.PostFormValue("text")))
}

// handlePreview serves the composed game document. The revision in the path
// only busts caches; the current workspace is always served.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if _, err := strconv.ParseUint(r.PathValue("rev"), 10, 64); err != nil {
		s.httpError(w, "Invalid revision", http.StatusBadRequest)
		return
	}
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	snap, err := st.Snapshot()
	if err != nil {
		s.actionResult(w, err)
		return
	}
	doc, err := preview.Compose(snap.Files)
	if err != nil {
		if errors.Is(err, workspace.ErrMissingIndex) {
			s.httpError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.httpError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", preview.ContentSecurityPolicy)
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, doc)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	st, err := s.studioFor(r)
	if err != nil {
		s.httpError(w, "Sandbox unavailable", http.StatusServiceUnavailable)
		return
	}
	snap, err := st.Snapshot()
	if err != nil {
		s.actionResult(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=game.zip")
	w.Header().Set("Cache-Control", "no-cache")

	zw := zip.NewWriter(w)
	modified := time.Now()
	for _, f := range snap.Files {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			s.logger.Error("handleDownload: failed to add file", zap.String("file", f.Name), zap.Error(err))
			return
		}
		if _, err := io.WriteString(fw, f.Content); err != nil {
			s.logger.Warn("handleDownload: failed to stream zip", zap.Error(err))
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.logger.Warn("handleDownload: failed to finish zip", zap.Error(err))
		return
	}
	s.logger.Info("handleDownload: streamed workspace", zap.String("studio", st.ID()), zap.Int("files", len(snap.Files)))
}

// sameOrigin accepts requests made by the host page itself: no cross-site
// fetch metadata, a matching Origin, and an identity cookie already set.
func sameOrigin(r *http.Request) bool {
	if site := r.Header.Get("Sec-Fetch-Site"); site != "" && site != "same-origin" {
		return false
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		u, err := url.Parse(origin)
		if err != nil || u.Host != r.Host {
			return false
		}
	}
	_, err := r.Cookie(identity.CookieName)
	return err == nil
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		s.httpError(w, "Forbidden", http.StatusForbidden)
		return
	}
	st, ok := s.lookupStudio(r)
	if !ok {
		s.httpError(w, "No active sandbox", http.StatusGone)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConsoleBody))
	if err != nil {
		s.httpError(w, "Message too large", http.StatusRequestEntityTooLarge)
		return
	}
	_, err = st.AcceptConsole(body)
	s.actionResult(w, err)
}

func (s *Server) handleConsoleClear(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookupStudio(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.actionResult(w, st.ClearConsole())
}
