package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ayusman/mukha/internal/pipeline"
	"github.com/ayusman/mukha/internal/session"
)

type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// errorStatus maps session errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownOption):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrModelsNotReady), errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoFrame):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), errorResponse{
		Error:  err.Error(),
		Status: s.config.Session.Snapshot().Status,
	})
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Session.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Session.Start(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.config.Session.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Session.Stop(); err != nil {
		s.log.WithError(err).Warn("Stop reported an error")
	}
	writeJSON(w, http.StatusOK, s.config.Session.Snapshot())
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Session.Options())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	opts, err := s.config.Session.ToggleOption(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}
