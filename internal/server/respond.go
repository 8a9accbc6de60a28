package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voyagen/releasecal/internal/auth"
	"github.com/voyagen/releasecal/internal/service"
	"github.com/voyagen/releasecal/internal/store"
	"github.com/voyagen/releasecal/internal/tmdb"
)

// APIError is the error envelope for all error responses.
type APIError struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
}

// badRequest marks caller mistakes.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func errBadRequest(msg string) error { return badRequest{msg: msg} }

// classify maps an error to its HTTP status and whether retrying may help.
func classify(err error) (status int, retryable bool) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, false
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized, false
	case errors.Is(err, service.ErrSyncInProgress):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, tmdb.ErrUpstreamUnavailable):
		return http.StatusBadGateway, true
	case errors.Is(err, tmdb.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	}
	return http.StatusInternalServerError, false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Warn().Err(err).Msg("writeJSON")
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, retryable := classify(err)
	if status >= 500 {
		s.Log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	s.writeJSON(w, status, APIError{
		Status:    status,
		Error:     http.StatusText(status),
		Detail:    err.Error(),
		Retryable: retryable,
	})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
