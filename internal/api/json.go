package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arenfeld/codex/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps the error taxonomy onto HTTP status codes so API clients
// see the same distinctions the CLI exit codes carry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrDuplicateID), errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrConfiguration), errors.Is(err, apperr.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		// ErrAuthentication and ErrIntegrity mean stored state failed
		// verification; nothing the client sent can fix that.
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err.Error()))
}
