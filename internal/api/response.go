package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/pending"
)

// envelope is the response wrapper: { "data": ..., "error": ... }
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeEnvelope writes both halves, for results that were applied but whose
// side effects failed.
func writeEnvelope(w http.ResponseWriter, status int, data any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data, Error: msg}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, nil, msg)
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, call.ErrUnhandled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, call.ErrMalformedPayload), errors.Is(err, call.ErrInvalidCallID):
		return http.StatusBadRequest
	case pending.IsPersistence(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
