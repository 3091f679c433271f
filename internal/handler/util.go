// Package handler exposes the assistant over HTTP: JSON endpoints, a
// server-sent event stream and an audio WebSocket.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/listing-assistant/internal/assistant"
)

const maxBodyBytes = 64 << 10

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeControllerError maps controller sentinels to HTTP statuses.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, assistant.ErrBusy):
		writeError(w, http.StatusConflict, "a response is already pending")
	case errors.Is(err, assistant.ErrCollapsed):
		writeError(w, http.StatusConflict, "assistant panel is collapsed")
	case errors.Is(err, assistant.ErrUnknownVoice):
		writeError(w, http.StatusUnprocessableEntity, "unknown voice")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
