// Package httputil writes JSON responses and domain errors in the shared
// envelope: {"error": code, "error_description": message}.
package httputil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	dErrors "opsflow/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto an HTTP status. Internal errors never expose their
// message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]any{"error": string(code)}
	if de, ok := dErrors.As(err); ok && code != dErrors.CodeInternal && code != dErrors.CodeUnavailable {
		body["error_description"] = de.Message
	}
	if dErrors.IsRetryable(err) {
		body["retryable"] = true
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// DecodeJSON reads a bounded JSON body into T. Unknown fields are rejected.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		logger.WarnContext(r.Context(), "invalid request body", "error", err)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &v, true
}
