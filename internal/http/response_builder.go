package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"subtrack/internal/core"
	"subtrack/internal/log"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone at this point; nothing left but to log.
		slog.Warn("Failed to encode response", "error", err)
	}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnauthenticated), errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, core.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return log.ErrorTypeValidation
	case http.StatusNotFound:
		return log.ErrorTypeNotFound
	case http.StatusUnauthorized:
		return log.ErrorTypeAuth
	case http.StatusConflict:
		return log.ErrorTypeConflict
	case http.StatusServiceUnavailable:
		return log.ErrorTypeStore
	default:
		return log.ErrorTypeInternal
	}
}

// writeError renders err with its mapped status. Server-side failures are
// logged in full and reported to the client without internals.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	body := ErrorResponse{Error: err.Error()}

	logger := log.FromContext(r.Context())
	fields := log.NewFields().WithErrorType(errorType(status))

	switch {
	case status >= http.StatusInternalServerError:
		logger.LogError(r.Context(), "Request failed", op, err, fields)
		body.Error = http.StatusText(status)
	case status == http.StatusUnauthorized:
		logger.DebugContext(r.Context(), "Request unauthenticated", fields.WithOperation(op).WithError(err).ToSlice()...)
		body.Error = core.ErrUnauthenticated.Error()
		if errors.Is(err, core.ErrInvalidCredentials) {
			body.Error = core.ErrInvalidCredentials.Error()
		}
	default:
		logger.InfoContext(r.Context(), "Request rejected", fields.WithOperation(op).WithError(err).ToSlice()...)
	}

	if ve, ok := core.AsValidation(err); ok {
		body.Error = ve.Reason
		body.Field = ve.Field
	}

	writeJSON(w, status, body)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded, please try again later"})
}
