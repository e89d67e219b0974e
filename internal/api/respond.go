package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"posapi/internal/domain"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// WriteErrorResponse writes the standard error envelope.
func WriteErrorResponse(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, domain.ErrorResponse{Error: code, Message: msg})
}

// WriteError maps err onto an HTTP status and error envelope. Errors that do
// not wrap a known sentinel are logged and reported as 500 without detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		msg = "an unexpected error occurred"
	} else {
		msg = publicMessage(err)
	}
	WriteErrorResponse(w, status, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// publicMessage drops the sentinel prefix ("forbidden: store access denied"
// becomes "store access denied") so clients see the specific reason.
func publicMessage(err error) string {
	msg := err.Error()
	for _, kind := range []error{
		domain.ErrBadRequest, domain.ErrForbidden, domain.ErrNotFound,
		domain.ErrConflict, domain.ErrValidation, domain.ErrUnauthorized,
	} {
		if prefix := kind.Error() + ": "; strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
