package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"posapi/internal/api"
)

// Incoming ids end up in logs and response headers, so only short tokens of
// safe characters are accepted.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestID assigns a unique request ID to each request. A well-formed
// X-Request-ID from the client is kept; anything else is replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		ctx := api.ContextWithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
