package middleware

import (
	"net/http"

	"posapi/internal/api"
)

// MaxBodySize returns middleware that limits request body size to maxBytes.
// Requests that declare a larger Content-Length are rejected up front; for
// the rest, reads past the limit fail with *http.MaxBytesError.
func MaxBodySize(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				api.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
