package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"posapi/internal/api"
)

// Recovery catches panics from downstream handlers and returns a 500 JSON error.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("panic recovered",
					"error", err,
					"request_id", api.RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				api.WriteErrorResponse(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
