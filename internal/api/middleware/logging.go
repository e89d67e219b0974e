package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"posapi/internal/api"
)

// Logging returns a middleware that logs each request using slog.
// The principal and store are filled in by Auth and the store access gate
// further down the chain.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &api.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			info := &api.RequestInfo{}
			r = r.WithContext(api.ContextWithRequestInfo(r.Context(), info))

			next.ServeHTTP(sw, r)

			level := slog.LevelInfo
			if sw.Code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"request_id", api.RequestIDFromContext(r.Context()),
				"principal_id", info.PrincipalID,
				"store_id", info.StoreID,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
