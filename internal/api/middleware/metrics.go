package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"posapi/internal/api"
	"posapi/internal/platform/telemetry"
)

// Metrics returns middleware that records HTTP request metrics.
// Place as the outermost middleware to capture the full request lifecycle.
func Metrics(m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &api.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			if m != nil {
				m.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), sw.Code, time.Since(start).Seconds())
			}
		})
	}
}

// routePattern returns the chi route pattern matched for r, or "unmatched".
// The route context is populated by the router as it dispatches, so it is
// only complete after the inner handler has run.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
