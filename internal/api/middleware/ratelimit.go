package middleware

import (
	"net"
	"net/http"
	"strconv"

	"posapi/internal/api"
	"posapi/internal/domain"
	"posapi/internal/platform/telemetry"
)

// RateLimit returns middleware that enforces per-IP rate limits.
// The metrics parameter is optional; pass nil to skip metric recording.
func RateLimit(limiter api.RateLimiter, m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if result := limiter.Allow(ip); !result.Allowed {
				m.RecordRateLimitDecision(r.Context(), "ip", "denied")
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				api.WriteJSON(w, http.StatusTooManyRequests, domain.ErrorResponse{
					Error:      "rate_limited",
					Message:    "too many requests",
					RetryAfter: result.RetryAfter,
				})
				return
			}

			m.RecordRateLimitDecision(r.Context(), "ip", "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For is client-controlled and is not trusted here.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
