package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"posapi/internal/api"
	"posapi/internal/api/handler"
	"posapi/internal/api/middleware"
	"posapi/internal/platform/telemetry"
)

// Deps are the collaborators NewRouter wires together.
type Deps struct {
	ServiceName  string
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
	JWKS         api.JWKSProvider
	Limiter      api.RateLimiter
	Gate         *middleware.Gate
	Expenses     *handler.ExpenseHandler
	Store        handler.Pinger
	CORS         middleware.CORSConfig
	MaxBodyBytes int64
	// MetricsHandler serves /metrics. Nil leaves the route unregistered.
	MetricsHandler http.Handler
}

// NewRouter builds the full HTTP surface: transport middleware for every
// request, public health endpoints, and the authenticated resource tables.
func NewRouter(d Deps) (http.Handler, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(
		middleware.Metrics(d.Metrics),
		middleware.RequestID,
		middleware.Logging(d.Logger),
		middleware.Recovery,
		middleware.SecurityHeaders,
		middleware.CORS(d.CORS),
		middleware.MaxBodySize(d.MaxBodyBytes),
		middleware.RateLimit(d.Limiter, d.Metrics),
	)

	r.Get("/health", handler.Health(d.ServiceName))
	r.Get("/readyz", handler.Ready(d.Store))
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	auth := middleware.Auth(d.JWKS, d.Metrics)
	for _, t := range []Table{ExpenseTable(d.Expenses)} {
		if err := Mount(r, t, auth, d.Gate); err != nil {
			return nil, err
		}
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteErrorResponse(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.WriteErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r, nil
}
