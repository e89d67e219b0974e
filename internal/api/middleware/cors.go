package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig mirrors the browser-facing CORS policy of the POS API.
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int // seconds
}

// CORS returns middleware answering preflight requests and decorating
// responses according to cfg. Preflights are answered with 200.
func CORS(cfg CORSConfig) Middleware {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"x-access-token", "x-auth-token", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           cfg.MaxAge,
	})
}
