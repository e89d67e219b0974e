package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"posapi/internal/api"
	"posapi/internal/domain"
	"posapi/internal/platform/telemetry"
)

const maxClockSkew = 30 * time.Second

// Auth returns a middleware that validates JWT Bearer tokens and stores the
// resulting domain.Principal in the request context.
// It uses the provided JWKSProvider to look up public keys by kid.
// The metrics parameter is optional; pass nil to skip metric recording.
func Auth(jwks api.JWKSProvider, m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r)
			if !ok {
				m.RecordAuthValidation(r.Context(), "failure")
				writeAuthError(w, "missing or malformed authorization header")
				return
			}

			// Only RS256 is accepted.
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				kid, ok := t.Header["kid"].(string)
				if !ok || kid == "" {
					return nil, domain.ErrInvalidToken
				}
				return jwks.GetKey(r.Context(), kid)
			},
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithLeeway(maxClockSkew),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				slog.Debug("auth validation failed", "error", err)
				m.RecordAuthValidation(r.Context(), "failure")
				if errors.Is(err, jwt.ErrTokenExpired) {
					writeAuthError(w, "token expired")
					return
				}
				writeAuthError(w, "invalid or expired token")
				return
			}

			if !token.Valid {
				m.RecordAuthValidation(r.Context(), "failure")
				writeAuthError(w, "invalid token")
				return
			}

			principal, err := extractPrincipal(token.Claims)
			if err != nil {
				slog.Debug("extracting principal", "error", err)
				m.RecordAuthValidation(r.Context(), "failure")
				writeAuthError(w, "invalid token claims")
				return
			}

			m.RecordAuthValidation(r.Context(), "success")
			ctx := api.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// extractPrincipal reads sub, role and stores. stores may be a JSON array of
// strings or a single space- or comma-separated string.
func extractPrincipal(claims jwt.Claims) (domain.Principal, error) {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	sub, _ := mc["sub"].(string)
	if sub == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	role, _ := mc["role"].(string)
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	var stores []string
	switch v := mc["stores"].(type) {
	case []any:
		for _, s := range v {
			id, ok := s.(string)
			if !ok {
				return domain.Principal{}, domain.ErrInvalidToken
			}
			if id = strings.TrimSpace(id); id != "" {
				stores = append(stores, id)
			}
		}
	case string:
		stores = strings.FieldsFunc(v, func(r rune) bool {
			return r == ' ' || r == ','
		})
	case nil:
	default:
		return domain.Principal{}, domain.ErrInvalidToken
	}

	return domain.Principal{
		ID:       sub,
		Role:     domain.Role(role),
		StoreIDs: stores,
	}, nil
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pos"`)
	api.WriteErrorResponse(w, http.StatusUnauthorized, "unauthorized", msg)
}
