package api

import (
	"context"
	"crypto/rsa"
	"net/http"

	"posapi/internal/domain"
)

// JWKSProvider fetches and caches public keys from the identity service's JWKS endpoint.
type JWKSProvider interface {
	// GetKey returns the public key for the given key ID.
	GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// RateLimiter decides whether a request identified by key should be allowed.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *StatusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// StoreScope is what the store access gate attaches to a request.
type StoreScope struct {
	// StoreID is the validated store reference; empty when Resolved is false.
	StoreID  string
	Resolved bool
	// Unrestricted is set for bypass roles, which may act on any store.
	Unrestricted bool
	// Permitted is the principal's store set, for handlers that aggregate
	// across stores when no store was resolved.
	Permitted []string
}

// Allows reports whether the scope covers storeID.
func (s StoreScope) Allows(storeID string) bool {
	if s.Resolved {
		return s.StoreID == storeID
	}
	if s.Unrestricted {
		return true
	}
	for _, id := range s.Permitted {
		if id == storeID {
			return true
		}
	}
	return false
}

// RequestInfo collects per-request attributes set by inner middleware so
// outer middleware (logging) can report them after the handler returns.
type RequestInfo struct {
	PrincipalID string
	StoreID     string
}

// PrincipalFromContext extracts the authenticated principal from a request context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	if info := RequestInfoFromContext(ctx); info != nil {
		info.PrincipalID = p.ID
	}
	return context.WithValue(ctx, principalKey{}, p)
}

type principalKey struct{}

// StoreScopeFromContext returns the scope attached by the store access gate.
func StoreScopeFromContext(ctx context.Context) (StoreScope, bool) {
	s, ok := ctx.Value(storeScopeKey{}).(StoreScope)
	return s, ok
}

// ContextWithStoreScope stores the gate's scope in the context.
func ContextWithStoreScope(ctx context.Context, s StoreScope) context.Context {
	if info := RequestInfoFromContext(ctx); info != nil {
		info.StoreID = s.StoreID
	}
	return context.WithValue(ctx, storeScopeKey{}, s)
}

type storeScopeKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}

// RequestInfoFromContext returns the mutable request info, or nil.
func RequestInfoFromContext(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}

// ContextWithRequestInfo stores info in the context.
func ContextWithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

type requestInfoKey struct{}
