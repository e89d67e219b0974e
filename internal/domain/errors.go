package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across package boundaries.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrRateLimited  = errors.New("rate limited")
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Store access gate failures. They wrap the generic kinds so callers can
// match on either.
var (
	ErrMissingStore      = fmt.Errorf("%w: missing store identifier", ErrBadRequest)
	ErrInvalidStore      = fmt.Errorf("%w: invalid store identifier", ErrBadRequest)
	ErrStoreAccessDenied = fmt.Errorf("%w: store access denied", ErrForbidden)
)

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// TokenPair is returned by the token endpoint of the identity service.
type TokenPair struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
