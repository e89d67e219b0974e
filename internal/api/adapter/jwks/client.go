package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"posapi/internal/platform/telemetry"
)

// ErrKeyNotFound is returned when the JWKS document has no key for a kid.
var ErrKeyNotFound = errors.New("key not found in JWKS")

// Client fetches and caches public keys from a JWKS endpoint.
type Client struct {
	endpoint   string
	minRefresh time.Duration
	httpClient *http.Client
	metrics    *telemetry.Metrics

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics records refresh attempts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a JWKS client that caches keys and won't re-fetch
// more often than minRefresh.
func NewClient(endpoint string, minRefresh time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		minRefresh: minRefresh,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]*rsa.PublicKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKey returns the public key for the given key ID.
// Unknown kids trigger a refresh (rate-limited by minRefresh) to pick up
// key rotations.
func (c *Client) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("fetching key %q: %w", kid, err)
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kid %q: %w", kid, ErrKeyNotFound)
	}
	return key, nil
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if !c.lastFetch.IsZero() && time.Since(c.lastFetch) < c.minRefresh {
		return nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		c.metrics.RecordJWKSRefresh(ctx, "failure")
		return err
	}
	c.metrics.RecordJWKSRefresh(ctx, "success")

	c.keys = keys
	c.lastFetch = time.Now()
	return nil
}

func (c *Client) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var doc jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Alg != "" && k.Alg != "RS256") {
			slog.Debug("skipping non-RS256 JWKS key", "kid", k.Kid, "kty", k.Kty, "alg", k.Alg)
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			slog.Warn("failed to parse JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decoding n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decoding e: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("unsupported exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
