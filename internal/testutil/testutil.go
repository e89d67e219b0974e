package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"posapi/internal/domain"
)

var keySeq atomic.Int64

// GenerateTestKeyPair generates an RSA key pair for testing.
// Returns (keyID, privateKey, publicKey).
func GenerateTestKeyPair(t *testing.T) (string, *rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	kid := fmt.Sprintf("test-key-%d-%d", time.Now().UnixNano(), keySeq.Add(1))
	return kid, priv, &priv.PublicKey
}

// PrincipalClaims builds the claims the API expects for principal.
func PrincipalClaims(principal domain.Principal, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	stores := make([]any, len(principal.StoreIDs))
	for i, s := range principal.StoreIDs {
		stores[i] = s
	}
	return jwt.MapClaims{
		"sub":    principal.ID,
		"role":   principal.Role.String(),
		"stores": stores,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
		"iss":    "posapi-test",
	}
}

// SignClaims signs arbitrary claims with RS256 under kid.
func SignClaims(t *testing.T, kid string, priv *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// IssueTestToken creates a signed JWT for testing.
// A negative ttl produces an already-expired token.
func IssueTestToken(t *testing.T, kid string, priv *rsa.PrivateKey, principal domain.Principal, ttl time.Duration) string {
	t.Helper()
	return SignClaims(t, kid, priv, PrincipalClaims(principal, ttl))
}

// MockJWKSHandler returns an http.Handler that serves a JWKS response
// containing the given public key.
func MockJWKSHandler(kid string, pub *rsa.PublicKey) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64URLEncode(pub.N.Bytes()),
					"e":   base64URLEncode(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})
}

// Issuer is a throwaway identity service: a key pair plus a JWKS server.
type Issuer struct {
	Kid     string
	Private *rsa.PrivateKey
	Server  *httptest.Server
}

// NewIssuer starts a JWKS server that is closed when the test ends.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()
	kid, priv, pub := GenerateTestKeyPair(t)
	srv := httptest.NewServer(MockJWKSHandler(kid, pub))
	t.Cleanup(srv.Close)
	return &Issuer{Kid: kid, Private: priv, Server: srv}
}

// JWKSURL returns the JWKS endpoint URL.
func (i *Issuer) JWKSURL() string {
	return i.Server.URL
}

// Token issues a 15 minute token for principal.
func (i *Issuer) Token(t *testing.T, principal domain.Principal) string {
	t.Helper()
	return IssueTestToken(t, i.Kid, i.Private, principal, 15*time.Minute)
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
