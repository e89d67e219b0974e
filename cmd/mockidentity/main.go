// Command mockidentity is a development identity service. It signs RS256
// access tokens for a fixed set of POS users and serves the matching JWKS.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"posapi/internal/api"
	"posapi/internal/domain"
	"posapi/internal/platform/server"
)

const tokenTTL = 15 * time.Minute

type user struct {
	Password string   `yaml:"password"`
	Role     string   `yaml:"role"`
	Stores   []string `yaml:"stores"`
}

// One user per role shape the store gate distinguishes.
var seedUsers = map[string]user{
	"owner":   {Password: "owner", Role: string(domain.RoleOwner)},
	"manager": {Password: "manager", Role: string(domain.RoleManager), Stores: []string{"store-1", "store-2"}},
	"cashier": {Password: "cashier", Role: string(domain.RoleCashier), Stores: []string{"store-1"}},
}

type issuer struct {
	kid   string
	key   *rsa.PrivateKey
	users map[string]user
	now   func() time.Time
}

func main() {
	addr := os.Getenv("IDENTITY_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	users := seedUsers
	if path := os.Getenv("MOCK_USERS_FILE"); path != "" {
		loaded, err := loadUsers(path)
		if err != nil {
			slog.Error("loading users", "error", err, "path", path)
			os.Exit(1)
		}
		users = loaded
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	iss := &issuer{
		kid:   fmt.Sprintf("mock-key-%d", time.Now().Unix()),
		key:   key,
		users: users,
		now:   time.Now,
	}

	r := chi.NewRouter()
	r.Get("/.well-known/jwks.json", iss.jwks)
	r.Post("/auth/token", iss.token)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "mock-identity is running"})
	})

	for name, u := range users {
		slog.Info("seeded user", "username", name, "role", u.Role, "stores", u.Stores)
	}
	slog.Info("mock identity service starting", "addr", addr, "kid", iss.kid)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.New(addr, r).Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

// loadUsers reads a YAML map of username to {password, role, stores}.
func loadUsers(path string) (map[string]user, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var users map[string]user
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%s defines no users", path)
	}
	return users, nil
}

func (i *issuer) jwks(w http.ResponseWriter, r *http.Request) {
	pub := &i.key.PublicKey
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": i.kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (i *issuer) token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		api.WriteErrorResponse(w, http.StatusBadRequest, "bad_request", "username and password are required")
		return
	}
	u, ok := i.users[req.Username]
	if !ok || u.Password != req.Password {
		api.WriteErrorResponse(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	stores := u.Stores
	if stores == nil {
		stores = []string{}
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":    req.Username,
		"role":   u.Role,
		"stores": stores,
		"iat":    now.Unix(),
		"exp":    now.Add(tokenTTL).Unix(),
		"iss":    "mock-identity",
	})
	token.Header["kid"] = i.kid

	signed, err := token.SignedString(i.key)
	if err != nil {
		api.WriteError(w, r, fmt.Errorf("signing token: %w", err))
		return
	}
	api.WriteJSON(w, http.StatusOK, domain.TokenPair{
		AccessToken: signed,
		ExpiresIn:   int(tokenTTL.Seconds()),
		TokenType:   "Bearer",
	})
}
