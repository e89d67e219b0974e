package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the POS API.
type Config struct {
	APIAddr      string
	ServiceName  string
	JWKSEndpoint string
	DatabasePath string
	LogLevel     string
	MaxBodyBytes int64
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	StoreAccess  StoreAccessConfig
}

// RateLimitConfig holds token bucket parameters for per-IP rate limiting.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

// CORSConfig holds the browser-facing CORS settings.
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int
}

// StoreAccessConfig configures the store access gate. Zero values mean
// "use the gate's default". BypassRoles is nil when unset so that an
// explicitly empty list can disable bypass.
type StoreAccessConfig struct {
	PolicyFile   string   `yaml:"-"`
	Field        string   `yaml:"field"`
	BypassRoles  []string `yaml:"bypass_roles"`
	IDPattern    string   `yaml:"id_pattern"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
}

// Load reads configuration from environment variables, falling back to
// defaults. If STORE_POLICY_FILE is set the file is read first and env vars
// override it.
func Load() (Config, error) {
	cfg := Config{
		APIAddr:      envOr("API_ADDR", ":3000"),
		ServiceName:  envOr("SERVICE_NAME", "pos-api"),
		JWKSEndpoint: envOr("JWKS_ENDPOINT", "http://localhost:8081/.well-known/jwks.json"),
		DatabasePath: envOr("DATABASE_PATH", "data/pos.db"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		MaxBodyBytes: envInt64("MAX_BODY_BYTES", 50<<20),
		RateLimit: RateLimitConfig{
			Rate:  envFloat("RATE_LIMIT_RATE", 100),
			Burst: envInt("RATE_LIMIT_BURST", 20),
		},
		CORS: CORSConfig{
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			MaxAge:         envInt("CORS_MAX_AGE", 3600),
		},
	}

	if path := os.Getenv("STORE_POLICY_FILE"); path != "" {
		policy, err := LoadStorePolicy(path)
		if err != nil {
			return Config{}, err
		}
		cfg.StoreAccess = policy
	}
	cfg.StoreAccess.Field = envOr("STORE_ID_FIELD", cfg.StoreAccess.Field)
	if v, ok := os.LookupEnv("BYPASS_ROLES"); ok {
		cfg.StoreAccess.BypassRoles = splitList(v)
	}

	return cfg, nil
}

// LoadStorePolicy reads a YAML store access policy file.
func LoadStorePolicy(path string) (StoreAccessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StoreAccessConfig{}, fmt.Errorf("reading store policy file: %w", err)
	}
	var policy StoreAccessConfig
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return StoreAccessConfig{}, fmt.Errorf("parsing store policy file %s: %w", path, err)
	}
	policy.PolicyFile = path
	return policy, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return f
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		return splitList(v)
	}
	return fallback
}

// splitList splits a comma-separated value, dropping blanks. It never
// returns nil.
func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
