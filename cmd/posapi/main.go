package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posapi/internal/api/adapter/inmem"
	"posapi/internal/api/adapter/jwks"
	"posapi/internal/api/adapter/sqlite"
	"posapi/internal/api/handler"
	"posapi/internal/api/middleware"
	"posapi/internal/api/routes"
	"posapi/internal/expense"
	"posapi/internal/platform/config"
	"posapi/internal/platform/server"
	"posapi/internal/platform/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	// Logging
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), cfg.ServiceName)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	// Store access policy
	policy, err := middleware.NewStorePolicy(
		cfg.StoreAccess.Field,
		cfg.StoreAccess.BypassRoles,
		cfg.StoreAccess.IDPattern,
		cfg.StoreAccess.MaxBodyBytes,
	)
	if err != nil {
		slog.Error("invalid store access policy", "error", err, "policy_file", cfg.StoreAccess.PolicyFile)
		os.Exit(1)
	}

	// Persistence
	store, err := sqlite.Open(cfg.DatabasePath, metrics)
	if err != nil {
		slog.Error("store initialization failed", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}

	// JWKS client
	jwksClient := jwks.NewClient(cfg.JWKSEndpoint, 5*time.Minute, jwks.WithMetrics(metrics))

	// Rate limiter
	rl := inmem.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	go rl.RunCleanup(ctx, 5*time.Minute)

	router, err := routes.NewRouter(routes.Deps{
		ServiceName:    cfg.ServiceName,
		Logger:         logger,
		Metrics:        metrics,
		JWKS:           jwksClient,
		Limiter:        rl,
		Gate:           middleware.NewGate(policy, metrics),
		Expenses:       handler.NewExpenseHandler(expense.NewService(store)),
		Store:          store,
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins, MaxAge: cfg.CORS.MaxAge},
		MaxBodyBytes:   cfg.MaxBodyBytes,
		MetricsHandler: telemetry.MetricsHandler(),
	})
	if err != nil {
		slog.Error("router initialization failed", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg.APIAddr, router,
		server.WithShutdownHook("store", func(context.Context) error { return store.Close() }),
		server.WithShutdownHook("telemetry", shutdown),
	)

	slog.Info("pos api starting",
		"addr", cfg.APIAddr,
		"jwks_endpoint", cfg.JWKSEndpoint,
		"database_path", cfg.DatabasePath,
		"store_field", policy.Field,
		"bypass_roles", policy.BypassRoles,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}
