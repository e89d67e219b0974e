package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Hook runs after the HTTP server has stopped accepting requests.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Server wraps an http.Server with graceful shutdown.
type Server struct {
	srv   *http.Server
	hooks []Hook
}

// Option configures a Server.
type Option func(*Server)

// WithShutdownHook registers fn to run during shutdown, after in-flight
// requests have drained. Hooks run in registration order.
func WithShutdownHook(name string, fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.hooks = append(s.hooks, Hook{Name: name, Fn: fn})
	}
}

// New creates a Server that listens on addr and routes to handler.
func New(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully and runs the shutdown hooks. Hook errors are logged and joined
// into the returned error.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Join(err, s.runHooks(context.Background()))
		}
	case <-ctx.Done():
	}

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	return errors.Join(err, s.runHooks(shutdownCtx))
}

func (s *Server) runHooks(ctx context.Context) error {
	var errs []error
	for _, h := range s.hooks {
		if err := h.Fn(ctx); err != nil {
			slog.Error("shutdown hook failed", "hook", h.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
