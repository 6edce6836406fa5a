// Package server hosts the HTTP API: routing, CORS, middleware, metrics and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/Brownie44l1/food-ai-api/internal/logging"
	"github.com/Brownie44l1/food-ai-api/internal/respond"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

// Config holds server configuration.
type Config struct {
	Address string
	Port    int

	// Timeouts
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns sensible defaults. WriteTimeout leaves room for a
// slow recipe generation.
func DefaultConfig() *Config {
	return &Config{
		Port:              8000,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      150 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// API is the set of handlers the server routes to.
type API interface {
	Root(w http.ResponseWriter, r *http.Request)
	Health(w http.ResponseWriter, r *http.Request)
	Predict(w http.ResponseWriter, r *http.Request)
}

// Server represents the HTTP server.
type Server struct {
	config     *Config
	api        API
	httpServer *http.Server
	mu         sync.RWMutex
	ready      bool
}

// New creates a server routing to api.
func New(config *Config, api API) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config: config,
		api:    api,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Address, config.Port),
		Handler:           s.Handler(),
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ErrorLog:          logging.NewLogLogger(slog.LevelWarn),
	}

	return s
}

// Handler returns the root handler: routes wrapped in CORS allowing every
// origin, method and header.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.withMiddleware(s.api.Root))
	mux.HandleFunc("POST /predict", s.withMiddleware(s.api.Predict))
	mux.HandleFunc("/predict", s.withMiddleware(methodNotAllowed(http.MethodPost)))

	// System endpoints
	mux.HandleFunc("GET /health", s.api.Health)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func methodNotAllowed(allowed ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		respond.Error(w, r, apperrors.NewWithContext(apperrors.ErrCodeMethodNotAllowed,
			"method not allowed", map[string]any{"method": r.Method}))
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	if !ready {
		respond.Error(w, r, apperrors.New(apperrors.ErrCodeUnavailable, "service is not ready"))
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// SetReady marks the server as ready to serve traffic.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "address", s.httpServer.Addr)
		s.SetReady(true)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down server", "timeout", s.config.ShutdownTimeout.String())
	return s.httpServer.Shutdown(shutdownCtx)
}
