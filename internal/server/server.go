// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and
// routes. It decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//
//	config.Config → backend.Open → *backend.Backend
//	Backend + Config → server.New
//
// server.New then builds the TokenService and the handlers on top of the
// backend's services. The backend is owned by the Server from here on and
// closed during shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/checkinn/internal/auth"
	"github.com/sakif/checkinn/internal/backend"
	"github.com/sakif/checkinn/internal/handler"
	"github.com/sakif/checkinn/internal/middleware"
)

// Config holds server configuration.
type Config struct {
	Port      int
	JWTSecret string

	// SecureCookies marks the session cookie Secure. Turn it on whenever the
	// server sits behind HTTPS.
	SecureCookies bool
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the backend (and through it the database or bucket
// client). Start closes it after the HTTP server has drained.
type Server struct {
	router   *chi.Mux
	config   Config
	logger   *slog.Logger
	backend  *backend.Backend
	registry *prometheus.Registry
}

// New creates a new Server with the given config.
//
// WIRING:
//  1. TokenService from the JWT secret
//  2. A private Prometheus registry (process + Go collectors, HTTP metrics)
//  3. Handlers over the backend's services
//  4. Routes
func New(cfg Config, b *backend.Backend, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		backend:  b,
		registry: prometheus.NewRegistry(),
	}

	if err := s.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := s.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}

	if err := s.setupRoutes(tokens); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                 → liveness probe
//	GET    /metrics                 → Prometheus scrape endpoint
//	GET    /auth/apple/login        → start Apple web sign-in      (if configured)
//	POST   /auth/apple/callback     → finish Apple web sign-in     (if configured)
//	POST   /api/auth/signup         → create email account
//	POST   /api/auth/signin         → email sign-in
//	POST   /api/auth/apple          → native Apple credential      (if configured)
//	POST   /api/auth/signout        → clear session cookie
//	GET    /api/me                  → current user                 [auth]
//	PUT    /api/me/display-name     → rename                       [auth]
//	GET    /api/stays[?q=]          → list or search               [auth]
//	POST   /api/stays               → add                          [auth]
//	GET    /api/stays/stats         → summary numbers              [auth]
//	PUT    /api/stays/{id}          → add or replace               [auth]
//	DELETE /api/stays/{id}          → remove                       [auth]
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a unique ID to each request (for tracing)
//  2. RealIP: extracts the real client IP from proxy headers
//  3. Logger: logs each request with timing info
//  4. Metrics: counts requests per route pattern
//  5. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(tokens *auth.TokenService) error {
	metrics, err := middleware.NewMetrics(s.registry)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(metrics.Handler)
	s.router.Use(chimiddleware.Recoverer)

	// === Operational ===
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	// === Handlers ===
	// A nil *AppleProvider must not become a non-nil interface value, or the
	// handler would think Apple web sign-in is configured.
	var apple handler.AppleWebFlow
	if s.backend.Apple != nil {
		apple = s.backend.Apple
	}
	authHandler := handler.NewAuthHandler(s.backend.Auth, tokens, apple, s.logger)
	authHandler.SetSecureCookies(s.config.SecureCookies)
	stayHandler := handler.NewStayHandler(s.backend.Stays, s.logger)

	// === Apple web flow ===
	if apple != nil {
		s.router.Get("/auth/apple/login", authHandler.HandleAppleLogin)
		s.router.Post("/auth/apple/callback", authHandler.HandleAppleCallback)
	}

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", authHandler.HandleSignUp)
		r.Post("/auth/signin", authHandler.HandleSignIn)
		// Native Apple sign-in needs something to check the identity token.
		if s.backend.Auth.VerifiesApple() {
			r.Post("/auth/apple", authHandler.HandleAppleNative)
		}
		r.Post("/auth/signout", authHandler.HandleSignOut)

		// Everything below needs a valid token (header or cookie).
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/me", authHandler.HandleMe)
			r.Put("/me/display-name", authHandler.HandleDisplayName)

			r.Get("/stays", stayHandler.HandleList)
			r.Post("/stays", stayHandler.HandleCreate)
			r.Get("/stays/stats", stayHandler.HandleStats)
			r.Put("/stays/{id}", stayHandler.HandleUpsert)
			r.Delete("/stays/{id}", stayHandler.HandleDelete)
		})
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the backend (flushes the sqlite WAL, releases the file lock)
func (s *Server) Start() error {
	defer func() {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("closing backend", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.Bool("appleWeb", s.backend.Apple != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
