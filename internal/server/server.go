// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package server exposes the agent over HTTP: a streaming chat endpoint,
// a tool listing and a health check.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sgreports-dev/sgreports/internal/agent"
	"github.com/sgreports-dev/sgreports/internal/provider"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// ChatRunner runs one interaction. It must close em before returning.
type ChatRunner interface {
	Run(ctx context.Context, req agent.Request, em agent.Emitter) (*agent.Outcome, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderLister exposes registered LLM providers for the health check.
type ProviderLister interface {
	Names() []string
	Get(name string) (provider.Provider, error)
}

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr  string
	CORSOrigins []string
	ReadTimeout time.Duration
	// WriteTimeout bounds the whole response. Zero leaves streaming
	// responses unbounded.
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Identity resolves callers. Nil serves every request anonymously.
	Identity   IdentityResolver
	CookieName string
	RateLimit  RateLimitConfig

	Chat        ChatRunner
	Tools       []provider.ToolDefinition
	Database    Pinger
	Providers   ProviderLister
	EventBuffer int
	Version     string
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router  chi.Router
	api     huma.API
	cfg     Config
	limiter *rateLimiter

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server with chi router, huma API, auth, CORS and routes.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, sgerr.New(sgerr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 20 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	done := make(chan struct{})
	limiter, err := newRateLimiter(cfg.RateLimit, done)
	if err != nil {
		return nil, err
	}

	if cfg.Identity == nil {
		slog.Warn("no auth tokens configured; serving all requests as anonymous")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(clientIPMiddleware)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(NewAuthMiddleware(cfg.Identity, cfg.CookieName))

	humaConfig := huma.DefaultConfig("SG Reports Agent", cfg.Version)
	humaConfig.Info.Description = "Research assistant for UN Secretary-General reports"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:  r,
		api:     api,
		cfg:     cfg,
		limiter: limiter,
		done:    done,
	}
	srv.registerRoutes()
	srv.registerChatRoute()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops background maintenance. It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown. In-flight streams get ShutdownTimeout
// to finish.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return sgerr.Wrapf(err, sgerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return sgerr.Wrap(err, sgerr.CodeServerStartFailure, "serving http")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return sgerr.Wrap(err, sgerr.CodeServerShutdownFailure, "shutting down")
	}

	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
