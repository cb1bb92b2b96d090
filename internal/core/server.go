// Package core provides the API chassis for the recovery service. It builds
// a chi router that serves both standard HTTP (local dev) and AWS Lambda
// Proxy Integration, and applies the cross-cutting middleware (panic
// recovery, request IDs, logging, security headers, CORS, rate limits)
// before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"recoverly/internal/config"
)

// RouteRegistrar mounts a group of handlers on a router.
type RouteRegistrar func(r chi.Router)

// Server holds the router and the dependencies shared by every request.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are run by GET /health.
	HealthProbes []HealthProbe

	// RateLimitStore enables per-key request limits when set.
	RateLimitStore RateLimitStore

	// RouteRegistrars mount at the root (provider webhooks).
	// V1RouteRegistrars mount under /v1.
	RouteRegistrars   []RouteRegistrar
	V1RouteRegistrars []RouteRegistrar

	// Closers are released on Shutdown, in order.
	Closers []func()

	router *chi.Mux
}

// NewServer validates the required dependencies and prepares an empty router.
// Callers append registrars and then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router for http.ListenAndServe or the Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources registered in Closers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, c := range s.Closers {
		c()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
