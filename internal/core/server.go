// Package core provides the API chassis for the Zenvoice platform.
// It creates a chi router and enforces cross-cutting concerns -- recovery,
// request correlation, logging, and error handling -- before requests reach
// domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zenvoice/internal/config"
)

// defaultRedactedHeaders lists header names whose values are masked in
// request logs to prevent accidental leakage of credentials.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Paystack-Signature",
}

// RouteRegistrar mounts a group of domain routes onto the v1 router.
// Populated by the application entry point to avoid import cycles between
// core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the HTTP chassis dependencies, allowing injection
// during testing and distinct configuration for different environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// V1Registrars are invoked under /v1 behind the authenticated chain.
	V1Registrars []RouteRegistrar
	// PublicRegistrars are invoked under /v1 without tenant auth
	// (gateway-facing webhook).
	PublicRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. It performs a fail-fast check on critical configuration.
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

// MountRoutes defines the top-level routing hierarchy: global middleware,
// the versioned API group, and the health check.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Route("/v1", func(r chi.Router) {
		// Gateway-facing routes: no tenant identity.
		for _, registrar := range s.PublicRegistrars {
			registrar(r)
		}

		// Tenant-facing routes behind the identity middleware.
		r.Group(func(r chi.Router) {
			r.Use(TenantMiddleware)
			for _, registrar := range s.V1Registrars {
				registrar(r)
			}
		})
	})

	s.router.Get("/health", s.HandleHealth)
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// HandleHealth is a minimal liveness endpoint.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{
		"status":  "ok",
		"service": s.Config.Service,
	}})
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
