// Package api provides the HTTP chassis for the callable surface: a chi
// router usable behind both standard HTTP (local mode) and the Lambda proxy
// integration, with the response envelope, auth middleware, and route
// mounting shared by every handler.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relaypoint/internal/config"
	"relaypoint/internal/types"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
// Set below the Lambda hard timeout so handlers settle before the platform
// kills the process.
const defaultRequestTimeout = 29 * time.Second

// Server wires the router, middleware, and handler registrars for the
// callable API.
type Server struct {
	Config *config.Config
	Logger types.Logger
	Auth   *Auth

	// Registrars are populated by the entry point before MountRoutes to
	// avoid an import cycle between this package and the handler packages.
	PublicRegistrars []func(chi.Router)
	AuthRegistrars   []func(chi.Router)
	AdminRegistrars  []func(chi.Router)

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately so tests can
// customize registration.
func NewServer(cfg *config.Config, auth *Auth, logger types.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		Auth:   auth,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe (local)
// or the Lambda proxy adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain and the three route
// groups: public (webhook, intake, auth helpers), authenticated, and admin.
func (s *Server) MountRoutes() {
	s.router.Use(Recoverer(s.Logger))
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		for _, register := range s.PublicRegistrars {
			register(r)
		}

		r.Group(func(ar chi.Router) {
			ar.Use(s.Auth.RequireAuth)
			for _, register := range s.AuthRegistrars {
				register(ar)
			}
		})

		r.Group(func(adm chi.Router) {
			adm.Use(s.Auth.RequireAuth)
			adm.Use(s.Auth.RequireAdmin)
			for _, register := range s.AdminRegistrars {
				register(adm)
			}
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}
