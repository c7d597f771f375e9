package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/engine"
	"github.com/sitewatch/kestrel/internal/rules"
	"github.com/sitewatch/kestrel/internal/templates"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, eng *engine.Engine, filters *rules.Engine, tmpl *templates.Service, version string) *Server {
	handler := NewHandler(repo, cache, eng, filters, tmpl, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Detection ingest
		r.Post("/detections", handler.Ingest)

		// Alert lifecycle and reads
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Post("/alerts/{id}/resolve", handler.ResolveAlert)

		// Statistics
		r.Get("/stats", handler.Stats)

		// Alert type configuration
		r.Get("/alert-types", handler.ListAlertTypes)
		r.Post("/alert-types", handler.CreateAlertType)

		// Checklist templates
		r.Get("/templates", handler.ListTemplates)
		r.Post("/templates", handler.CreateTemplate)

		// Filter rule management
		r.Get("/filter-rules", handler.ListFilterRules)
		r.Post("/filter-rules", handler.CreateFilterRule)
		r.Post("/filter-rules/reload", handler.ReloadFilterRules)

		// Provisioning
		r.Post("/properties", handler.CreateProperty)
		r.Post("/cameras", handler.CreateCamera)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
