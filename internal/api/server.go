// Package api provides the HTTP API server and handlers for the tithebook dashboard.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/batch"
	"github.com/tithebookapp/tithebook-server/internal/order"
	"github.com/tithebookapp/tithebook-server/internal/roster"
	"github.com/tithebookapp/tithebook-server/internal/search"
	"github.com/tithebookapp/tithebook-server/internal/store"
	"github.com/tithebookapp/tithebook-server/internal/store/sqlite"
	"github.com/tithebookapp/tithebook-server/internal/syncqueue"
)

// Services groups the business logic consumed by the API server.
type Services struct {
	Order     *order.Service
	Queue     *syncqueue.Queue
	Processor *batch.Processor
	Search    *search.Index
	Rosters   *roster.Source
	History   *sqlite.Store
	Amounts   *amounts.Validator
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store    *store.Store
	services Services
	router   *chi.Mux
	api      huma.API
	logger   *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st *store.Store, services Services, logger *slog.Logger) *Server {
	s := &Server{
		store:    st,
		services: services,
		router:   chi.NewRouter(),
		logger:   logger,
	}

	s.setupMiddleware()
	s.api = humachi.New(s.router, huma.DefaultConfig("Tithebook API", "1.0.0"))
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// The dashboard runs as a local web app on another port.
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Typed operations registered through Huma.
	s.registerHealthRoutes()
	s.registerIntegrityRoutes()

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/assemblies/{assembly}", func(r chi.Router) {
			r.Put("/roster", s.handleUploadRoster)
			r.Get("/members/search", s.handleSearchMembers)

			r.Post("/batches", s.handleProcessBatch)

			r.Route("/order", func(r chi.Router) {
				r.Get("/", s.handleGetOrder)
				r.Put("/", s.handleApplyOrder)
				r.Get("/history", s.handleGetOrderHistory)
				r.Post("/restore/{snapshotID}", s.handleRestoreSnapshot)
			})

			r.Post("/corrections", s.handleLearnCorrection)
			r.Post("/contributions", s.handleRecordContributions)
			r.Get("/contributions/total", s.handlePeriodTotal)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.handleSyncStatus)
			r.Post("/trigger", s.handleSyncTrigger)
			r.Post("/online", s.handleSetOnline)
		})
	})
}
