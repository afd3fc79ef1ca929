// Package server exposes the REST surface: index lifecycle, document
// ingestion and maintenance, and the four search modes, all wrapped in a
// uniform response envelope.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"lodestone/internal/config"
	"lodestone/internal/document"
	"lodestone/internal/embed"
	"lodestone/internal/index"
	"lodestone/internal/search"
	"lodestone/internal/telemetry"
	"lodestone/pkg/version"
)

// Server is the HTTP transport over the service layer.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	registry  *index.Registry
	documents *document.Service
	search    *search.Service
	embedders *embed.Factory

	http *http.Server
}

// New wires the server. metrics may be nil in tests.
func New(cfg *config.Config, registry *index.Registry, documents *document.Service, searchSvc *search.Service, embedders *embed.Factory, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger.With("component", "http"),
		metrics:   metrics,
		registry:  registry,
		documents: documents,
		search:    searchSvc,
		embedders: embedders,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /api/v1/indexes", s.handleCreateIndex)
	mux.HandleFunc("GET /api/v1/indexes", s.handleListIndexes)
	mux.HandleFunc("GET /api/v1/indexes/{name}", s.handleGetIndex)
	mux.HandleFunc("DELETE /api/v1/indexes/{name}", s.handleDeleteIndex)
	mux.HandleFunc("POST /api/v1/indexes/{name}/rebuild", s.handleRebuild)

	mux.HandleFunc("POST /api/v1/indexes/{name}/documents", s.handleAddDocuments)
	mux.HandleFunc("POST /api/v1/indexes/{name}/documents/file", s.handleUploadFile)
	mux.HandleFunc("GET /api/v1/indexes/{name}/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/v1/indexes/{name}/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("PUT /api/v1/indexes/{name}/documents/{id}", s.handleUpdateDocument)
	mux.HandleFunc("PATCH /api/v1/indexes/{name}/documents/{id}/metadata", s.handleUpdateMetadata)
	mux.HandleFunc("DELETE /api/v1/indexes/{name}/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/v1/indexes/{name}/documents/bulk-delete", s.handleBulkDelete)

	mux.HandleFunc("POST /api/v1/indexes/{name}/search", s.handleSemanticSearch)
	mux.HandleFunc("POST /api/v1/indexes/{name}/search/grep", s.handleGrepSearch)
	mux.HandleFunc("POST /api/v1/indexes/{name}/search/hybrid", s.handleHybridSearch)
	mux.HandleFunc("POST /api/v1/indexes/{name}/search/batch", s.handleBatchSearch)

	return s.withMiddleware(mux)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth reports liveness, build info, and the embedder the default
// configuration resolves to.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	model := ""
	if embedder, err := s.embedders.Resolve(r.Context(), s.cfg.Embedding.Mode, s.cfg.Embedding.Model); err == nil {
		model = embedder.ModelName()
	}
	s.respond(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         version.Version,
		"embedding_model": model,
	})
}
