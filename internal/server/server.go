package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
)

// Server exposes the front-end surface over HTTP: enqueue, poll, cancel,
// retry, and manifest pre-materialization.
type Server struct {
	cfg          common.ServerConfig
	repos        map[models.JobType]interfaces.JobRepository
	artifacts    interfaces.ArtifactStore
	materializer *pipeline.Materializer
	httpServer   *http.Server
	logger       arbor.ILogger
}

// New wires the server to the per-type job repositories.
func New(cfg common.ServerConfig, repos map[models.JobType]interfaces.JobRepository, artifacts interfaces.ArtifactStore, materializer *pipeline.Materializer, logger arbor.ILogger) *Server {
	s := &Server{
		cfg:          cfg,
		repos:        repos,
		artifacts:    artifacts,
		materializer: materializer,
		logger:       logger,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// routes configures all HTTP routes.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("POST /api/jobs", s.handleEnqueue)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetryJob)

	mux.HandleFunc("POST /api/manifests", s.handleMaterialize)
	mux.HandleFunc("GET /api/manifests/{key}", s.handleGetManifest)

	return mux
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the route handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
