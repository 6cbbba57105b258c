// Package server exposes the upload, job and artifact API over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinrel/clinrel-go/internal/blob"
	"github.com/clinrel/clinrel-go/internal/metrics"
	"github.com/clinrel/clinrel-go/internal/models"
)

// JobStore is the job surface the API needs. *db.Client satisfies it.
type JobStore interface {
	CreateJob(ctx context.Context, ownerID, uploadKey, originalName string) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit int) ([]models.Job, error)
	RequeueJob(ctx context.Context, id string) (*models.Job, error)
}

// Server serves the HTTP API.
type Server struct {
	jobs      JobStore
	blobs     blob.Store
	collector *metrics.Collector
	logger    *slog.Logger
	router    *gin.Engine
	addr      string
}

// New creates a server listening on addr.
func New(addr string, jobs JobStore, blobs blob.Store, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		jobs:      jobs,
		blobs:     blobs,
		collector: collector,
		logger:    logger,
		router:    router,
		addr:      addr,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestLogger())

	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/uploads", s.handleUpload)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleGetJob)
	api.POST("/jobs/:id/requeue", s.handleRequeue)
	api.GET("/jobs/:id/output", s.handleDownloadOutput)
	api.GET("/jobs/:id/snapshot", s.handleDownloadSnapshot)
	api.GET("/jobs/:id/ws", s.handleJobProgress)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
