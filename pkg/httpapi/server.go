// Package httpapi serves the engine over HTTP: a JSON API under /api, a
// websocket stream of lifecycle events, Prometheus metrics and the optional
// static dashboard.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/logging"
)

// Version is reported by /api/health.
var Version = "dev"

// Options configures a Server.
type Options struct {
	Logger *slog.Logger

	// DashboardDir is served under /dashboard when set.
	DashboardDir string
}

// Server is the mnemo HTTP front-end.
type Server struct {
	engine *engine.Engine
	router *gin.Engine
	logger *slog.Logger
}

// New builds the router for eng.
func New(eng *engine.Engine, opts Options) *Server {
	router := gin.New()
	s := &Server{
		engine: eng,
		router: router,
		logger: logging.OrDefault(opts.Logger).With("component", "http"),
	}
	router.Use(gin.Recovery(), s.requestLogger())

	if reg := eng.Registry(); reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	if opts.DashboardDir != "" {
		router.Static("/dashboard", opts.DashboardDir)
	}

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/events", s.handleEvents)

		api.POST("/observations", s.handleSaveObservation)
		api.GET("/observations", s.handleListObservations)
		api.GET("/observations/:id", s.handleGetObservation)
		api.PATCH("/observations/:id", s.handleReviseObservation)
		api.DELETE("/observations/:id", s.handleDeleteObservation)
		api.GET("/observations/:id/lineage", s.handleLineage)
		api.GET("/observations/:id/diff", s.handleRevisionDiff)
		api.GET("/index", s.handleIndex)
		api.GET("/search", s.handleSearch)

		api.GET("/export", s.handleExport)
		api.POST("/import", s.handleImport)

		api.POST("/sessions", s.handleStartSession)
		api.POST("/sessions/:id/end", s.handleEndSession)
		api.POST("/summaries", s.handleSaveSummary)
		api.GET("/summaries", s.handleListSummaries)

		api.GET("/config", s.handleGetConfig)
		api.PATCH("/config", s.handlePatchConfig)
		api.POST("/config/modes/:name", s.handleApplyMode)
		api.GET("/config/audit", s.handleConfigAudit)
		api.POST("/config/audit/:id/rollback", s.handleRollback)

		api.GET("/maintenance/history", s.handleMaintenanceHistory)
		api.POST("/maintenance/:action", s.handleRunMaintenance)

		api.POST("/entities", s.handleUpsertEntity)
		api.GET("/entities", s.handleFindEntities)
		api.POST("/relations", s.handleCreateRelation)
		api.GET("/entities/:id/relations", s.handleEntityRelations)
		api.GET("/entities/:id/traverse", s.handleTraverse)
		api.GET("/entities/:id/observations", s.handleEntityObservations)
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.engine.Config()
	ok(c, http.StatusOK, gin.H{
		"status":     "ok",
		"version":    Version,
		"embeddings": cfg.Embeddings.Enabled,
	}, nil)
}
