// Package api exposes the orchestrator over HTTP: the chat surface backed
// by the dispatcher, synchronous per-stage detect endpoints backed by the
// engine, and the history and pipeline stores.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/dispatch"
	"github.com/veracitylab/factgate/pkg/engine"
	"github.com/veracitylab/factgate/pkg/store"
	"github.com/veracitylab/factgate/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	dispatcher *dispatch.Dispatcher
	orch       *engine.Orchestrator
	db         *store.DB
	sessions   *store.SessionStore
	tasks      *store.TaskStore
	history    *store.HistoryStore
	cfg        *config.Config
	logger     *slog.Logger

	http *http.Server
}

// NewServer builds the server and its routes.
func NewServer(dispatcher *dispatch.Dispatcher, orch *engine.Orchestrator, db *store.DB,
	sessions *store.SessionStore, tasks *store.TaskStore, history *store.HistoryStore,
	cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		orch:       orch,
		db:         db,
		sessions:   sessions,
		tasks:      tasks,
		history:    history,
		cfg:        cfg,
		logger:     logger,
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)

	r.POST("/chat", s.chat)
	r.POST("/chat/stream", s.chatStream)
	r.POST("/chat/sessions", s.createSession)
	r.GET("/chat/sessions", s.listSessions)
	r.GET("/chat/sessions/:id", s.getSession)
	r.DELETE("/chat/sessions/:id", s.deleteSession)
	r.POST("/chat/sessions/:id/messages/stream", s.sessionMessageStream)

	r.POST("/detect", s.detect)
	r.POST("/detect/claims", s.detectClaims)
	r.POST("/detect/evidence", s.detectEvidence)
	r.POST("/detect/evidence/align", s.detectAlign)
	r.POST("/detect/report", s.detectReport)
	r.POST("/detect/url", s.detectURL)

	r.POST("/simulate", s.simulate)
	r.POST("/simulate/stream", s.simulateStream)

	r.GET("/history", s.listHistory)
	r.GET("/history/:id", s.getHistory)
	r.POST("/history/:id/feedback", s.attachFeedback)
	r.POST("/history/:id/simulation", s.attachSimulation)

	r.POST("/pipeline/save-phase", s.savePhase)
	r.GET("/pipeline/load-latest", s.loadLatest)

	return r
}

// Start runs the HTTP server; it blocks until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.SQL().PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full(), "db_path": s.db.Path()})
}
