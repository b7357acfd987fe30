// Package api provides the gateway's REST control plane: device
// provisioning, per-user block-list management, and operational stats,
// via a Gin-based HTTP server.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/techno-hippies/heavengate/internal/api/handlers"
	"github.com/techno-hippies/heavengate/internal/api/middleware"
	"github.com/techno-hippies/heavengate/internal/config"
	"github.com/techno-hippies/heavengate/internal/database"
)

// Server is the control-plane HTTP server.
//
// Security note: do not expose the API to untrusted networks without an
// API key configured.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handler    *handlers.Handler
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to cfg.APIListen. db may be nil; the handler
// then answers with 503 for endpoints that require durable storage. Call
// Handler() after New to wire in the live users/rules/telemetry caches
// once the gateway side has constructed them.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger) *Server {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(cfg, db, logger)
	RegisterRoutes(engine, h, cfg)

	httpServer := &http.Server{
		Addr:              cfg.APIListen,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, handler: h, engine: engine, httpServer: httpServer}
}

// Handler returns the control plane's handler, so callers can wire in the
// live caches (SetUsers, SetRules, SetTelemetry) after construction.
func (s *Server) Handler() *handlers.Handler {
	return s.handler
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
