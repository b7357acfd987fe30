package api

import (
	"github.com/gin-gonic/gin"
	"github.com/techno-hippies/heavengate/internal/api/handlers"
	"github.com/techno-hippies/heavengate/internal/api/middleware"
	"github.com/techno-hippies/heavengate/internal/config"
)

// RegisterRoutes wires the control-plane endpoints: device provisioning,
// per-user block lists, and operational stats. Health is unauthenticated so
// it can back a load balancer probe; everything else sits behind the
// optional API key.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	api := r.Group("/api/v1")

	api.GET("/health", h.Health)

	protected := api.Group("")
	if cfg != nil && cfg.APIKey != "" {
		protected.Use(middleware.RequireAPIKey(cfg.APIKey))
	}

	protected.GET("/stats", h.Stats)

	protected.POST("/devices", h.CreateDevice)
	protected.DELETE("/devices/:id", h.DeleteDevice)
	protected.GET("/devices/:id/status", h.DeviceStatus)

	protected.GET("/users/:id/rules", h.GetRules)
	protected.PUT("/users/:id/rules", h.PutRules)
}
