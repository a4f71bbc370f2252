package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EvinKlif/radio/internal/broadcast"
	"github.com/EvinKlif/radio/internal/source"
	"github.com/EvinKlif/radio/pkg/response"
)

// HealthHandler reports process liveness and the broadcast state.
type HealthHandler struct {
	sourceMgr   *source.Manager
	coordinator *broadcast.Coordinator
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(src *source.Manager, coord *broadcast.Coordinator) *HealthHandler {
	return &HealthHandler{sourceMgr: src, coordinator: coord}
}

// RegisterRoutes registers health and metrics routes.
func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Health returns liveness plus a source state snapshot.
func (h *HealthHandler) Health(c *gin.Context) {
	snap := h.sourceMgr.Snapshot()
	response.Success(c, gin.H{
		"status":   "ok",
		"source":   snap,
		"sessions": h.coordinator.Count(),
	})
}
