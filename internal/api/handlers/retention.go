package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/api/middleware"
	"github.com/craftvault/craftvault/internal/backup"
	"github.com/craftvault/craftvault/internal/models"
)

// RetentionHandler handles retention policy endpoints.
type RetentionHandler struct {
	orch   *backup.Orchestrator
	logger zerolog.Logger
}

// NewRetentionHandler creates a RetentionHandler.
func NewRetentionHandler(orch *backup.Orchestrator, logger zerolog.Logger) *RetentionHandler {
	return &RetentionHandler{
		orch:   orch,
		logger: logger.With().Str("component", "retention_handler").Logger(),
	}
}

// RegisterRoutes registers retention routes on the given group.
func (h *RetentionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/servers/:server_id/retention", h.Apply)
	r.GET("/servers/:server_id/retention/preview", h.Preview)
	r.POST("/servers/:server_id/retention/sweep", h.Sweep)
}

// Apply sets the server's retention policy.
// PUT /api/v1/servers/:server_id/retention
func (h *RetentionHandler) Apply(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return
	}

	var policy models.RetentionPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orch.ApplyPolicy(c.Request.Context(), middleware.UserID(c), serverID, &policy); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// Preview returns the backups the policy would prune, without deleting
// anything.
// GET /api/v1/servers/:server_id/retention/preview
func (h *RetentionHandler) Preview(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return
	}

	ids, err := h.orch.ComputeRetention(c.Request.Context(), middleware.UserID(c), serverID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, gin.H{"prune": ids})
}

// Sweep enforces the server's retention policy now.
// POST /api/v1/servers/:server_id/retention/sweep
func (h *RetentionHandler) Sweep(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return
	}

	pruned, err := h.orch.ApplyRetention(c.Request.Context(), middleware.UserID(c), serverID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pruned": pruned})
}
