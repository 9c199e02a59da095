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

// RecoveriesHandler handles recovery job endpoints.
type RecoveriesHandler struct {
	orch   *backup.Orchestrator
	logger zerolog.Logger
}

// NewRecoveriesHandler creates a RecoveriesHandler.
func NewRecoveriesHandler(orch *backup.Orchestrator, logger zerolog.Logger) *RecoveriesHandler {
	return &RecoveriesHandler{
		orch:   orch,
		logger: logger.With().Str("component", "recoveries_handler").Logger(),
	}
}

// RegisterRoutes registers recovery routes on the given group.
func (h *RecoveriesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/backups/:id/restore", h.Create)
	r.GET("/recoveries/:id", h.Get)
	r.DELETE("/recoveries/:id", h.Cancel)
}

type createRecoveryRequest struct {
	Mode           models.RestoreMode `json:"mode" binding:"required"`
	SelectedPaths  []string           `json:"selected_paths,omitempty"`
	TargetServerID *uuid.UUID         `json:"target_server_id,omitempty"`
}

// Create submits a recovery job restoring the given backup.
// POST /api/v1/backups/:id/restore
func (h *RecoveriesHandler) Create(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup ID"})
		return
	}

	var req createRecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.orch.RestoreFromBackup(c.Request.Context(), middleware.UserID(c),
		backupID, req.Mode, req.SelectedPaths, req.TargetServerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// Get returns a recovery job with its current progress.
// GET /api/v1/recoveries/:id
func (h *RecoveriesHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recovery ID"})
		return
	}

	job, err := h.orch.GetRecoveryProgress(c.Request.Context(), middleware.UserID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel requests cancellation of a recovery job.
// DELETE /api/v1/recoveries/:id
func (h *RecoveriesHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recovery ID"})
		return
	}

	if err := h.orch.CancelRecovery(c.Request.Context(), middleware.UserID(c), jobID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}
