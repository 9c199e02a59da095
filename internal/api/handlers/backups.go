package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/api/middleware"
	"github.com/craftvault/craftvault/internal/backup"
	"github.com/craftvault/craftvault/internal/models"
)

// BackupsHandler handles backup job endpoints.
type BackupsHandler struct {
	orch   *backup.Orchestrator
	logger zerolog.Logger
}

// NewBackupsHandler creates a BackupsHandler.
func NewBackupsHandler(orch *backup.Orchestrator, logger zerolog.Logger) *BackupsHandler {
	return &BackupsHandler{
		orch:   orch,
		logger: logger.With().Str("component", "backups_handler").Logger(),
	}
}

// RegisterRoutes registers backup routes on the given group.
func (h *BackupsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/servers/:server_id/backups", h.Create)
	r.GET("/servers/:server_id/backups", h.List)
	r.GET("/backups/:id", h.Get)
	r.DELETE("/backups/:id", h.Cancel)
	r.GET("/backups/:id/chain", h.Chain)
}

type createBackupRequest struct {
	Kind   models.BackupKind   `json:"kind" binding:"required"`
	Config models.BackupConfig `json:"config"`
}

// Create submits a backup job for the server.
// POST /api/v1/servers/:server_id/backups
func (h *BackupsHandler) Create(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return
	}

	var req createBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.orch.CreateBackup(c.Request.Context(), middleware.UserID(c), serverID, req.Kind, req.Config)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// List returns the server's backup jobs, newest first.
// GET /api/v1/servers/:server_id/backups
func (h *BackupsHandler) List(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	jobs, err := h.orch.ListBackups(c.Request.Context(), middleware.UserID(c), serverID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if jobs == nil {
		jobs = []*models.BackupJob{}
	}
	c.JSON(http.StatusOK, gin.H{"backups": jobs})
}

// Get returns a backup job with its current progress.
// GET /api/v1/backups/:id
func (h *BackupsHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup ID"})
		return
	}

	job, err := h.orch.GetBackupProgress(c.Request.Context(), middleware.UserID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel requests cancellation of a backup job. A pending job cancels
// immediately; an in-progress job cancels at the worker's next checkpoint.
// DELETE /api/v1/backups/:id
func (h *BackupsHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup ID"})
		return
	}

	if err := h.orch.CancelBackup(c.Request.Context(), middleware.UserID(c), jobID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// Chain returns the backup's ancestor chain, full backup first.
// GET /api/v1/backups/:id/chain
func (h *BackupsHandler) Chain(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup ID"})
		return
	}

	chain, err := h.orch.GetChain(c.Request.Context(), middleware.UserID(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain": chain})
}
