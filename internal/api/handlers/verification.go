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

// VerificationHandler handles backup verification endpoints.
type VerificationHandler struct {
	orch   *backup.Orchestrator
	logger zerolog.Logger
}

// NewVerificationHandler creates a VerificationHandler.
func NewVerificationHandler(orch *backup.Orchestrator, logger zerolog.Logger) *VerificationHandler {
	return &VerificationHandler{
		orch:   orch,
		logger: logger.With().Str("component", "verification_handler").Logger(),
	}
}

// RegisterRoutes registers verification routes on the given group.
func (h *VerificationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/backups/:id/verify", h.Verify)
	r.GET("/backups/:id/verifications", h.History)
}

// Verify runs integrity checks against a completed backup.
// POST /api/v1/backups/:id/verify
func (h *VerificationHandler) Verify(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup ID"})
		return
	}

	result, err := h.orch.Verify(c.Request.Context(), middleware.UserID(c), backupID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// History returns past verification results for a backup, newest first.
// GET /api/v1/backups/:id/verifications
func (h *VerificationHandler) History(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup ID"})
		return
	}

	results, err := h.orch.VerificationHistory(c.Request.Context(), middleware.UserID(c), backupID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if results == nil {
		results = []*models.VerificationResult{}
	}
	c.JSON(http.StatusOK, gin.H{"verifications": results})
}
