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

// SchedulesHandler handles backup schedule endpoints.
type SchedulesHandler struct {
	orch   *backup.Orchestrator
	logger zerolog.Logger
}

// NewSchedulesHandler creates a SchedulesHandler.
func NewSchedulesHandler(orch *backup.Orchestrator, logger zerolog.Logger) *SchedulesHandler {
	return &SchedulesHandler{
		orch:   orch,
		logger: logger.With().Str("component", "schedules_handler").Logger(),
	}
}

// RegisterRoutes registers schedule routes on the given group.
func (h *SchedulesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/servers/:server_id/schedules", h.Create)
	r.GET("/servers/:server_id/schedules", h.List)
}

type createScheduleRequest struct {
	CronExpr  string                 `json:"cron_expr" binding:"required"`
	Kind      models.BackupKind      `json:"kind" binding:"required"`
	Config    models.BackupConfig    `json:"config"`
	Retention models.RetentionPolicy `json:"retention"`
}

// Create registers a recurring backup schedule.
// POST /api/v1/servers/:server_id/schedules
func (h *SchedulesHandler) Create(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return
	}

	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schedule, err := h.orch.CreateSchedule(c.Request.Context(), middleware.UserID(c),
		serverID, req.CronExpr, req.Kind, req.Config, req.Retention)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}

// List returns the server's backup schedules.
// GET /api/v1/servers/:server_id/schedules
func (h *SchedulesHandler) List(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("server_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return
	}

	schedules, err := h.orch.ListSchedules(c.Request.Context(), middleware.UserID(c), serverID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if schedules == nil {
		schedules = []*models.BackupSchedule{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}
