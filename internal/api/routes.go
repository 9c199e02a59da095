// Package api provides the HTTP API for the CraftVault server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/api/handlers"
	"github.com/craftvault/craftvault/internal/api/middleware"
	"github.com/craftvault/craftvault/internal/backup"
	"github.com/craftvault/craftvault/internal/metrics"
)

// Config holds configuration for the API router.
type Config struct {
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with development defaults.
func DefaultConfig() Config {
	return Config{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a Router exposing the orchestration API. database may be
// nil when running against the in-memory store.
func NewRouter(
	cfg Config,
	orch *backup.Orchestrator,
	database handlers.DatabaseHealthChecker,
	collector *metrics.Collector,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	healthHandler := handlers.NewHealthHandler(database, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if collector != nil {
		registry.MustRegister(collector)
	}
	r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	r.Engine.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    cfg.Version,
			"commit":     cfg.Commit,
			"build_date": cfg.BuildDate,
		})
	})

	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.Auth(logger))

	handlers.NewBackupsHandler(orch, logger).RegisterRoutes(apiV1)
	handlers.NewRecoveriesHandler(orch, logger).RegisterRoutes(apiV1)
	handlers.NewSchedulesHandler(orch, logger).RegisterRoutes(apiV1)
	handlers.NewRetentionHandler(orch, logger).RegisterRoutes(apiV1)
	handlers.NewVerificationHandler(orch, logger).RegisterRoutes(apiV1)

	return r, nil
}
