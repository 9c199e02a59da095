// Package main is the entrypoint for the CraftVault server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/api"
	"github.com/craftvault/craftvault/internal/backup"
	"github.com/craftvault/craftvault/internal/backup/backends"
	"github.com/craftvault/craftvault/internal/clock"
	"github.com/craftvault/craftvault/internal/config"
	"github.com/craftvault/craftvault/internal/db"
	"github.com/craftvault/craftvault/internal/journal"
	"github.com/craftvault/craftvault/internal/metrics"
	"github.com/craftvault/craftvault/internal/notifications"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("starting CraftVault server")

	cfg := config.LoadServerConfig()

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to run database migrations")
		return 1
	}

	backend, err := backends.ParseBackend(backends.BackendType(cfg.StorageBackend), []byte(cfg.StorageConfig))
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse storage backend config")
		return 1
	}
	if err := backend.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid storage backend config")
		return 1
	}
	if s3, ok := backend.(*backends.S3Backend); ok {
		if err := s3.Connect(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to connect to s3 backend")
			return 1
		}
	}

	collector := metrics.NewCollector()
	clk := clock.Real{}

	chains := backup.NewChainManager(database, cfg.MaxChainDepth, logger)

	lifecycleConfig := backup.DefaultLifecycleConfig()
	lifecycleConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
	lifecycle := backup.NewJobLifecycleManager(database, chains, lifecycleConfig, clk, collector, logger)

	retention := backup.NewRetentionEngine(database, backend, logger)
	verification := backup.NewVerificationEngine(database, backend, chains, clk, collector, logger)
	orchestrator := backup.NewOrchestrator(database, database, lifecycle, chains, retention, verification, clk, logger)
	scheduler := backup.NewScheduler(database, lifecycle, chains, clk, collector, logger)

	archiver := backup.NewFileArchiver(cfg.DataRoot, database, backend, chains, logger)

	var recorder backup.Recorder
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to open checkpoint journal")
			return 1
		}
		defer j.Close()
		recorder = j
	}

	var notifier backup.Notifier
	if cfg.WebhookURL != "" {
		notifier = notifications.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, logger)
	}

	poolConfig := backup.DefaultPoolConfig()
	poolConfig.Workers = cfg.Workers
	pool := backup.NewPool(lifecycle, archiver, poolConfig, recorder, notifier, logger)

	router, err := api.NewRouter(api.Config{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}, orchestrator, database, collector, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	go pool.Run(ctx)
	go lifecycle.RunLivenessSweep(ctx, cfg.SweepInterval)
	go scheduler.Run(ctx, cfg.SchedulerInterval)
	go retention.Run(ctx, cfg.RetentionInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return 1
	}

	logger.Info().Msg("server stopped gracefully")
	return 0
}
