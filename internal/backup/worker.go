package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// errCancelRequested is returned by a checkpoint when the job's cancellation
// marker is set. It unwinds the executor without marking the job failed.
var errCancelRequested = errors.New("cancel requested")

// CheckpointFunc is called by executors at safe points. It reports progress
// and returns errCancelRequested when the job should stop.
type CheckpointFunc func(percent int, bytesProcessed int64) error

// Executor performs the actual data movement for a claimed job. Checkpoint
// must be called often enough that progress reports land within the
// heartbeat timeout.
type Executor interface {
	ExecuteBackup(ctx context.Context, job *models.BackupJob, checkpoint CheckpointFunc) (sizeBytes int64, err error)
	ExecuteRecovery(ctx context.Context, job *models.RecoveryJob, checkpoint CheckpointFunc) error
}

// Recorder journals worker checkpoints for post-crash diagnostics.
// Implementations must be cheap; they are called on every persisted
// progress report.
type Recorder interface {
	RecordCheckpoint(jobID string, percent int, bytesProcessed int64)
}

// Notifier receives terminal job outcomes.
type Notifier interface {
	BackupFinished(ctx context.Context, job *models.BackupJob)
	RecoveryFinished(ctx context.Context, job *models.RecoveryJob)
}

// PoolConfig holds tuning for the worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent job executors.
	Workers int
	// PollInterval is how long an idle worker waits before re-checking the
	// queue.
	PollInterval time.Duration
	// MaxRetries bounds re-execution after transient storage errors.
	MaxRetries int
	// RetryBackoff is the base delay between retries, doubled per attempt.
	RetryBackoff time.Duration
}

// DefaultPoolConfig returns a PoolConfig with sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      2,
		PollInterval: 2 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Second,
	}
}

// Pool claims pending jobs and drives them through an Executor. Job state
// always flows through the lifecycle manager; the pool never writes state
// directly.
type Pool struct {
	lifecycle *JobLifecycleManager
	executor  Executor
	config    PoolConfig
	recorder  Recorder
	notifier  Notifier
	logger    zerolog.Logger
}

// NewPool creates a worker pool. recorder and notifier may be nil.
func NewPool(lifecycle *JobLifecycleManager, executor Executor, config PoolConfig, recorder Recorder, notifier Notifier, logger zerolog.Logger) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Pool{
		lifecycle: lifecycle,
		executor:  executor,
		config:    config,
		recorder:  recorder,
		notifier:  notifier,
		logger:    logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	p.logger.Info().Int("workers", p.config.Workers).Msg("worker pool started")

	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := p.logger.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := p.runOne(ctx, logger)
		if err != nil {
			logger.Error().Err(err).Msg("worker iteration failed")
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.config.PollInterval):
		}
	}
}

// runOne claims and executes at most one job, backups before recoveries.
func (p *Pool) runOne(ctx context.Context, logger zerolog.Logger) (bool, error) {
	backup, err := p.lifecycle.ClaimNextBackup(ctx)
	if err != nil {
		return false, fmt.Errorf("claim backup job: %w", err)
	}
	if backup != nil {
		p.runBackup(ctx, logger, backup)
		return true, nil
	}

	recovery, err := p.lifecycle.ClaimNextRecovery(ctx)
	if err != nil {
		return false, fmt.Errorf("claim recovery job: %w", err)
	}
	if recovery != nil {
		p.runRecovery(ctx, logger, recovery)
		return true, nil
	}
	return false, nil
}

func (p *Pool) runBackup(ctx context.Context, logger zerolog.Logger, job *models.BackupJob) {
	logger = logger.With().Str("job_id", job.ID.String()).Str("kind", string(job.Kind)).Logger()
	logger.Info().Msg("executing backup job")

	checkpoint := p.backupCheckpoint(ctx, job)
	sizeBytes, err := p.executeWithRetry(logger, func() (int64, error) {
		return p.executor.ExecuteBackup(ctx, job, checkpoint)
	})

	switch {
	case err == nil:
		if cerr := p.lifecycle.CompleteBackup(ctx, job.ID, sizeBytes); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to complete backup job")
		}
	case errors.Is(err, errCancelRequested):
		if cerr := p.lifecycle.MarkBackupCancelled(ctx, job.ID); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to mark backup job cancelled")
		}
	default:
		if ferr := p.lifecycle.FailBackup(ctx, job.ID, models.ErrorCodeWorkerFailed, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to fail backup job")
		}
	}

	if p.notifier != nil {
		if final, gerr := p.lifecycle.store.GetBackupJob(ctx, job.ID); gerr == nil {
			p.notifier.BackupFinished(ctx, final)
		}
	}
}

func (p *Pool) runRecovery(ctx context.Context, logger zerolog.Logger, job *models.RecoveryJob) {
	logger = logger.With().Str("job_id", job.ID.String()).Str("mode", string(job.Mode)).Logger()
	logger.Info().Msg("executing recovery job")

	checkpoint := p.recoveryCheckpoint(ctx, job)
	_, err := p.executeWithRetry(logger, func() (int64, error) {
		return 0, p.executor.ExecuteRecovery(ctx, job, checkpoint)
	})

	switch {
	case err == nil:
		if cerr := p.lifecycle.CompleteRecovery(ctx, job.ID); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to complete recovery job")
		}
	case errors.Is(err, errCancelRequested):
		if cerr := p.lifecycle.MarkRecoveryCancelled(ctx, job.ID); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to mark recovery job cancelled")
		}
	default:
		if ferr := p.lifecycle.FailRecovery(ctx, job.ID, models.ErrorCodeWorkerFailed, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to fail recovery job")
		}
	}

	if p.notifier != nil {
		if final, gerr := p.lifecycle.store.GetRecoveryJob(ctx, job.ID); gerr == nil {
			p.notifier.RecoveryFinished(ctx, final)
		}
	}
}

// executeWithRetry re-runs fn after transient storage errors with doubling
// backoff. Any other error, including cancellation, stops immediately.
func (p *Pool) executeWithRetry(logger zerolog.Logger, fn func() (int64, error)) (int64, error) {
	backoff := p.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("retrying after transient storage error")
			time.Sleep(backoff)
			backoff *= 2
		}
		n, err := fn()
		if err == nil || !errdefs.IsTransientStorage(err) {
			return n, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("giving up after %d retries: %w", p.config.MaxRetries, lastErr)
}

func (p *Pool) backupCheckpoint(ctx context.Context, job *models.BackupJob) CheckpointFunc {
	return func(percent int, bytesProcessed int64) error {
		cancelled, err := p.lifecycle.BackupCancelRequested(ctx, job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return errCancelRequested
		}
		if err := p.lifecycle.ReportBackupProgress(ctx, job.ID, percent, bytesProcessed); err != nil {
			return err
		}
		if p.recorder != nil {
			p.recorder.RecordCheckpoint(job.ID.String(), percent, bytesProcessed)
		}
		return nil
	}
}

func (p *Pool) recoveryCheckpoint(ctx context.Context, job *models.RecoveryJob) CheckpointFunc {
	return func(percent int, bytesProcessed int64) error {
		cancelled, err := p.lifecycle.RecoveryCancelRequested(ctx, job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return errCancelRequested
		}
		if err := p.lifecycle.ReportRecoveryProgress(ctx, job.ID, percent, bytesProcessed); err != nil {
			return err
		}
		if p.recorder != nil {
			p.recorder.RecordCheckpoint(job.ID.String(), percent, bytesProcessed)
		}
		return nil
	}
}
