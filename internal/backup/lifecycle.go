package backup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/clock"
	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/metrics"
	"github.com/craftvault/craftvault/internal/models"
)

// JobStore defines the persistence operations the lifecycle manager needs.
// CreateBackupJob must enforce the per-server single-active-job invariant
// atomically, returning errdefs.ErrConflict when another pending or
// in-progress backup job exists for the server.
type JobStore interface {
	CreateBackupJob(ctx context.Context, job *models.BackupJob) error
	GetBackupJob(ctx context.Context, id uuid.UUID) (*models.BackupJob, error)
	UpdateBackupJob(ctx context.Context, job *models.BackupJob) error

	CreateRecoveryJob(ctx context.Context, job *models.RecoveryJob) error
	GetRecoveryJob(ctx context.Context, id uuid.UUID) (*models.RecoveryJob, error)
	UpdateRecoveryJob(ctx context.Context, job *models.RecoveryJob) error

	// ClaimNextPendingBackup atomically transitions the oldest pending
	// backup job to in-progress and returns it, or nil when none is pending.
	ClaimNextPendingBackup(ctx context.Context, now time.Time) (*models.BackupJob, error)

	// ClaimNextPendingRecovery does the same for recovery jobs.
	ClaimNextPendingRecovery(ctx context.Context, now time.Time) (*models.RecoveryJob, error)

	// ListStalledBackupJobs returns in-progress backup jobs whose last
	// progress report is older than cutoff.
	ListStalledBackupJobs(ctx context.Context, cutoff time.Time) ([]*models.BackupJob, error)

	// ListStalledRecoveryJobs does the same for recovery jobs.
	ListStalledRecoveryJobs(ctx context.Context, cutoff time.Time) ([]*models.RecoveryJob, error)
}

// LifecycleConfig holds tuning for the lifecycle manager.
type LifecycleConfig struct {
	// HeartbeatTimeout is how long an in-progress job may go without a
	// progress report before the liveness sweep fails it.
	HeartbeatTimeout time.Duration

	// ProgressFlushInterval and ProgressFlushPercent coalesce progress
	// writes: a report is persisted only when this much time or percent has
	// passed since the last persisted report.
	ProgressFlushInterval time.Duration
	ProgressFlushPercent  int
}

// DefaultLifecycleConfig returns a LifecycleConfig with sensible defaults.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		HeartbeatTimeout:      2 * time.Minute,
		ProgressFlushInterval: time.Second,
		ProgressFlushPercent:  1,
	}
}

// progressMark tracks the last persisted progress report for coalescing.
type progressMark struct {
	percent int
	at      time.Time
}

// JobLifecycleManager owns BackupJob and RecoveryJob state. It is the sole
// writer of job state; transitions happen here and nowhere else.
type JobLifecycleManager struct {
	store   JobStore
	chains  *ChainManager
	config  LifecycleConfig
	clock   clock.Clock
	metrics *metrics.Collector
	logger  zerolog.Logger

	mu    sync.Mutex
	marks map[uuid.UUID]progressMark
}

// NewJobLifecycleManager creates a JobLifecycleManager. The metrics collector
// may be nil.
func NewJobLifecycleManager(store JobStore, chains *ChainManager, config LifecycleConfig, clk clock.Clock, collector *metrics.Collector, logger zerolog.Logger) *JobLifecycleManager {
	return &JobLifecycleManager{
		store:   store,
		chains:  chains,
		config:  config,
		clock:   clk,
		metrics: collector,
		logger:  logger.With().Str("component", "job_lifecycle").Logger(),
		marks:   make(map[uuid.UUID]progressMark),
	}
}

// SubmitBackup validates and persists a pending backup job. The store's
// conditional insert enforces at most one active backup job per server;
// violation surfaces as errdefs.ErrConflict.
func (m *JobLifecycleManager) SubmitBackup(ctx context.Context, job *models.BackupJob) error {
	if err := job.Config.Validate(); err != nil {
		return errdefs.Conflictf("%v", err)
	}
	if err := m.chains.ValidateNewLink(ctx, job.ServerID, job.Kind, job.ParentID); err != nil {
		return err
	}
	if err := m.store.CreateBackupJob(ctx, job); err != nil {
		return err
	}

	m.metrics.JobSubmitted(metrics.KindBackup)
	m.logger.Info().
		Str("job_id", job.ID.String()).
		Str("server_id", job.ServerID.String()).
		Str("kind", string(job.Kind)).
		Msg("backup job submitted")
	return nil
}

// SubmitRecovery validates and persists a pending recovery job. The source
// backup must be completed and its chain restorable.
func (m *JobLifecycleManager) SubmitRecovery(ctx context.Context, job *models.RecoveryJob) error {
	source, err := m.store.GetBackupJob(ctx, job.BackupID)
	if err != nil {
		return err
	}
	if source.State != models.JobStateCompleted {
		return errdefs.InvalidStatef("backup %s is %s, only completed backups can be restored", source.ID, source.State)
	}
	if _, err := m.chains.GetChain(ctx, source.ID); err != nil {
		return err
	}
	if job.Mode == models.RestoreModePartial && len(job.SelectedPaths) == 0 {
		return errdefs.Conflictf("partial restore requires selected paths")
	}
	if err := m.store.CreateRecoveryJob(ctx, job); err != nil {
		return err
	}

	m.metrics.JobSubmitted(metrics.KindRecovery)
	m.logger.Info().
		Str("job_id", job.ID.String()).
		Str("backup_id", job.BackupID.String()).
		Str("mode", string(job.Mode)).
		Msg("recovery job submitted")
	return nil
}

// CancelBackup cancels a backup job on behalf of requesterID. Pending jobs
// flip to cancelled immediately; in-progress jobs get a cancellation marker
// the worker observes at its next checkpoint.
func (m *JobLifecycleManager) CancelBackup(ctx context.Context, jobID, requesterID uuid.UUID) (bool, error) {
	job, err := m.store.GetBackupJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.OwnerID != requesterID {
		return false, errdefs.Forbiddenf("user %s does not own backup job %s", requesterID, jobID)
	}
	switch job.State {
	case models.JobStatePending:
		job.Cancel(m.clock.Now())
		if err := m.store.UpdateBackupJob(ctx, job); err != nil {
			return false, err
		}
		m.metrics.JobFinished(metrics.KindBackup, string(models.JobStateCancelled))
		m.logger.Info().Str("job_id", jobID.String()).Msg("pending backup job cancelled")
		return true, nil
	case models.JobStateInProgress:
		job.CancelRequested = true
		if err := m.store.UpdateBackupJob(ctx, job); err != nil {
			return false, err
		}
		m.logger.Info().Str("job_id", jobID.String()).Msg("cancellation requested for running backup job")
		return true, nil
	default:
		return false, errdefs.InvalidStatef("backup job %s is already %s", jobID, job.State)
	}
}

// CancelRecovery mirrors CancelBackup for recovery jobs.
func (m *JobLifecycleManager) CancelRecovery(ctx context.Context, jobID, requesterID uuid.UUID) (bool, error) {
	job, err := m.store.GetRecoveryJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.OwnerID != requesterID {
		return false, errdefs.Forbiddenf("user %s does not own recovery job %s", requesterID, jobID)
	}
	switch job.State {
	case models.JobStatePending:
		job.Cancel(m.clock.Now())
		if err := m.store.UpdateRecoveryJob(ctx, job); err != nil {
			return false, err
		}
		m.metrics.JobFinished(metrics.KindRecovery, string(models.JobStateCancelled))
		m.logger.Info().Str("job_id", jobID.String()).Msg("pending recovery job cancelled")
		return true, nil
	case models.JobStateInProgress:
		job.CancelRequested = true
		if err := m.store.UpdateRecoveryJob(ctx, job); err != nil {
			return false, err
		}
		m.logger.Info().Str("job_id", jobID.String()).Msg("cancellation requested for running recovery job")
		return true, nil
	default:
		return false, errdefs.InvalidStatef("recovery job %s is already %s", jobID, job.State)
	}
}

// ReportBackupProgress records a worker checkpoint. Writes are coalesced to
// at most one per ProgressFlushInterval or ProgressFlushPercent change.
func (m *JobLifecycleManager) ReportBackupProgress(ctx context.Context, jobID uuid.UUID, percent int, bytesProcessed int64) error {
	now := m.clock.Now()
	if !m.shouldFlush(jobID, percent, now) {
		return nil
	}
	job, err := m.store.GetBackupJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != models.JobStateInProgress {
		return errdefs.InvalidStatef("backup job %s is %s, cannot report progress", jobID, job.State)
	}
	job.Progress(percent, bytesProcessed, now)
	if err := m.store.UpdateBackupJob(ctx, job); err != nil {
		return err
	}
	m.markFlushed(jobID, job.Percent, now)
	return nil
}

// ReportRecoveryProgress mirrors ReportBackupProgress for recovery jobs.
func (m *JobLifecycleManager) ReportRecoveryProgress(ctx context.Context, jobID uuid.UUID, percent int, bytesProcessed int64) error {
	now := m.clock.Now()
	if !m.shouldFlush(jobID, percent, now) {
		return nil
	}
	job, err := m.store.GetRecoveryJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != models.JobStateInProgress {
		return errdefs.InvalidStatef("recovery job %s is %s, cannot report progress", jobID, job.State)
	}
	job.Progress(percent, bytesProcessed, now)
	if err := m.store.UpdateRecoveryJob(ctx, job); err != nil {
		return err
	}
	m.markFlushed(jobID, job.Percent, now)
	return nil
}

func (m *JobLifecycleManager) shouldFlush(jobID uuid.UUID, percent int, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mark, ok := m.marks[jobID]
	if !ok {
		return true
	}
	if percent-mark.percent >= m.config.ProgressFlushPercent {
		return true
	}
	return now.Sub(mark.at) >= m.config.ProgressFlushInterval
}

func (m *JobLifecycleManager) markFlushed(jobID uuid.UUID, percent int, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[jobID] = progressMark{percent: percent, at: now}
}

func (m *JobLifecycleManager) forgetMark(jobID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marks, jobID)
}

// CompleteBackup terminates a backup job successfully. Calling it on an
// already-terminal job is a no-op that logs a warning, tolerating
// at-least-once worker delivery.
func (m *JobLifecycleManager) CompleteBackup(ctx context.Context, jobID uuid.UUID, sizeBytes int64) error {
	job, err := m.store.GetBackupJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		m.logger.Warn().
			Str("job_id", jobID.String()).
			Str("state", string(job.State)).
			Msg("complete called on terminal backup job, ignoring")
		return nil
	}
	if job.State != models.JobStateInProgress {
		return errdefs.InvalidStatef("backup job %s is %s, cannot complete", jobID, job.State)
	}
	job.Complete(sizeBytes, m.clock.Now())
	if err := m.store.UpdateBackupJob(ctx, job); err != nil {
		return err
	}
	m.forgetMark(jobID)
	m.metrics.JobFinished(metrics.KindBackup, string(models.JobStateCompleted))
	m.metrics.BytesBackedUp(sizeBytes)
	m.logger.Info().
		Str("job_id", jobID.String()).
		Int64("size_bytes", sizeBytes).
		Dur("duration", job.Duration()).
		Msg("backup job completed")
	return nil
}

// FailBackup terminates a backup job with an error. Idempotent on terminal
// jobs. Partial progress is preserved for diagnostics.
func (m *JobLifecycleManager) FailBackup(ctx context.Context, jobID uuid.UUID, code, errMsg string) error {
	job, err := m.store.GetBackupJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		m.logger.Warn().
			Str("job_id", jobID.String()).
			Str("state", string(job.State)).
			Msg("fail called on terminal backup job, ignoring")
		return nil
	}
	job.Fail(code, errMsg, m.clock.Now())
	if err := m.store.UpdateBackupJob(ctx, job); err != nil {
		return err
	}
	m.forgetMark(jobID)
	m.metrics.JobFinished(metrics.KindBackup, string(models.JobStateFailed))
	m.logger.Error().
		Str("job_id", jobID.String()).
		Str("error_code", code).
		Str("error", errMsg).
		Msg("backup job failed")
	return nil
}

// MarkBackupCancelled is called by the worker when it observes the
// cancellation marker at a checkpoint.
func (m *JobLifecycleManager) MarkBackupCancelled(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.store.GetBackupJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}
	job.Cancel(m.clock.Now())
	if err := m.store.UpdateBackupJob(ctx, job); err != nil {
		return err
	}
	m.forgetMark(jobID)
	m.metrics.JobFinished(metrics.KindBackup, string(models.JobStateCancelled))
	m.logger.Info().Str("job_id", jobID.String()).Msg("backup job cancelled by worker checkpoint")
	return nil
}

// CompleteRecovery terminates a recovery job successfully. Idempotent on
// terminal jobs.
func (m *JobLifecycleManager) CompleteRecovery(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.store.GetRecoveryJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		m.logger.Warn().
			Str("job_id", jobID.String()).
			Str("state", string(job.State)).
			Msg("complete called on terminal recovery job, ignoring")
		return nil
	}
	if job.State != models.JobStateInProgress {
		return errdefs.InvalidStatef("recovery job %s is %s, cannot complete", jobID, job.State)
	}
	job.Complete(m.clock.Now())
	if err := m.store.UpdateRecoveryJob(ctx, job); err != nil {
		return err
	}
	m.forgetMark(jobID)
	m.metrics.JobFinished(metrics.KindRecovery, string(models.JobStateCompleted))
	m.logger.Info().Str("job_id", jobID.String()).Msg("recovery job completed")
	return nil
}

// FailRecovery terminates a recovery job with an error. Idempotent on
// terminal jobs.
func (m *JobLifecycleManager) FailRecovery(ctx context.Context, jobID uuid.UUID, code, errMsg string) error {
	job, err := m.store.GetRecoveryJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		m.logger.Warn().
			Str("job_id", jobID.String()).
			Str("state", string(job.State)).
			Msg("fail called on terminal recovery job, ignoring")
		return nil
	}
	job.Fail(code, errMsg, m.clock.Now())
	if err := m.store.UpdateRecoveryJob(ctx, job); err != nil {
		return err
	}
	m.forgetMark(jobID)
	m.metrics.JobFinished(metrics.KindRecovery, string(models.JobStateFailed))
	m.logger.Error().
		Str("job_id", jobID.String()).
		Str("error_code", code).
		Str("error", errMsg).
		Msg("recovery job failed")
	return nil
}

// MarkRecoveryCancelled mirrors MarkBackupCancelled for recovery jobs.
func (m *JobLifecycleManager) MarkRecoveryCancelled(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.store.GetRecoveryJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}
	job.Cancel(m.clock.Now())
	if err := m.store.UpdateRecoveryJob(ctx, job); err != nil {
		return err
	}
	m.forgetMark(jobID)
	m.metrics.JobFinished(metrics.KindRecovery, string(models.JobStateCancelled))
	m.logger.Info().Str("job_id", jobID.String()).Msg("recovery job cancelled by worker checkpoint")
	return nil
}

// BackupCancelRequested reports whether cancellation has been requested for
// the given backup job. Workers poll this at checkpoints.
func (m *JobLifecycleManager) BackupCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := m.store.GetBackupJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// RecoveryCancelRequested mirrors BackupCancelRequested.
func (m *JobLifecycleManager) RecoveryCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := m.store.GetRecoveryJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// ClaimNextBackup hands the oldest pending backup job to a worker.
func (m *JobLifecycleManager) ClaimNextBackup(ctx context.Context) (*models.BackupJob, error) {
	return m.store.ClaimNextPendingBackup(ctx, m.clock.Now())
}

// ClaimNextRecovery hands the oldest pending recovery job to a worker.
func (m *JobLifecycleManager) ClaimNextRecovery(ctx context.Context) (*models.RecoveryJob, error) {
	return m.store.ClaimNextPendingRecovery(ctx, m.clock.Now())
}

// SweepStalled fails every in-progress job whose worker has stopped
// reporting progress for longer than the heartbeat timeout. The distinct
// error code lets operators tell a crashed worker from an explicit failure.
func (m *JobLifecycleManager) SweepStalled(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.config.HeartbeatTimeout)
	failed := 0

	backups, err := m.store.ListStalledBackupJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, job := range backups {
		if err := m.FailBackup(ctx, job.ID, models.ErrorCodeHeartbeatLost, models.HeartbeatLostMessage); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("liveness sweep failed to fail backup job")
			continue
		}
		failed++
	}

	recoveries, err := m.store.ListStalledRecoveryJobs(ctx, cutoff)
	if err != nil {
		return failed, err
	}
	for _, job := range recoveries {
		if err := m.FailRecovery(ctx, job.ID, models.ErrorCodeHeartbeatLost, models.HeartbeatLostMessage); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("liveness sweep failed to fail recovery job")
			continue
		}
		failed++
	}

	if failed > 0 {
		m.metrics.SweepFailedJobs(failed)
		m.logger.Warn().Int("failed", failed).Msg("liveness sweep failed stalled jobs")
	}
	return failed, nil
}

// RunLivenessSweep runs SweepStalled periodically until ctx is cancelled.
func (m *JobLifecycleManager) RunLivenessSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("liveness sweeper started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("liveness sweeper stopped")
			return
		case <-ticker.C:
			if _, err := m.SweepStalled(ctx); err != nil {
				m.logger.Error().Err(err).Msg("liveness sweep failed")
			}
		}
	}
}
