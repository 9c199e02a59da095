package backup

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/clock"
	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// AuthorizationProvider answers whether a user may act on a server. The
// orchestrator checks it before every user-initiated operation.
type AuthorizationProvider interface {
	Owns(ctx context.Context, userID, serverID uuid.UUID) (bool, error)
}

// OrchestratorStore adds the few persistence operations the orchestrator
// needs beyond what the engines own.
type OrchestratorStore interface {
	GetBackupJob(ctx context.Context, id uuid.UUID) (*models.BackupJob, error)
	GetRecoveryJob(ctx context.Context, id uuid.UUID) (*models.RecoveryJob, error)
	ListBackupJobsByServer(ctx context.Context, serverID uuid.UUID, limit int) ([]*models.BackupJob, error)
	CreateSchedule(ctx context.Context, schedule *models.BackupSchedule) error
	ListSchedulesByServer(ctx context.Context, serverID uuid.UUID) ([]*models.BackupSchedule, error)
	SetRetentionPolicy(ctx context.Context, serverID uuid.UUID, policy *models.RetentionPolicy) error
	ListVerificationResults(ctx context.Context, backupID uuid.UUID) ([]*models.VerificationResult, error)
}

// Orchestrator is the user-facing entry point. It authorizes every request
// and delegates to the engines; it holds no job state of its own.
type Orchestrator struct {
	store        OrchestratorStore
	auth         AuthorizationProvider
	lifecycle    *JobLifecycleManager
	chains       *ChainManager
	retention    *RetentionEngine
	verification *VerificationEngine
	clock        clock.Clock
	logger       zerolog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store OrchestratorStore, auth AuthorizationProvider, lifecycle *JobLifecycleManager, chains *ChainManager, retention *RetentionEngine, verification *VerificationEngine, clk clock.Clock, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:        store,
		auth:         auth,
		lifecycle:    lifecycle,
		chains:       chains,
		retention:    retention,
		verification: verification,
		clock:        clk,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

func (o *Orchestrator) authorize(ctx context.Context, userID, serverID uuid.UUID) error {
	owns, err := o.auth.Owns(ctx, userID, serverID)
	if err != nil {
		return err
	}
	if !owns {
		return errdefs.Forbiddenf("user %s does not own server %s", userID, serverID)
	}
	return nil
}

// CreateBackup submits a backup job for the server. The desired kind is
// resolved against the server's chain: a first backup or a chain at its
// depth cap falls back to a full backup.
func (o *Orchestrator) CreateBackup(ctx context.Context, userID, serverID uuid.UUID, desired models.BackupKind, cfg models.BackupConfig) (*models.BackupJob, error) {
	if err := o.authorize(ctx, userID, serverID); err != nil {
		return nil, err
	}

	kind, parentID, err := o.chains.ResolveLink(ctx, serverID, desired)
	if err != nil {
		return nil, err
	}

	job := models.NewBackupJob(serverID, userID, kind, parentID, cfg, o.clock.Now())
	if err := o.lifecycle.SubmitBackup(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ListBackups returns the server's backup jobs, newest first.
func (o *Orchestrator) ListBackups(ctx context.Context, userID, serverID uuid.UUID, limit int) ([]*models.BackupJob, error) {
	if err := o.authorize(ctx, userID, serverID); err != nil {
		return nil, err
	}
	return o.store.ListBackupJobsByServer(ctx, serverID, limit)
}

// GetBackupProgress returns the job for progress inspection.
func (o *Orchestrator) GetBackupProgress(ctx context.Context, userID, jobID uuid.UUID) (*models.BackupJob, error) {
	job, err := o.store.GetBackupJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, userID, job.ServerID); err != nil {
		return nil, err
	}
	return job, nil
}

// CancelBackup requests cancellation of a backup job.
func (o *Orchestrator) CancelBackup(ctx context.Context, userID, jobID uuid.UUID) error {
	_, err := o.lifecycle.CancelBackup(ctx, jobID, userID)
	return err
}

// RestoreFromBackup submits a recovery job restoring the given backup.
func (o *Orchestrator) RestoreFromBackup(ctx context.Context, userID, backupID uuid.UUID, mode models.RestoreMode, selectedPaths []string, targetServerID *uuid.UUID) (*models.RecoveryJob, error) {
	source, err := o.store.GetBackupJob(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, userID, source.ServerID); err != nil {
		return nil, err
	}
	if targetServerID != nil {
		if err := o.authorize(ctx, userID, *targetServerID); err != nil {
			return nil, err
		}
	}

	job := models.NewRecoveryJob(backupID, source.ServerID, userID, mode, o.clock.Now())
	job.SelectedPaths = selectedPaths
	job.TargetServerID = targetServerID
	if err := o.lifecycle.SubmitRecovery(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetRecoveryProgress returns the recovery job for progress inspection.
func (o *Orchestrator) GetRecoveryProgress(ctx context.Context, userID, jobID uuid.UUID) (*models.RecoveryJob, error) {
	job, err := o.store.GetRecoveryJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, userID, job.ServerID); err != nil {
		return nil, err
	}
	return job, nil
}

// CancelRecovery requests cancellation of a recovery job.
func (o *Orchestrator) CancelRecovery(ctx context.Context, userID, jobID uuid.UUID) error {
	_, err := o.lifecycle.CancelRecovery(ctx, jobID, userID)
	return err
}

// CreateSchedule validates and persists a recurring backup schedule.
func (o *Orchestrator) CreateSchedule(ctx context.Context, userID, serverID uuid.UUID, cronExpr string, kind models.BackupKind, cfg models.BackupConfig, retention models.RetentionPolicy) (*models.BackupSchedule, error) {
	if err := o.authorize(ctx, userID, serverID); err != nil {
		return nil, err
	}

	schedule, err := models.NewBackupSchedule(serverID, userID, cronExpr, kind, cfg, retention, o.clock.Now())
	if err != nil {
		return nil, errdefs.Conflictf("%v", err)
	}
	if err := o.store.CreateSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("schedule_id", schedule.ID.String()).
		Str("server_id", serverID.String()).
		Str("cron", cronExpr).
		Msg("schedule created")
	return schedule, nil
}

// ListSchedules returns the server's backup schedules.
func (o *Orchestrator) ListSchedules(ctx context.Context, userID, serverID uuid.UUID) ([]*models.BackupSchedule, error) {
	if err := o.authorize(ctx, userID, serverID); err != nil {
		return nil, err
	}
	return o.store.ListSchedulesByServer(ctx, serverID)
}

// ApplyPolicy sets the server's retention policy.
func (o *Orchestrator) ApplyPolicy(ctx context.Context, userID, serverID uuid.UUID, policy *models.RetentionPolicy) error {
	if err := o.authorize(ctx, userID, serverID); err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return errdefs.Conflictf("%v", err)
	}
	return o.store.SetRetentionPolicy(ctx, serverID, policy)
}

// ComputeRetention returns the backups the server's policy would prune,
// without deleting anything.
func (o *Orchestrator) ComputeRetention(ctx context.Context, userID, serverID uuid.UUID) ([]uuid.UUID, error) {
	if err := o.authorize(ctx, userID, serverID); err != nil {
		return nil, err
	}
	return o.retention.ComputeBackupsToPrune(ctx, serverID)
}

// ApplyRetention evaluates and enforces the server's retention policy now.
func (o *Orchestrator) ApplyRetention(ctx context.Context, userID, serverID uuid.UUID) (int, error) {
	if err := o.authorize(ctx, userID, serverID); err != nil {
		return 0, err
	}
	return o.retention.SweepServer(ctx, serverID)
}

// Verify runs integrity checks against a completed backup.
func (o *Orchestrator) Verify(ctx context.Context, userID, backupID uuid.UUID) (*models.VerificationResult, error) {
	job, err := o.store.GetBackupJob(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, userID, job.ServerID); err != nil {
		return nil, err
	}
	return o.verification.Verify(ctx, backupID)
}

// VerificationHistory returns past verification results for a backup.
func (o *Orchestrator) VerificationHistory(ctx context.Context, userID, backupID uuid.UUID) ([]*models.VerificationResult, error) {
	job, err := o.store.GetBackupJob(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, userID, job.ServerID); err != nil {
		return nil, err
	}
	return o.store.ListVerificationResults(ctx, backupID)
}

// GetChain returns the ancestor chain of a backup, full backup first.
func (o *Orchestrator) GetChain(ctx context.Context, userID, backupID uuid.UUID) ([]uuid.UUID, error) {
	job, err := o.store.GetBackupJob(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, userID, job.ServerID); err != nil {
		return nil, err
	}
	return o.chains.GetChain(ctx, backupID)
}
