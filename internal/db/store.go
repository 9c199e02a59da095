package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// Row is the subset of pgx row behavior the scan helpers need.
type Row interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// RegisterServer records a server and its owner. Server rows anchor the
// foreign keys on jobs, schedules, and policies.
func (db *DB) RegisterServer(ctx context.Context, serverID, ownerID uuid.UUID, name string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO servers (id, owner_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET owner_id = $2, name = $3
	`, serverID, ownerID, name)
	if err != nil {
		return fmt.Errorf("register server: %w", err)
	}
	return nil
}

// Owns reports whether userID owns serverID.
func (db *DB) Owns(ctx context.Context, userID, serverID uuid.UUID) (bool, error) {
	var ownerID uuid.UUID
	err := db.Pool.QueryRow(ctx, `
		SELECT owner_id FROM servers WHERE id = $1
	`, serverID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errdefs.NotFoundf("server %s not found", serverID)
	}
	if err != nil {
		return false, fmt.Errorf("get server owner: %w", err)
	}
	return ownerID == userID, nil
}

const backupJobColumns = `
	id, server_id, owner_id, kind, parent_id, state, config,
	progress_percent, bytes_processed, size_bytes,
	error_code, error_message, cancel_requested,
	created_at, started_at, finished_at, last_progress_at`

func scanBackupJob(row Row) (*models.BackupJob, error) {
	var job models.BackupJob
	var kindStr, stateStr string
	var configBytes []byte
	err := row.Scan(
		&job.ID, &job.ServerID, &job.OwnerID, &kindStr, &job.ParentID, &stateStr, &configBytes,
		&job.Percent, &job.BytesProcessed, &job.SizeBytes,
		&job.ErrorCode, &job.ErrorMessage, &job.CancelRequested,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.LastProgressAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = models.BackupKind(kindStr)
	job.State = models.JobState(stateStr)
	if err := json.Unmarshal(configBytes, &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshal backup config: %w", err)
	}
	return &job, nil
}

// CreateBackupJob inserts a pending backup job. A partial unique index on
// (server_id) over non-terminal states enforces the single-active rule, so a
// concurrent duplicate surfaces here as a conflict.
func (db *DB) CreateBackupJob(ctx context.Context, job *models.BackupJob) error {
	configBytes, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal backup config: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO backup_jobs (
			id, server_id, owner_id, kind, parent_id, state, config,
			progress_percent, bytes_processed, size_bytes,
			error_code, error_message, cancel_requested,
			created_at, started_at, finished_at, last_progress_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, job.ID, job.ServerID, job.OwnerID, string(job.Kind), job.ParentID, string(job.State), configBytes,
		job.Percent, job.BytesProcessed, job.SizeBytes,
		job.ErrorCode, job.ErrorMessage, job.CancelRequested,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.LastProgressAt)
	if isUniqueViolation(err) {
		return errdefs.Conflictf("server %s already has an active backup job", job.ServerID)
	}
	if err != nil {
		return fmt.Errorf("create backup job: %w", err)
	}
	return nil
}

// GetBackupJob returns a backup job by ID.
func (db *DB) GetBackupJob(ctx context.Context, id uuid.UUID) (*models.BackupJob, error) {
	job, err := scanBackupJob(db.Pool.QueryRow(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("backup job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup job: %w", err)
	}
	return job, nil
}

// UpdateBackupJob persists the mutable fields of a backup job.
func (db *DB) UpdateBackupJob(ctx context.Context, job *models.BackupJob) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE backup_jobs
		SET state = $2, progress_percent = $3, bytes_processed = $4, size_bytes = $5,
		    error_code = $6, error_message = $7, cancel_requested = $8,
		    started_at = $9, finished_at = $10, last_progress_at = $11
		WHERE id = $1
	`, job.ID, string(job.State), job.Percent, job.BytesProcessed, job.SizeBytes,
		job.ErrorCode, job.ErrorMessage, job.CancelRequested,
		job.StartedAt, job.CompletedAt, job.LastProgressAt)
	if err != nil {
		return fmt.Errorf("update backup job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("backup job %s not found", job.ID)
	}
	return nil
}

// DeleteBackupJob removes a backup's metadata record.
func (db *DB) DeleteBackupJob(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM backup_jobs WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete backup job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("backup job %s not found", id)
	}
	return nil
}

// ClaimNextPendingBackup atomically transitions the oldest pending backup job
// to in-progress and returns it, or nil when the queue is empty. SKIP LOCKED
// keeps concurrent workers from contending over the same row.
func (db *DB) ClaimNextPendingBackup(ctx context.Context, now time.Time) (*models.BackupJob, error) {
	job, err := scanBackupJob(db.Pool.QueryRow(ctx, `
		UPDATE backup_jobs
		SET state = 'in_progress', started_at = $1, last_progress_at = $1
		WHERE id = (
			SELECT id FROM backup_jobs
			WHERE state = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+backupJobColumns,
		now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending backup job: %w", err)
	}
	return job, nil
}

// ListStalledBackupJobs returns in-progress backup jobs whose last progress
// report is older than cutoff.
func (db *DB) ListStalledBackupJobs(ctx context.Context, cutoff time.Time) ([]*models.BackupJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE state = 'in_progress' AND last_progress_at < $1
		ORDER BY last_progress_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stalled backup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BackupJob
	for rows.Next() {
		job, err := scanBackupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// LatestCompletedBackup returns the most recent completed backup for a server.
func (db *DB) LatestCompletedBackup(ctx context.Context, serverID uuid.UUID) (*models.BackupJob, error) {
	job, err := scanBackupJob(db.Pool.QueryRow(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE server_id = $1 AND state = 'completed'
		ORDER BY finished_at DESC
		LIMIT 1
	`, serverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("server %s has no completed backups", serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed backup: %w", err)
	}
	return job, nil
}

// LatestCompletedFullBackup returns the most recent completed full backup for
// a server.
func (db *DB) LatestCompletedFullBackup(ctx context.Context, serverID uuid.UUID) (*models.BackupJob, error) {
	job, err := scanBackupJob(db.Pool.QueryRow(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE server_id = $1 AND state = 'completed' AND kind = 'full'
		ORDER BY finished_at DESC
		LIMIT 1
	`, serverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("server %s has no completed full backups", serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed full backup: %w", err)
	}
	return job, nil
}

// ListCompletedBackupsByServer returns all completed backups for a server.
func (db *DB) ListCompletedBackupsByServer(ctx context.Context, serverID uuid.UUID) ([]*models.BackupJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE server_id = $1 AND state = 'completed'
		ORDER BY finished_at
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list completed backups: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BackupJob
	for rows.Next() {
		job, err := scanBackupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListBackupJobsByServer returns all backup jobs for a server, newest first.
func (db *DB) ListBackupJobsByServer(ctx context.Context, serverID uuid.UUID, limit int) ([]*models.BackupJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE server_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("list backup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BackupJob
	for rows.Next() {
		job, err := scanBackupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const recoveryJobColumns = `
	id, backup_id, server_id, owner_id, mode, selected_paths, target_server_id, state,
	progress_percent, bytes_processed,
	error_code, error_message, cancel_requested,
	created_at, started_at, finished_at, last_progress_at`

func scanRecoveryJob(row Row) (*models.RecoveryJob, error) {
	var job models.RecoveryJob
	var modeStr, stateStr string
	var pathsBytes []byte
	err := row.Scan(
		&job.ID, &job.BackupID, &job.ServerID, &job.OwnerID, &modeStr, &pathsBytes, &job.TargetServerID, &stateStr,
		&job.Percent, &job.BytesProcessed,
		&job.ErrorCode, &job.ErrorMessage, &job.CancelRequested,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.LastProgressAt,
	)
	if err != nil {
		return nil, err
	}
	job.Mode = models.RestoreMode(modeStr)
	job.State = models.JobState(stateStr)
	if err := json.Unmarshal(pathsBytes, &job.SelectedPaths); err != nil {
		return nil, fmt.Errorf("unmarshal selected paths: %w", err)
	}
	return &job, nil
}

// CreateRecoveryJob inserts a pending recovery job.
func (db *DB) CreateRecoveryJob(ctx context.Context, job *models.RecoveryJob) error {
	paths := job.SelectedPaths
	if paths == nil {
		paths = []string{}
	}
	pathsBytes, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("marshal selected paths: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO recovery_jobs (
			id, backup_id, server_id, owner_id, mode, selected_paths, target_server_id, state,
			progress_percent, bytes_processed,
			error_code, error_message, cancel_requested,
			created_at, started_at, finished_at, last_progress_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, job.ID, job.BackupID, job.ServerID, job.OwnerID, string(job.Mode), pathsBytes, job.TargetServerID, string(job.State),
		job.Percent, job.BytesProcessed,
		job.ErrorCode, job.ErrorMessage, job.CancelRequested,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.LastProgressAt)
	if err != nil {
		return fmt.Errorf("create recovery job: %w", err)
	}
	return nil
}

// GetRecoveryJob returns a recovery job by ID.
func (db *DB) GetRecoveryJob(ctx context.Context, id uuid.UUID) (*models.RecoveryJob, error) {
	job, err := scanRecoveryJob(db.Pool.QueryRow(ctx, `
		SELECT `+recoveryJobColumns+`
		FROM recovery_jobs
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("recovery job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get recovery job: %w", err)
	}
	return job, nil
}

// UpdateRecoveryJob persists the mutable fields of a recovery job.
func (db *DB) UpdateRecoveryJob(ctx context.Context, job *models.RecoveryJob) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE recovery_jobs
		SET state = $2, progress_percent = $3, bytes_processed = $4,
		    error_code = $5, error_message = $6, cancel_requested = $7,
		    started_at = $8, finished_at = $9, last_progress_at = $10
		WHERE id = $1
	`, job.ID, string(job.State), job.Percent, job.BytesProcessed,
		job.ErrorCode, job.ErrorMessage, job.CancelRequested,
		job.StartedAt, job.CompletedAt, job.LastProgressAt)
	if err != nil {
		return fmt.Errorf("update recovery job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("recovery job %s not found", job.ID)
	}
	return nil
}

// ClaimNextPendingRecovery atomically transitions the oldest pending recovery
// job to in-progress and returns it, or nil when the queue is empty.
func (db *DB) ClaimNextPendingRecovery(ctx context.Context, now time.Time) (*models.RecoveryJob, error) {
	job, err := scanRecoveryJob(db.Pool.QueryRow(ctx, `
		UPDATE recovery_jobs
		SET state = 'in_progress', started_at = $1, last_progress_at = $1
		WHERE id = (
			SELECT id FROM recovery_jobs
			WHERE state = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+recoveryJobColumns,
		now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending recovery job: %w", err)
	}
	return job, nil
}

// ListStalledRecoveryJobs returns in-progress recovery jobs whose last
// progress report is older than cutoff.
func (db *DB) ListStalledRecoveryJobs(ctx context.Context, cutoff time.Time) ([]*models.RecoveryJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recoveryJobColumns+`
		FROM recovery_jobs
		WHERE state = 'in_progress' AND last_progress_at < $1
		ORDER BY last_progress_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stalled recovery jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.RecoveryJob
	for rows.Next() {
		job, err := scanRecoveryJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recovery job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const scheduleColumns = `
	id, server_id, owner_id, cron_expr, kind, config, retention, enabled,
	next_run_at, last_run_at, last_outcome, last_error, created_at`

func scanSchedule(row Row) (*models.BackupSchedule, error) {
	var s models.BackupSchedule
	var kindStr, outcomeStr string
	var configBytes, retentionBytes []byte
	err := row.Scan(
		&s.ID, &s.ServerID, &s.OwnerID, &s.CronExpr, &kindStr, &configBytes, &retentionBytes, &s.Enabled,
		&s.NextRunAt, &s.LastRunAt, &outcomeStr, &s.LastError, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Kind = models.BackupKind(kindStr)
	s.LastOutcome = models.ScheduleOutcome(outcomeStr)
	if err := json.Unmarshal(configBytes, &s.DefaultConfig); err != nil {
		return nil, fmt.Errorf("unmarshal schedule config: %w", err)
	}
	if err := json.Unmarshal(retentionBytes, &s.Retention); err != nil {
		return nil, fmt.Errorf("unmarshal schedule retention: %w", err)
	}
	return &s, nil
}

// CreateSchedule inserts a backup schedule.
func (db *DB) CreateSchedule(ctx context.Context, schedule *models.BackupSchedule) error {
	configBytes, err := json.Marshal(schedule.DefaultConfig)
	if err != nil {
		return fmt.Errorf("marshal schedule config: %w", err)
	}
	retentionBytes, err := json.Marshal(schedule.Retention)
	if err != nil {
		return fmt.Errorf("marshal schedule retention: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO backup_schedules (
			id, server_id, owner_id, cron_expr, kind, config, retention, enabled,
			next_run_at, last_run_at, last_outcome, last_error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, schedule.ID, schedule.ServerID, schedule.OwnerID, schedule.CronExpr, string(schedule.Kind),
		configBytes, retentionBytes, schedule.Enabled,
		schedule.NextRunAt, schedule.LastRunAt, string(schedule.LastOutcome), schedule.LastError, schedule.CreatedAt)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// GetSchedule returns a schedule by ID.
func (db *DB) GetSchedule(ctx context.Context, id uuid.UUID) (*models.BackupSchedule, error) {
	s, err := scanSchedule(db.Pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM backup_schedules
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("schedule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

// UpdateSchedule persists the mutable fields of a schedule.
func (db *DB) UpdateSchedule(ctx context.Context, schedule *models.BackupSchedule) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE backup_schedules
		SET cron_expr = $2, enabled = $3, next_run_at = $4, last_run_at = $5,
		    last_outcome = $6, last_error = $7, updated_at = NOW()
		WHERE id = $1
	`, schedule.ID, schedule.CronExpr, schedule.Enabled, schedule.NextRunAt, schedule.LastRunAt,
		string(schedule.LastOutcome), schedule.LastError)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("schedule %s not found", schedule.ID)
	}
	return nil
}

// ListDueSchedules returns enabled schedules whose next run is at or before
// now.
func (db *DB) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.BackupSchedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM backup_schedules
		WHERE enabled = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.BackupSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ListSchedulesByServer returns all schedules for a server.
func (db *DB) ListSchedulesByServer(ctx context.Context, serverID uuid.UUID) ([]*models.BackupSchedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM backup_schedules
		WHERE server_id = $1
		ORDER BY created_at
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.BackupSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a schedule.
func (db *DB) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM backup_schedules WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("schedule %s not found", id)
	}
	return nil
}

// SetRetentionPolicy stores or replaces a server's retention policy.
func (db *DB) SetRetentionPolicy(ctx context.Context, serverID uuid.UUID, policy *models.RetentionPolicy) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO retention_policies (server_id, keep_daily, keep_weekly, keep_monthly, keep_yearly, max_total_bytes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (server_id) DO UPDATE
		SET keep_daily = $2, keep_weekly = $3, keep_monthly = $4, keep_yearly = $5,
		    max_total_bytes = $6, updated_at = NOW()
	`, serverID, policy.KeepDaily, policy.KeepWeekly, policy.KeepMonthly, policy.KeepYearly, policy.MaxTotalBytes)
	if err != nil {
		return fmt.Errorf("set retention policy: %w", err)
	}
	return nil
}

// GetRetentionPolicy returns a server's retention policy.
func (db *DB) GetRetentionPolicy(ctx context.Context, serverID uuid.UUID) (*models.RetentionPolicy, error) {
	var p models.RetentionPolicy
	err := db.Pool.QueryRow(ctx, `
		SELECT keep_daily, keep_weekly, keep_monthly, keep_yearly, max_total_bytes
		FROM retention_policies
		WHERE server_id = $1
	`, serverID).Scan(&p.KeepDaily, &p.KeepWeekly, &p.KeepMonthly, &p.KeepYearly, &p.MaxTotalBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("server %s has no retention policy", serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("get retention policy: %w", err)
	}
	return &p, nil
}

// ListRetentionServerIDs returns the servers with a retention policy
// configured.
func (db *DB) ListRetentionServerIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT server_id FROM retention_policies ORDER BY server_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list retention servers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan server id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateVerificationResult records a verification run.
func (db *DB) CreateVerificationResult(ctx context.Context, result *models.VerificationResult) error {
	checks := result.Checks
	if checks == nil {
		checks = []models.VerificationCheck{}
	}
	checksBytes, err := json.Marshal(checks)
	if err != nil {
		return fmt.Errorf("marshal verification checks: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO verification_results (id, backup_id, status, checks, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, result.ID, result.BackupID, string(result.Status), checksBytes, result.StartedAt, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("create verification result: %w", err)
	}
	return nil
}

// ListVerificationResults returns all verification runs for a backup, newest
// first.
func (db *DB) ListVerificationResults(ctx context.Context, backupID uuid.UUID) ([]*models.VerificationResult, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, backup_id, status, checks, started_at, finished_at
		FROM verification_results
		WHERE backup_id = $1
		ORDER BY finished_at DESC
	`, backupID)
	if err != nil {
		return nil, fmt.Errorf("list verification results: %w", err)
	}
	defer rows.Close()

	var results []*models.VerificationResult
	for rows.Next() {
		var r models.VerificationResult
		var statusStr string
		var checksBytes []byte
		if err := rows.Scan(&r.ID, &r.BackupID, &statusStr, &checksBytes, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan verification result: %w", err)
		}
		r.Status = models.VerificationStatus(statusStr)
		if err := json.Unmarshal(checksBytes, &r.Checks); err != nil {
			return nil, fmt.Errorf("unmarshal verification checks: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}
