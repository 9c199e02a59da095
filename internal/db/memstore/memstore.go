// Package memstore provides an in-memory Store for tests and single-node
// development. It implements every store interface the engine packages
// declare.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// Store holds all engine state in memory behind one mutex. Claim operations
// are atomic with respect to each other, matching the guarantees the
// Postgres store provides with row locking.
type Store struct {
	mu            sync.Mutex
	backups       map[uuid.UUID]*models.BackupJob
	recoveries    map[uuid.UUID]*models.RecoveryJob
	schedules     map[uuid.UUID]*models.BackupSchedule
	policies      map[uuid.UUID]*models.RetentionPolicy
	verifications map[uuid.UUID][]*models.VerificationResult
	servers       map[uuid.UUID]uuid.UUID // server ID -> owner ID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		backups:       make(map[uuid.UUID]*models.BackupJob),
		recoveries:    make(map[uuid.UUID]*models.RecoveryJob),
		schedules:     make(map[uuid.UUID]*models.BackupSchedule),
		policies:      make(map[uuid.UUID]*models.RetentionPolicy),
		verifications: make(map[uuid.UUID][]*models.VerificationResult),
		servers:       make(map[uuid.UUID]uuid.UUID),
	}
}

func copyBackup(j *models.BackupJob) *models.BackupJob {
	c := *j
	return &c
}

func copyRecovery(j *models.RecoveryJob) *models.RecoveryJob {
	c := *j
	return &c
}

func copySchedule(s *models.BackupSchedule) *models.BackupSchedule {
	c := *s
	return &c
}

// AddServer registers a server with its owner for authorization checks.
func (s *Store) AddServer(serverID, ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[serverID] = ownerID
}

// Owns implements backup.AuthorizationProvider.
func (s *Store) Owns(ctx context.Context, userID, serverID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.servers[serverID]
	if !ok {
		return false, errdefs.NotFoundf("server %s not found", serverID)
	}
	return owner == userID, nil
}

// CreateBackupJob inserts a pending backup job, enforcing at most one active
// backup job per server.
func (s *Store) CreateBackupJob(ctx context.Context, job *models.BackupJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.backups {
		if existing.ServerID == job.ServerID && existing.State.Active() {
			return errdefs.Conflictf("server %s already has an active backup job %s", job.ServerID, existing.ID)
		}
	}
	s.backups[job.ID] = copyBackup(job)
	return nil
}

// GetBackupJob returns a backup job by ID.
func (s *Store) GetBackupJob(ctx context.Context, id uuid.UUID) (*models.BackupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.backups[id]
	if !ok {
		return nil, errdefs.NotFoundf("backup job %s not found", id)
	}
	return copyBackup(job), nil
}

// UpdateBackupJob overwrites a stored backup job.
func (s *Store) UpdateBackupJob(ctx context.Context, job *models.BackupJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[job.ID]; !ok {
		return errdefs.NotFoundf("backup job %s not found", job.ID)
	}
	s.backups[job.ID] = copyBackup(job)
	return nil
}

// DeleteBackupJob removes a backup job record. Missing records are not an
// error.
func (s *Store) DeleteBackupJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backups, id)
	return nil
}

// CreateRecoveryJob inserts a pending recovery job.
func (s *Store) CreateRecoveryJob(ctx context.Context, job *models.RecoveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveries[job.ID] = copyRecovery(job)
	return nil
}

// GetRecoveryJob returns a recovery job by ID.
func (s *Store) GetRecoveryJob(ctx context.Context, id uuid.UUID) (*models.RecoveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.recoveries[id]
	if !ok {
		return nil, errdefs.NotFoundf("recovery job %s not found", id)
	}
	return copyRecovery(job), nil
}

// UpdateRecoveryJob overwrites a stored recovery job.
func (s *Store) UpdateRecoveryJob(ctx context.Context, job *models.RecoveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recoveries[job.ID]; !ok {
		return errdefs.NotFoundf("recovery job %s not found", job.ID)
	}
	s.recoveries[job.ID] = copyRecovery(job)
	return nil
}

// ClaimNextPendingBackup atomically starts the oldest pending backup job.
func (s *Store) ClaimNextPendingBackup(ctx context.Context, now time.Time) (*models.BackupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.BackupJob
	for _, job := range s.backups {
		if job.State != models.JobStatePending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Start(now)
	return copyBackup(oldest), nil
}

// ClaimNextPendingRecovery atomically starts the oldest pending recovery job.
func (s *Store) ClaimNextPendingRecovery(ctx context.Context, now time.Time) (*models.RecoveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.RecoveryJob
	for _, job := range s.recoveries {
		if job.State != models.JobStatePending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Start(now)
	return copyRecovery(oldest), nil
}

// ListStalledBackupJobs returns in-progress backup jobs with no progress
// since cutoff.
func (s *Store) ListStalledBackupJobs(ctx context.Context, cutoff time.Time) ([]*models.BackupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stalled []*models.BackupJob
	for _, job := range s.backups {
		if job.State == models.JobStateInProgress && job.LastProgressAt != nil && job.LastProgressAt.Before(cutoff) {
			stalled = append(stalled, copyBackup(job))
		}
	}
	return stalled, nil
}

// ListStalledRecoveryJobs returns in-progress recovery jobs with no progress
// since cutoff.
func (s *Store) ListStalledRecoveryJobs(ctx context.Context, cutoff time.Time) ([]*models.RecoveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stalled []*models.RecoveryJob
	for _, job := range s.recoveries {
		if job.State == models.JobStateInProgress && job.LastProgressAt != nil && job.LastProgressAt.Before(cutoff) {
			stalled = append(stalled, copyRecovery(job))
		}
	}
	return stalled, nil
}

// LatestCompletedBackup returns the server's most recently completed backup.
func (s *Store) LatestCompletedBackup(ctx context.Context, serverID uuid.UUID) (*models.BackupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.BackupJob
	for _, job := range s.backups {
		if job.ServerID != serverID || job.State != models.JobStateCompleted || job.CompletedAt == nil {
			continue
		}
		if latest == nil || job.CompletedAt.After(*latest.CompletedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, errdefs.NotFoundf("server %s has no completed backups", serverID)
	}
	return copyBackup(latest), nil
}

// LatestCompletedFullBackup returns the server's most recently completed
// full backup.
func (s *Store) LatestCompletedFullBackup(ctx context.Context, serverID uuid.UUID) (*models.BackupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.BackupJob
	for _, job := range s.backups {
		if job.ServerID != serverID || job.Kind != models.BackupKindFull || job.State != models.JobStateCompleted || job.CompletedAt == nil {
			continue
		}
		if latest == nil || job.CompletedAt.After(*latest.CompletedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, errdefs.NotFoundf("server %s has no completed full backups", serverID)
	}
	return copyBackup(latest), nil
}

// ListCompletedBackupsByServer returns the server's completed backups, any
// order.
func (s *Store) ListCompletedBackupsByServer(ctx context.Context, serverID uuid.UUID) ([]*models.BackupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BackupJob
	for _, job := range s.backups {
		if job.ServerID == serverID && job.State == models.JobStateCompleted {
			out = append(out, copyBackup(job))
		}
	}
	return out, nil
}

// ListBackupJobsByServer returns all backup jobs for a server, newest first.
func (s *Store) ListBackupJobsByServer(ctx context.Context, serverID uuid.UUID, limit int) ([]*models.BackupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*models.BackupJob
	for _, job := range s.backups {
		if job.ServerID == serverID {
			out = append(out, copyBackup(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetRetentionPolicy stores the server's retention policy.
func (s *Store) SetRetentionPolicy(ctx context.Context, serverID uuid.UUID, policy *models.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *policy
	s.policies[serverID] = &c
	return nil
}

// GetRetentionPolicy returns the server's retention policy.
func (s *Store) GetRetentionPolicy(ctx context.Context, serverID uuid.UUID) (*models.RetentionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy, ok := s.policies[serverID]
	if !ok {
		return nil, errdefs.NotFoundf("server %s has no retention policy", serverID)
	}
	c := *policy
	return &c, nil
}

// ListRetentionServerIDs returns servers with a retention policy configured.
func (s *Store) ListRetentionServerIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.policies))
	for id := range s.policies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// CreateSchedule inserts a backup schedule.
func (s *Store) CreateSchedule(ctx context.Context, schedule *models.BackupSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.ID] = copySchedule(schedule)
	return nil
}

// GetSchedule returns a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*models.BackupSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return nil, errdefs.NotFoundf("schedule %s not found", id)
	}
	return copySchedule(schedule), nil
}

// UpdateSchedule overwrites a stored schedule.
func (s *Store) UpdateSchedule(ctx context.Context, schedule *models.BackupSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[schedule.ID]; !ok {
		return errdefs.NotFoundf("schedule %s not found", schedule.ID)
	}
	s.schedules[schedule.ID] = copySchedule(schedule)
	return nil
}

// ListDueSchedules returns enabled schedules due at or before now.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.BackupSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.BackupSchedule
	for _, schedule := range s.schedules {
		if schedule.Due(now) {
			due = append(due, copySchedule(schedule))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID.String() < due[j].ID.String() })
	return due, nil
}

// ListSchedulesByServer returns all schedules for a server.
func (s *Store) ListSchedulesByServer(ctx context.Context, serverID uuid.UUID) ([]*models.BackupSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BackupSchedule
	for _, schedule := range s.schedules {
		if schedule.ServerID == serverID {
			out = append(out, copySchedule(schedule))
		}
	}
	return out, nil
}

// CreateVerificationResult appends a verification result for its backup.
func (s *Store) CreateVerificationResult(ctx context.Context, result *models.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *result
	c.Checks = append([]models.VerificationCheck(nil), result.Checks...)
	s.verifications[result.BackupID] = append(s.verifications[result.BackupID], &c)
	return nil
}

// ListVerificationResults returns all verification results for a backup,
// oldest first.
func (s *Store) ListVerificationResults(ctx context.Context, backupID uuid.UUID) ([]*models.VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := s.verifications[backupID]
	out := make([]*models.VerificationResult, 0, len(results))
	for _, r := range results {
		c := *r
		c.Checks = append([]models.VerificationCheck(nil), r.Checks...)
		out = append(out, &c)
	}
	return out, nil
}
