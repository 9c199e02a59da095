package models

import (
	"time"

	"github.com/google/uuid"
)

// RestoreMode defines how a recovery job applies the restored data.
type RestoreMode string

const (
	// RestoreModeFull restores the entire backup to the source server.
	RestoreModeFull RestoreMode = "full"
	// RestoreModePartial restores only the selected paths.
	RestoreModePartial RestoreMode = "partial"
	// RestoreModeInPlace overwrites the live server data directly.
	RestoreModeInPlace RestoreMode = "in_place"
	// RestoreModeAlternateLocation restores onto a different server.
	RestoreModeAlternateLocation RestoreMode = "alternate_location"
)

// RecoveryJob represents a restore operation sourced from one backup.
type RecoveryJob struct {
	ID              uuid.UUID   `json:"id"`
	BackupID        uuid.UUID   `json:"backup_id"`
	ServerID        uuid.UUID   `json:"server_id"`
	OwnerID         uuid.UUID   `json:"owner_id"`
	Mode            RestoreMode `json:"mode"`
	SelectedPaths   []string    `json:"selected_paths,omitempty"`
	TargetServerID  *uuid.UUID  `json:"target_server_id,omitempty"`
	State           JobState    `json:"state"`
	Percent         int         `json:"percent"`
	BytesProcessed  int64       `json:"bytes_processed"`
	CancelRequested bool        `json:"cancel_requested"`
	ErrorCode       string      `json:"error_code,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	LastProgressAt  *time.Time  `json:"last_progress_at,omitempty"`
}

// NewRecoveryJob creates a Pending recovery job for the given backup.
func NewRecoveryJob(backupID, serverID, ownerID uuid.UUID, mode RestoreMode, now time.Time) *RecoveryJob {
	return &RecoveryJob{
		ID:        uuid.New(),
		BackupID:  backupID,
		ServerID:  serverID,
		OwnerID:   ownerID,
		Mode:      mode,
		State:     JobStatePending,
		CreatedAt: now,
	}
}

// Start transitions the job to InProgress.
func (j *RecoveryJob) Start(now time.Time) {
	j.State = JobStateInProgress
	j.StartedAt = &now
	j.LastProgressAt = &now
}

// Complete marks the job Completed.
func (j *RecoveryJob) Complete(now time.Time) {
	j.State = JobStateCompleted
	j.Percent = 100
	j.CompletedAt = &now
}

// Fail marks the job Failed, preserving partial progress.
func (j *RecoveryJob) Fail(code, errMsg string, now time.Time) {
	j.State = JobStateFailed
	j.ErrorCode = code
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
}

// Cancel marks the job Cancelled.
func (j *RecoveryJob) Cancel(now time.Time) {
	j.State = JobStateCancelled
	j.CompletedAt = &now
}

// Progress records a worker checkpoint. Percent never decreases.
func (j *RecoveryJob) Progress(percent int, bytesProcessed int64, now time.Time) {
	if percent > j.Percent {
		j.Percent = percent
	}
	if bytesProcessed > j.BytesProcessed {
		j.BytesProcessed = bytesProcessed
	}
	j.LastProgressAt = &now
}

// RestoreTarget returns the server the restored data lands on.
func (j *RecoveryJob) RestoreTarget() uuid.UUID {
	if j.Mode == RestoreModeAlternateLocation && j.TargetServerID != nil {
		return *j.TargetServerID
	}
	return j.ServerID
}
