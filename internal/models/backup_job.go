package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// BackupKind defines how a backup relates to its chain.
type BackupKind string

const (
	// BackupKindFull is a self-contained snapshot requiring no parent.
	BackupKindFull BackupKind = "full"
	// BackupKindIncremental captures changes since the immediately preceding
	// backup in the same chain.
	BackupKindIncremental BackupKind = "incremental"
	// BackupKindDifferential captures changes since the last full backup.
	BackupKindDifferential BackupKind = "differential"
)

// DataClass selects a category of server data to include in a backup.
type DataClass string

const (
	DataClassGameFiles  DataClass = "game_files"
	DataClassConfig     DataClass = "config"
	DataClassPlayerData DataClass = "player_data"
	DataClassLogs       DataClass = "logs"
	DataClassMods       DataClass = "mods"
)

// BackupConfig is the closed configuration for a backup job. Provider-specific
// settings go into Extra; everything the engine interprets has a named field.
type BackupConfig struct {
	DataClasses  []DataClass       `json:"data_classes"`
	ExcludePaths []string          `json:"exclude_paths,omitempty"`
	Compression  bool              `json:"compression"`
	Encryption   bool              `json:"encryption"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Validate checks the configuration for obviously broken values.
func (c *BackupConfig) Validate() error {
	if len(c.DataClasses) == 0 {
		return errors.New("backup config: at least one data class is required")
	}
	for _, dc := range c.DataClasses {
		switch dc {
		case DataClassGameFiles, DataClassConfig, DataClassPlayerData, DataClassLogs, DataClassMods:
		default:
			return errors.New("backup config: unknown data class " + string(dc))
		}
	}
	return nil
}

// BackupJob represents one backup operation against a server.
type BackupJob struct {
	ID             uuid.UUID    `json:"id"`
	ServerID       uuid.UUID    `json:"server_id"`
	OwnerID        uuid.UUID    `json:"owner_id"`
	Kind           BackupKind   `json:"kind"`
	State          JobState     `json:"state"`
	Config         BackupConfig `json:"config"`
	ParentID       *uuid.UUID   `json:"parent_id,omitempty"`
	SizeBytes      int64        `json:"size_bytes"`
	Percent        int          `json:"percent"`
	BytesProcessed int64        `json:"bytes_processed"`
	// CancelRequested is the cooperative cancellation marker observed by the
	// worker at its next checkpoint.
	CancelRequested bool       `json:"cancel_requested"`
	ErrorCode       string     `json:"error_code,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastProgressAt  *time.Time `json:"last_progress_at,omitempty"`
}

// NewBackupJob creates a Pending backup job.
func NewBackupJob(serverID, ownerID uuid.UUID, kind BackupKind, parentID *uuid.UUID, cfg BackupConfig, now time.Time) *BackupJob {
	return &BackupJob{
		ID:        uuid.New(),
		ServerID:  serverID,
		OwnerID:   ownerID,
		Kind:      kind,
		State:     JobStatePending,
		Config:    cfg,
		ParentID:  parentID,
		CreatedAt: now,
	}
}

// Start transitions the job to InProgress.
func (j *BackupJob) Start(now time.Time) {
	j.State = JobStateInProgress
	j.StartedAt = &now
	j.LastProgressAt = &now
}

// Complete marks the job Completed with its final size.
func (j *BackupJob) Complete(sizeBytes int64, now time.Time) {
	j.State = JobStateCompleted
	j.SizeBytes = sizeBytes
	j.Percent = 100
	j.CompletedAt = &now
}

// Fail marks the job Failed. Partial progress is preserved for diagnostics.
func (j *BackupJob) Fail(code, errMsg string, now time.Time) {
	j.State = JobStateFailed
	j.ErrorCode = code
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
}

// Cancel marks the job Cancelled. Cancelled jobs carry no error.
func (j *BackupJob) Cancel(now time.Time) {
	j.State = JobStateCancelled
	j.CompletedAt = &now
}

// Progress records a worker checkpoint. Percent never decreases.
func (j *BackupJob) Progress(percent int, bytesProcessed int64, now time.Time) {
	if percent > j.Percent {
		j.Percent = percent
	}
	if bytesProcessed > j.BytesProcessed {
		j.BytesProcessed = bytesProcessed
	}
	j.LastProgressAt = &now
}

// Duration returns how long the job ran, or 0 if it never started or has not
// finished.
func (j *BackupJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Elapsed returns how long the job has been running as of now.
func (j *BackupJob) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return now.Sub(*j.StartedAt)
}
