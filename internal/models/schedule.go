package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field cron expressions plus descriptors
// like @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleOutcome records what happened the last time a schedule fired.
type ScheduleOutcome string

const (
	// ScheduleOutcomeSubmitted indicates a backup job was enqueued.
	ScheduleOutcomeSubmitted ScheduleOutcome = "submitted"
	// ScheduleOutcomeSkippedBusy indicates the run was skipped because a job
	// was already active for the server. Missed runs are not queued up.
	ScheduleOutcomeSkippedBusy ScheduleOutcome = "skipped_busy"
	// ScheduleOutcomeError indicates submission failed for another reason.
	ScheduleOutcomeError ScheduleOutcome = "error"
)

// BackupSchedule is a recurring backup policy for one server.
type BackupSchedule struct {
	ID            uuid.UUID       `json:"id"`
	ServerID      uuid.UUID       `json:"server_id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	CronExpr      string          `json:"cron_expr"`
	Kind          BackupKind      `json:"kind"`
	DefaultConfig BackupConfig    `json:"default_config"`
	Retention     RetentionPolicy `json:"retention"`
	Enabled       bool            `json:"enabled"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty"`
	LastOutcome   ScheduleOutcome `json:"last_outcome,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewBackupSchedule creates an enabled schedule with its first run computed
// from now.
func NewBackupSchedule(serverID, ownerID uuid.UUID, cronExpr string, kind BackupKind, cfg BackupConfig, retention RetentionPolicy, now time.Time) (*BackupSchedule, error) {
	s := &BackupSchedule{
		ID:            uuid.New(),
		ServerID:      serverID,
		OwnerID:       ownerID,
		CronExpr:      cronExpr,
		Kind:          kind,
		DefaultConfig: cfg,
		Retention:     retention,
		Enabled:       true,
		CreatedAt:     now,
	}
	next, err := s.NextAfter(now)
	if err != nil {
		return nil, err
	}
	s.NextRunAt = &next
	return s, nil
}

// Validate checks the schedule fields.
func (s *BackupSchedule) Validate() error {
	if s.CronExpr == "" {
		return errors.New("schedule: cron expression is required")
	}
	if _, err := cronParser.Parse(s.CronExpr); err != nil {
		return errors.New("schedule: invalid cron expression: " + err.Error())
	}
	switch s.Kind {
	case BackupKindFull, BackupKindIncremental, BackupKindDifferential:
	default:
		return errors.New("schedule: unknown backup kind " + string(s.Kind))
	}
	return s.DefaultConfig.Validate()
}

// NextAfter evaluates the recurrence rule against now. The evaluation is pure
// so advancing a schedule is idempotent under retries.
func (s *BackupSchedule) NextAfter(now time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(s.CronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

// Due reports whether the schedule should fire at now.
func (s *BackupSchedule) Due(now time.Time) bool {
	return s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now)
}

// RecordRun advances the schedule after a fire attempt. NextRunAt is advanced
// regardless of the outcome so a busy server does not cause a backlog of
// missed runs.
func (s *BackupSchedule) RecordRun(outcome ScheduleOutcome, errMsg string, now time.Time) error {
	s.LastRunAt = &now
	s.LastOutcome = outcome
	s.LastError = errMsg
	next, err := s.NextAfter(now)
	if err != nil {
		return err
	}
	s.NextRunAt = &next
	return nil
}

// Disable turns the schedule off and clears its next run.
func (s *BackupSchedule) Disable() {
	s.Enabled = false
	s.NextRunAt = nil
}
