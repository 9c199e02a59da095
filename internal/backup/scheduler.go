package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/clock"
	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/metrics"
	"github.com/craftvault/craftvault/internal/models"
)

// ScheduleStore defines the persistence operations the scheduler needs.
type ScheduleStore interface {
	// ListDueSchedules returns enabled schedules whose next run time is at
	// or before now.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*models.BackupSchedule, error)
	UpdateSchedule(ctx context.Context, schedule *models.BackupSchedule) error
}

// Scheduler turns due backup schedules into job submissions. A schedule
// fires at most once per tick; if the server already has an active backup
// job the run is skipped rather than queued behind it.
type Scheduler struct {
	store     ScheduleStore
	lifecycle *JobLifecycleManager
	chains    *ChainManager
	clock     clock.Clock
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// NewScheduler creates a Scheduler. The metrics collector may be nil.
func NewScheduler(store ScheduleStore, lifecycle *JobLifecycleManager, chains *ChainManager, clk clock.Clock, collector *metrics.Collector, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		lifecycle: lifecycle,
		chains:    chains,
		clock:     clk,
		metrics:   collector,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Tick fires every schedule due at now. Each schedule's next run time
// advances whether the submission succeeded, was skipped, or errored, so a
// failing schedule cannot fire more than once per occurrence.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDueSchedules(ctx, now)
	if err != nil {
		return err
	}

	for _, schedule := range due {
		outcome, errMsg := s.fire(ctx, schedule, now)
		if err := schedule.RecordRun(outcome, errMsg, now); err != nil {
			s.logger.Error().Err(err).
				Str("schedule_id", schedule.ID.String()).
				Msg("failed to advance schedule")
			continue
		}
		if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
			s.logger.Error().Err(err).
				Str("schedule_id", schedule.ID.String()).
				Msg("failed to record schedule run")
			continue
		}
		s.metrics.ScheduleTick(string(outcome))
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, schedule *models.BackupSchedule, now time.Time) (models.ScheduleOutcome, string) {
	kind, parentID, err := s.chains.ResolveLink(ctx, schedule.ServerID, schedule.Kind)
	if err != nil {
		s.logger.Error().Err(err).
			Str("schedule_id", schedule.ID.String()).
			Msg("schedule could not resolve chain link")
		return models.ScheduleOutcomeError, err.Error()
	}

	job := models.NewBackupJob(schedule.ServerID, schedule.OwnerID, kind, parentID, schedule.DefaultConfig, now)
	if err := s.lifecycle.SubmitBackup(ctx, job); err != nil {
		if errdefs.IsConflict(err) {
			s.logger.Info().
				Str("schedule_id", schedule.ID.String()).
				Str("server_id", schedule.ServerID.String()).
				Msg("schedule skipped, server has an active backup job")
			return models.ScheduleOutcomeSkippedBusy, ""
		}
		s.logger.Error().Err(err).
			Str("schedule_id", schedule.ID.String()).
			Msg("schedule submission failed")
		return models.ScheduleOutcomeError, err.Error()
	}

	s.logger.Info().
		Str("schedule_id", schedule.ID.String()).
		Str("job_id", job.ID.String()).
		Str("kind", string(kind)).
		Msg("schedule submitted backup job")
	return models.ScheduleOutcomeSubmitted, ""
}

// Run ticks the scheduler every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx, s.clock.Now()); err != nil {
				s.logger.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}
