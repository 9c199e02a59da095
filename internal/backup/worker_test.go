package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// stubExecutor lets each test script the executor's behavior.
type stubExecutor struct {
	backupFn   func(ctx context.Context, job *models.BackupJob, checkpoint CheckpointFunc) (int64, error)
	recoveryFn func(ctx context.Context, job *models.RecoveryJob, checkpoint CheckpointFunc) error
}

func (s *stubExecutor) ExecuteBackup(ctx context.Context, job *models.BackupJob, checkpoint CheckpointFunc) (int64, error) {
	return s.backupFn(ctx, job, checkpoint)
}

func (s *stubExecutor) ExecuteRecovery(ctx context.Context, job *models.RecoveryJob, checkpoint CheckpointFunc) error {
	return s.recoveryFn(ctx, job, checkpoint)
}

func newTestPool(h *harness, exec Executor) *Pool {
	cfg := DefaultPoolConfig()
	cfg.RetryBackoff = 0
	return NewPool(h.lifecycle, exec, cfg, nil, nil, testLogger())
}

func TestPoolCompletesSuccessfulBackup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	pool := newTestPool(h, &stubExecutor{
		backupFn: func(ctx context.Context, j *models.BackupJob, checkpoint CheckpointFunc) (int64, error) {
			if err := checkpoint(50, 512); err != nil {
				return 0, err
			}
			return 1024, nil
		},
	})

	worked, err := pool.runOne(ctx, testLogger())
	if err != nil {
		t.Fatalf("runOne: %v", err)
	}
	if !worked {
		t.Fatal("runOne found no job")
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateCompleted || got.SizeBytes != 1024 {
		t.Fatalf("job = {%s, %d}, want completed/1024", got.State, got.SizeBytes)
	}
}

func TestPoolFailsBackupWithWorkerErrorCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	pool := newTestPool(h, &stubExecutor{
		backupFn: func(ctx context.Context, j *models.BackupJob, checkpoint CheckpointFunc) (int64, error) {
			return 0, errors.New("archive exploded")
		},
	})

	if _, err := pool.runOne(ctx, testLogger()); err != nil {
		t.Fatalf("runOne: %v", err)
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.ErrorCode != models.ErrorCodeWorkerFailed {
		t.Fatalf("error code = %q, want %q", got.ErrorCode, models.ErrorCodeWorkerFailed)
	}
}

func TestPoolRetriesTransientErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	attempts := 0
	pool := newTestPool(h, &stubExecutor{
		backupFn: func(ctx context.Context, j *models.BackupJob, checkpoint CheckpointFunc) (int64, error) {
			attempts++
			if attempts < 3 {
				return 0, errdefs.TransientStoragef("backend flapping")
			}
			return 2048, nil
		},
	})

	if _, err := pool.runOne(ctx, testLogger()); err != nil {
		t.Fatalf("runOne: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateCompleted {
		t.Fatalf("state = %s, want completed after retries", got.State)
	}
}

func TestPoolGivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	attempts := 0
	pool := newTestPool(h, &stubExecutor{
		backupFn: func(ctx context.Context, j *models.BackupJob, checkpoint CheckpointFunc) (int64, error) {
			attempts++
			return 0, errdefs.TransientStoragef("backend down")
		},
	})

	if _, err := pool.runOne(ctx, testLogger()); err != nil {
		t.Fatalf("runOne: %v", err)
	}
	// Initial attempt plus MaxRetries.
	if want := DefaultPoolConfig().MaxRetries + 1; attempts != want {
		t.Fatalf("attempts = %d, want %d", attempts, want)
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
}

func TestPoolObservesCancellationAtCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	checkpoints := 0
	pool := newTestPool(h, &stubExecutor{
		backupFn: func(ctx context.Context, j *models.BackupJob, checkpoint CheckpointFunc) (int64, error) {
			for percent := 10; percent <= 100; percent += 10 {
				checkpoints++
				if percent == 30 {
					// The user cancels mid-flight.
					if _, err := h.lifecycle.CancelBackup(ctx, j.ID, h.ownerID); err != nil {
						t.Errorf("CancelBackup: %v", err)
					}
				}
				if err := checkpoint(percent, int64(percent)*10); err != nil {
					return 0, err
				}
			}
			return 1000, nil
		},
	})

	if _, err := pool.runOne(ctx, testLogger()); err != nil {
		t.Fatalf("runOne: %v", err)
	}

	// The marker is set at the 30% iteration and observed by that same
	// checkpoint call; the executor never reaches 40%.
	if checkpoints != 3 {
		t.Fatalf("executor ran %d checkpoints after cancellation, want 3", checkpoints)
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateCancelled {
		t.Fatalf("state = %s, want cancelled", got.State)
	}
	if got.ErrorCode != "" || got.ErrorMessage != "" {
		t.Fatalf("cancelled job carries error %q/%q", got.ErrorCode, got.ErrorMessage)
	}
}

func TestPoolRunsRecoveryJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	source := h.seedCompleted(t, models.BackupKindFull, nil, h.clk.Now(), 100)

	rec := models.NewRecoveryJob(source.ID, h.serverID, h.ownerID, models.RestoreModeFull, h.clk.Now())
	if err := h.lifecycle.SubmitRecovery(ctx, rec); err != nil {
		t.Fatalf("SubmitRecovery: %v", err)
	}

	pool := newTestPool(h, &stubExecutor{
		recoveryFn: func(ctx context.Context, j *models.RecoveryJob, checkpoint CheckpointFunc) error {
			return checkpoint(100, 100)
		},
	})

	worked, err := pool.runOne(ctx, testLogger())
	if err != nil {
		t.Fatalf("runOne: %v", err)
	}
	if !worked {
		t.Fatal("runOne found no recovery job")
	}

	got, _ := h.store.GetRecoveryJob(ctx, rec.ID)
	if got.State != models.JobStateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
}
