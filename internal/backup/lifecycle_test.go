package backup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

func submitPending(t *testing.T, h *harness) *models.BackupJob {
	t.Helper()
	job := models.NewBackupJob(h.serverID, h.ownerID, models.BackupKindFull, nil, testConfig(), h.clk.Now())
	if err := h.lifecycle.SubmitBackup(context.Background(), job); err != nil {
		t.Fatalf("SubmitBackup: %v", err)
	}
	return job
}

func TestSubmitBackupRejectsSecondActiveJob(t *testing.T) {
	h := newHarness(t)
	submitPending(t, h)

	second := models.NewBackupJob(h.serverID, h.ownerID, models.BackupKindFull, nil, testConfig(), h.clk.Now())
	err := h.lifecycle.SubmitBackup(context.Background(), second)
	if !errdefs.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestSubmitBackupConcurrentOnlyOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := models.NewBackupJob(h.serverID, h.ownerID, models.BackupKindFull, nil, testConfig(), h.clk.Now())
			errs[i] = h.lifecycle.SubmitBackup(ctx, job)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errdefs.IsConflict(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want exactly 1", accepted)
	}
}

func TestClaimAndComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	claimed, err := h.lifecycle.ClaimNextBackup(ctx)
	if err != nil {
		t.Fatalf("ClaimNextBackup: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("claimed %v, want job %s", claimed, job.ID)
	}
	if claimed.State != models.JobStateInProgress {
		t.Fatalf("claimed state = %s, want in_progress", claimed.State)
	}

	// Queue is now empty.
	none, err := h.lifecycle.ClaimNextBackup(ctx)
	if err != nil {
		t.Fatalf("ClaimNextBackup: %v", err)
	}
	if none != nil {
		t.Fatalf("second claim returned %s, want nil", none.ID)
	}

	if err := h.lifecycle.CompleteBackup(ctx, job.ID, 4096); err != nil {
		t.Fatalf("CompleteBackup: %v", err)
	}
	got, err := h.store.GetBackupJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetBackupJob: %v", err)
	}
	if got.State != models.JobStateCompleted || got.SizeBytes != 4096 || got.Percent != 100 {
		t.Fatalf("job = {%s, %d, %d%%}, want completed/4096/100", got.State, got.SizeBytes, got.Percent)
	}
}

func TestCompleteIsIdempotentOnTerminalJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	if _, err := h.lifecycle.ClaimNextBackup(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := h.lifecycle.CompleteBackup(ctx, job.ID, 100); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := h.lifecycle.CompleteBackup(ctx, job.ID, 999); err != nil {
		t.Fatalf("second complete should be a no-op, got: %v", err)
	}
	if err := h.lifecycle.FailBackup(ctx, job.ID, models.ErrorCodeWorkerFailed, "late failure"); err != nil {
		t.Fatalf("fail after complete should be a no-op, got: %v", err)
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateCompleted || got.SizeBytes != 100 || got.ErrorCode != "" {
		t.Fatalf("terminal state mutated: %+v", got)
	}
}

func TestFailPreservesPartialProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	if _, err := h.lifecycle.ClaimNextBackup(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := h.lifecycle.ReportBackupProgress(ctx, job.ID, 40, 2048); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := h.lifecycle.FailBackup(ctx, job.ID, models.ErrorCodeWorkerFailed, "write error"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.Percent != 40 || got.BytesProcessed != 2048 {
		t.Fatalf("progress = %d%%/%d bytes, want 40/2048 preserved", got.Percent, got.BytesProcessed)
	}
	if got.ErrorCode != models.ErrorCodeWorkerFailed {
		t.Fatalf("error code = %q, want %q", got.ErrorCode, models.ErrorCodeWorkerFailed)
	}
}

func TestCancelPendingJobImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	done, err := h.lifecycle.CancelBackup(ctx, job.ID, h.ownerID)
	if err != nil {
		t.Fatalf("CancelBackup: %v", err)
	}
	if !done {
		t.Fatal("CancelBackup returned false for pending job")
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateCancelled {
		t.Fatalf("state = %s, want cancelled", got.State)
	}
	if got.ErrorCode != "" || got.ErrorMessage != "" {
		t.Fatalf("cancelled job carries error %q/%q, want none", got.ErrorCode, got.ErrorMessage)
	}
}

func TestCancelInProgressSetsMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	if _, err := h.lifecycle.ClaimNextBackup(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := h.lifecycle.CancelBackup(ctx, job.ID, h.ownerID); err != nil {
		t.Fatalf("CancelBackup: %v", err)
	}

	// Still running until the worker observes the marker.
	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateInProgress || !got.CancelRequested {
		t.Fatalf("job = {%s, marker=%v}, want in_progress with marker", got.State, got.CancelRequested)
	}

	requested, err := h.lifecycle.BackupCancelRequested(ctx, job.ID)
	if err != nil || !requested {
		t.Fatalf("BackupCancelRequested = (%v, %v), want (true, nil)", requested, err)
	}

	if err := h.lifecycle.MarkBackupCancelled(ctx, job.ID); err != nil {
		t.Fatalf("MarkBackupCancelled: %v", err)
	}
	got, _ = h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateCancelled || got.ErrorCode != "" {
		t.Fatalf("job = {%s, %q}, want cancelled with no error", got.State, got.ErrorCode)
	}
}

func TestCancelByNonOwnerForbidden(t *testing.T) {
	h := newHarness(t)
	job := submitPending(t, h)

	_, err := h.lifecycle.CancelBackup(context.Background(), job.ID, uuid.New())
	if !errdefs.IsForbidden(err) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestCancelTerminalJobInvalidState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	if _, err := h.lifecycle.ClaimNextBackup(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := h.lifecycle.CompleteBackup(ctx, job.ID, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := h.lifecycle.CancelBackup(ctx, job.ID, h.ownerID)
	if !errdefs.IsInvalidState(err) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestProgressReportsAreCoalesced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	if _, err := h.lifecycle.ClaimNextBackup(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := h.lifecycle.ReportBackupProgress(ctx, job.ID, 10, 100); err != nil {
		t.Fatalf("report: %v", err)
	}
	firstFlush, _ := h.store.GetBackupJob(ctx, job.ID)

	// Same percent, no time passed: coalesced away.
	h.clk.Advance(100 * time.Millisecond)
	if err := h.lifecycle.ReportBackupProgress(ctx, job.ID, 10, 150); err != nil {
		t.Fatalf("report: %v", err)
	}
	coalesced, _ := h.store.GetBackupJob(ctx, job.ID)
	if !coalesced.LastProgressAt.Equal(*firstFlush.LastProgressAt) {
		t.Fatal("coalesced report was persisted")
	}

	// Percent moved a full point: flushed.
	if err := h.lifecycle.ReportBackupProgress(ctx, job.ID, 11, 200); err != nil {
		t.Fatalf("report: %v", err)
	}
	flushed, _ := h.store.GetBackupJob(ctx, job.ID)
	if flushed.Percent != 11 || flushed.BytesProcessed != 200 {
		t.Fatalf("progress = %d%%/%d, want 11/200", flushed.Percent, flushed.BytesProcessed)
	}

	// Time passed the flush interval: flushed even without percent change.
	h.clk.Advance(2 * time.Second)
	if err := h.lifecycle.ReportBackupProgress(ctx, job.ID, 11, 300); err != nil {
		t.Fatalf("report: %v", err)
	}
	timed, _ := h.store.GetBackupJob(ctx, job.ID)
	if !timed.LastProgressAt.After(*flushed.LastProgressAt) {
		t.Fatal("interval flush was not persisted")
	}
}

func TestLivenessSweepFailsStalledJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	if _, err := h.lifecycle.ClaimNextBackup(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Within the heartbeat timeout nothing happens.
	h.clk.Advance(time.Minute)
	n, err := h.lifecycle.SweepStalled(ctx)
	if err != nil {
		t.Fatalf("SweepStalled: %v", err)
	}
	if n != 0 {
		t.Fatalf("sweep failed %d jobs before the timeout", n)
	}

	h.clk.Advance(5 * time.Minute)
	n, err = h.lifecycle.SweepStalled(ctx)
	if err != nil {
		t.Fatalf("SweepStalled: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep failed %d jobs, want 1", n)
	}

	got, _ := h.store.GetBackupJob(ctx, job.ID)
	if got.State != models.JobStateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.ErrorCode != models.ErrorCodeHeartbeatLost {
		t.Fatalf("error code = %q, want %q", got.ErrorCode, models.ErrorCodeHeartbeatLost)
	}
	if got.ErrorMessage != models.HeartbeatLostMessage {
		t.Fatalf("error message = %q, want %q", got.ErrorMessage, models.HeartbeatLostMessage)
	}
}

func TestLivenessSweepSkipsHealthyJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := submitPending(t, h)

	if _, err := h.lifecycle.ClaimNextBackup(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	h.clk.Advance(110 * time.Second)
	if err := h.lifecycle.ReportBackupProgress(ctx, job.ID, 50, 500); err != nil {
		t.Fatalf("report: %v", err)
	}
	h.clk.Advance(110 * time.Second)

	n, err := h.lifecycle.SweepStalled(ctx)
	if err != nil {
		t.Fatalf("SweepStalled: %v", err)
	}
	if n != 0 {
		t.Fatalf("sweep failed %d healthy jobs", n)
	}
}

func TestSubmitRecoveryRequiresCompletedSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pending := submitPending(t, h)

	rec := models.NewRecoveryJob(pending.ID, h.serverID, h.ownerID, models.RestoreModeFull, h.clk.Now())
	err := h.lifecycle.SubmitRecovery(ctx, rec)
	if !errdefs.IsInvalidState(err) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestSubmitRecoveryPartialNeedsPaths(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	source := h.seedCompleted(t, models.BackupKindFull, nil, h.clk.Now(), 100)

	rec := models.NewRecoveryJob(source.ID, h.serverID, h.ownerID, models.RestoreModePartial, h.clk.Now())
	err := h.lifecycle.SubmitRecovery(ctx, rec)
	if !errdefs.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}

	rec.SelectedPaths = []string{"game_files/world"}
	if err := h.lifecycle.SubmitRecovery(ctx, rec); err != nil {
		t.Fatalf("SubmitRecovery with paths: %v", err)
	}
}
