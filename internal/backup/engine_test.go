package backup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/backup/backends"
	"github.com/craftvault/craftvault/internal/clock"
	"github.com/craftvault/craftvault/internal/db/memstore"
	"github.com/craftvault/craftvault/internal/models"
)

// harness wires the engines against the in-memory store and a local backend
// rooted in a test temp dir.
type harness struct {
	store     *memstore.Store
	backend   *backends.LocalBackend
	chains    *ChainManager
	lifecycle *JobLifecycleManager
	retention *RetentionEngine
	verify    *VerificationEngine
	clk       *clock.Fake

	serverID uuid.UUID
	ownerID  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	backend := &backends.LocalBackend{Path: t.TempDir()}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := zerolog.Nop()

	chains := NewChainManager(store, 0, logger)
	lifecycle := NewJobLifecycleManager(store, chains, DefaultLifecycleConfig(), clk, nil, logger)
	retention := NewRetentionEngine(store, backend, logger)
	verify := NewVerificationEngine(store, backend, chains, clk, nil, logger)

	h := &harness{
		store:     store,
		backend:   backend,
		chains:    chains,
		lifecycle: lifecycle,
		retention: retention,
		verify:    verify,
		clk:       clk,
		serverID:  uuid.New(),
		ownerID:   uuid.New(),
	}
	store.AddServer(h.serverID, h.ownerID)
	return h
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testConfig() models.BackupConfig {
	return models.BackupConfig{DataClasses: []models.DataClass{models.DataClassGameFiles}}
}

// seedCompleted inserts a completed backup record directly, bypassing the
// single-active-job check by inserting in its terminal state.
func (h *harness) seedCompleted(t *testing.T, kind models.BackupKind, parentID *uuid.UUID, completedAt time.Time, sizeBytes int64) *models.BackupJob {
	t.Helper()
	job := models.NewBackupJob(h.serverID, h.ownerID, kind, parentID, testConfig(), completedAt.Add(-time.Minute))
	job.Start(completedAt.Add(-time.Minute))
	job.Complete(sizeBytes, completedAt)
	if err := h.store.CreateBackupJob(context.Background(), job); err != nil {
		t.Fatalf("seed completed backup: %v", err)
	}
	return job
}
