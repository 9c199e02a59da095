package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// seedStoredBackup writes the given files and their manifest to the backend
// for a freshly seeded completed backup.
func seedStoredBackup(t *testing.T, h *harness, kind models.BackupKind, parent *models.BackupJob, files map[string]string) *models.BackupJob {
	t.Helper()
	ctx := context.Background()

	completedAt := h.clk.Now()
	var job *models.BackupJob
	if parent != nil {
		completedAt = parent.CompletedAt.Add(time.Hour)
		job = h.seedCompleted(t, kind, &parent.ID, completedAt, 0)
	} else {
		job = h.seedCompleted(t, kind, nil, completedAt, 0)
	}

	manifest := &models.Manifest{BackupID: job.ID}
	for rel, content := range files {
		sum := sha256.Sum256([]byte(content))
		manifest.Files = append(manifest.Files, models.ManifestFile{
			Path:      rel,
			SizeBytes: int64(len(content)),
			Checksum:  hex.EncodeToString(sum[:]),
		})
		if err := h.backend.Write(ctx, FilePath(h.serverID, job.ID, rel), bytes.NewReader([]byte(content))); err != nil {
			t.Fatalf("seed file %s: %v", rel, err)
		}
	}
	data, err := models.MarshalManifest(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := h.backend.Write(ctx, ManifestPath(h.serverID, job.ID), bytes.NewReader(data)); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}
	return job
}

func TestVerifyIntactBackupPasses(t *testing.T) {
	h := newHarness(t)
	job := seedStoredBackup(t, h, models.BackupKindFull, nil, map[string]string{
		"game_files/world/level.dat": "level data",
		"game_files/server.toml":     "port = 25565",
	})

	result, err := h.verify.Verify(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != models.VerificationStatusPassed {
		t.Fatalf("status = %s, want passed: %+v", result.Status, result.Checks)
	}
	if len(result.Checks) != 3 {
		t.Fatalf("ran %d checks, want 3", len(result.Checks))
	}
}

func TestVerifyDetectsCorruptedFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := seedStoredBackup(t, h, models.BackupKindFull, nil, map[string]string{
		"game_files/world/level.dat": "level data",
	})

	// Flip the stored bytes without updating the manifest.
	if err := h.backend.Write(ctx, FilePath(h.serverID, job.ID, "game_files/world/level.dat"), bytes.NewReader([]byte("corrupted"))); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	result, err := h.verify.Verify(ctx, job.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != models.VerificationStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !checkHasStatus(result, models.CheckChecksumMatch, models.CheckStatusFailed) {
		t.Fatalf("checksum check did not fail: %+v", result.Checks)
	}
}

func TestVerifyDetectsMissingFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := seedStoredBackup(t, h, models.BackupKindFull, nil, map[string]string{
		"game_files/world/level.dat": "level data",
		"game_files/server.toml":     "port = 25565",
	})

	if err := h.backend.Delete(ctx, FilePath(h.serverID, job.ID, "game_files/server.toml")); err != nil {
		t.Fatalf("delete file: %v", err)
	}

	result, err := h.verify.Verify(ctx, job.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != models.VerificationStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !checkHasStatus(result, models.CheckManifestCompleteness, models.CheckStatusFailed) {
		t.Fatalf("completeness check did not fail: %+v", result.Checks)
	}
}

func TestVerifyOrphanedObjectIsWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := seedStoredBackup(t, h, models.BackupKindFull, nil, map[string]string{
		"game_files/world/level.dat": "level data",
	})

	if err := h.backend.Write(ctx, FilePath(h.serverID, job.ID, "game_files/stray.tmp"), bytes.NewReader([]byte("stray"))); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	result, err := h.verify.Verify(ctx, job.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != models.VerificationStatusWarning {
		t.Fatalf("status = %s, want warning", result.Status)
	}
	if !checkHasStatus(result, models.CheckManifestCompleteness, models.CheckStatusWarning) {
		t.Fatalf("completeness check did not warn: %+v", result.Checks)
	}
}

func TestVerifyBrokenChainFailsRestorability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	full := seedStoredBackup(t, h, models.BackupKindFull, nil, map[string]string{
		"game_files/world/level.dat": "v1",
	})
	inc := seedStoredBackup(t, h, models.BackupKindIncremental, full, map[string]string{
		"game_files/world/level.dat": "v2",
	})

	// Destroy the ancestor's manifest; the incremental is no longer
	// restorable even though its own objects are intact.
	if err := h.backend.Delete(ctx, ManifestPath(h.serverID, full.ID)); err != nil {
		t.Fatalf("delete ancestor manifest: %v", err)
	}

	result, err := h.verify.Verify(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != models.VerificationStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !checkHasStatus(result, models.CheckRestorabilityProbe, models.CheckStatusFailed) {
		t.Fatalf("restorability probe did not fail: %+v", result.Checks)
	}
}

func TestVerifyRejectsNonCompletedBackup(t *testing.T) {
	h := newHarness(t)
	pending := submitPending(t, h)

	_, err := h.verify.Verify(context.Background(), pending.ID)
	if !errdefs.IsInvalidState(err) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestVerifyNeverMutatesJobState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := seedStoredBackup(t, h, models.BackupKindFull, nil, map[string]string{
		"game_files/world/level.dat": "level data",
	})
	if err := h.backend.Delete(ctx, FilePath(h.serverID, job.ID, "game_files/world/level.dat")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	before, _ := h.store.GetBackupJob(ctx, job.ID)
	if _, err := h.verify.Verify(ctx, job.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	after, _ := h.store.GetBackupJob(ctx, job.ID)
	if after.State != before.State || after.ErrorCode != before.ErrorCode {
		t.Fatalf("verification mutated the job: before={%s %q} after={%s %q}", before.State, before.ErrorCode, after.State, after.ErrorCode)
	}
}

func TestVerifyPersistsResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := seedStoredBackup(t, h, models.BackupKindFull, nil, map[string]string{
		"game_files/world/level.dat": "level data",
	})

	if _, err := h.verify.Verify(ctx, job.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := h.verify.Verify(ctx, job.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	results, err := h.store.ListVerificationResults(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListVerificationResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("stored %d results, want 2", len(results))
	}
}

func checkHasStatus(result *models.VerificationResult, name string, status models.CheckStatus) bool {
	for _, c := range result.Checks {
		if c.Name == name && c.Status == status {
			return true
		}
	}
	return false
}
