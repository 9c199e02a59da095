package backup

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/backup/backends"
	"github.com/craftvault/craftvault/internal/clock"
	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/metrics"
	"github.com/craftvault/craftvault/internal/models"
)

// VerificationStore defines the persistence operations the verification
// engine needs.
type VerificationStore interface {
	GetBackupJob(ctx context.Context, id uuid.UUID) (*models.BackupJob, error)
	CreateVerificationResult(ctx context.Context, result *models.VerificationResult) error
}

// VerificationEngine runs integrity checks against completed backups. It
// never mutates backup data or job state.
type VerificationEngine struct {
	store   VerificationStore
	backend backends.Backend
	chains  *ChainManager
	clock   clock.Clock
	metrics *metrics.Collector
	logger  zerolog.Logger

	// SampleLimit caps how many files the checksum check reads per run.
	// Zero means verify every file.
	SampleLimit int
}

// NewVerificationEngine creates a VerificationEngine. The metrics collector
// may be nil.
func NewVerificationEngine(store VerificationStore, backend backends.Backend, chains *ChainManager, clk clock.Clock, collector *metrics.Collector, logger zerolog.Logger) *VerificationEngine {
	return &VerificationEngine{
		store:   store,
		backend: backend,
		chains:  chains,
		clock:   clk,
		metrics: collector,
		logger:  logger.With().Str("component", "verification").Logger(),
	}
}

// Verify runs all checks against the given completed backup, persists the
// result, and returns it. Only completed backups can be verified.
func (e *VerificationEngine) Verify(ctx context.Context, backupID uuid.UUID) (*models.VerificationResult, error) {
	job, err := e.store.GetBackupJob(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateCompleted {
		return nil, errdefs.InvalidStatef("backup %s is %s, only completed backups can be verified", backupID, job.State)
	}

	result := models.NewVerificationResult(backupID, e.clock.Now())

	manifest, err := e.readManifest(ctx, job.ServerID, backupID)
	if err != nil {
		// Without a manifest nothing else is checkable.
		detail := fmt.Sprintf("manifest unreadable: %v", err)
		status := models.CheckStatusFailed
		if errdefs.IsTransientStorage(err) {
			status = models.CheckStatusWarning
		}
		result.AddCheck(models.CheckManifestCompleteness, status, detail)
		result.Finalize(e.clock.Now())
		if err := e.store.CreateVerificationResult(ctx, result); err != nil {
			return nil, err
		}
		e.metrics.VerificationFinished(string(result.Status))
		return result, nil
	}

	e.checkCompleteness(ctx, job, manifest, result)
	e.checkChecksums(ctx, job, manifest, result)
	e.checkRestorability(ctx, job, result)

	result.Finalize(e.clock.Now())
	if err := e.store.CreateVerificationResult(ctx, result); err != nil {
		return nil, err
	}

	e.metrics.VerificationFinished(string(result.Status))
	e.logger.Info().
		Str("backup_id", backupID.String()).
		Str("status", string(result.Status)).
		Int("checks", len(result.Checks)).
		Msg("verification finished")
	return result, nil
}

func (e *VerificationEngine) readManifest(ctx context.Context, serverID, backupID uuid.UUID) (*models.Manifest, error) {
	rc, err := e.backend.Read(ctx, ManifestPath(serverID, backupID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errdefs.TransientStoragef("read manifest: %v", err)
	}
	return models.UnmarshalManifest(data)
}

// checkCompleteness verifies the manifest and stored objects agree in both
// directions: every manifest entry exists in storage, and storage holds no
// data objects the manifest does not list.
func (e *VerificationEngine) checkCompleteness(ctx context.Context, job *models.BackupJob, manifest *models.Manifest, result *models.VerificationResult) {
	stored, err := e.backend.List(ctx, BackupPrefix(job.ServerID, job.ID))
	if err != nil {
		status := models.CheckStatusFailed
		if errdefs.IsTransientStorage(err) {
			status = models.CheckStatusWarning
		}
		result.AddCheck(models.CheckManifestCompleteness, status, fmt.Sprintf("list storage: %v", err))
		return
	}

	manifestPath := ManifestPath(job.ServerID, job.ID)
	storedSet := make(map[string]bool, len(stored))
	for _, p := range stored {
		if p == manifestPath {
			continue
		}
		storedSet[p] = true
	}

	var missing, orphaned []string
	for _, f := range manifest.Files {
		path := FilePath(job.ServerID, job.ID, f.Path)
		if !storedSet[path] {
			missing = append(missing, f.Path)
		}
		delete(storedSet, path)
	}
	for p := range storedSet {
		orphaned = append(orphaned, p)
	}
	sort.Strings(missing)
	sort.Strings(orphaned)

	switch {
	case len(missing) > 0:
		result.AddCheck(models.CheckManifestCompleteness, models.CheckStatusFailed,
			fmt.Sprintf("%d manifest entries missing from storage: %s", len(missing), summarizePaths(missing)))
	case len(orphaned) > 0:
		result.AddCheck(models.CheckManifestCompleteness, models.CheckStatusWarning,
			fmt.Sprintf("%d stored objects not in manifest: %s", len(orphaned), summarizePaths(orphaned)))
	default:
		result.AddCheck(models.CheckManifestCompleteness, models.CheckStatusPassed,
			fmt.Sprintf("%d files accounted for", len(manifest.Files)))
	}
}

// checkChecksums re-hashes stored files and compares against the manifest.
// SampleLimit bounds the read cost on large backups.
func (e *VerificationEngine) checkChecksums(ctx context.Context, job *models.BackupJob, manifest *models.Manifest, result *models.VerificationResult) {
	files := manifest.Files
	sampled := false
	if e.SampleLimit > 0 && len(files) > e.SampleLimit {
		files = files[:e.SampleLimit]
		sampled = true
	}

	var mismatched []string
	transient := 0
	for _, f := range files {
		got, err := e.backend.Checksum(ctx, FilePath(job.ServerID, job.ID, f.Path))
		if err != nil {
			if errdefs.IsTransientStorage(err) {
				transient++
				continue
			}
			mismatched = append(mismatched, f.Path)
			continue
		}
		if got != f.Checksum {
			mismatched = append(mismatched, f.Path)
		}
	}
	sort.Strings(mismatched)

	switch {
	case len(mismatched) > 0:
		result.AddCheck(models.CheckChecksumMatch, models.CheckStatusFailed,
			fmt.Sprintf("%d checksum mismatches: %s", len(mismatched), summarizePaths(mismatched)))
	case transient > 0:
		result.AddCheck(models.CheckChecksumMatch, models.CheckStatusWarning,
			fmt.Sprintf("%d files unreadable due to transient storage errors", transient))
	case sampled:
		result.AddCheck(models.CheckChecksumMatch, models.CheckStatusPassed,
			fmt.Sprintf("sampled %d of %d files, all checksums match", len(files), len(manifest.Files)))
	default:
		result.AddCheck(models.CheckChecksumMatch, models.CheckStatusPassed,
			fmt.Sprintf("all %d checksums match", len(files)))
	}
}

// checkRestorability confirms the full ancestor chain is intact and every
// link's manifest is readable, so a restore from this backup could be
// materialized.
func (e *VerificationEngine) checkRestorability(ctx context.Context, job *models.BackupJob, result *models.VerificationResult) {
	chain, err := e.chains.GetChain(ctx, job.ID)
	if err != nil {
		result.AddCheck(models.CheckRestorabilityProbe, models.CheckStatusFailed,
			fmt.Sprintf("chain unresolvable: %v", err))
		return
	}

	for _, id := range chain {
		if id == job.ID {
			continue
		}
		if _, err := e.readManifest(ctx, job.ServerID, id); err != nil {
			status := models.CheckStatusFailed
			if errdefs.IsTransientStorage(err) {
				status = models.CheckStatusWarning
			}
			result.AddCheck(models.CheckRestorabilityProbe, status,
				fmt.Sprintf("ancestor %s manifest unreadable: %v", id, err))
			return
		}
	}

	result.AddCheck(models.CheckRestorabilityProbe, models.CheckStatusPassed,
		fmt.Sprintf("chain of %d backups restorable", len(chain)))
}

func summarizePaths(paths []string) string {
	const max = 5
	if len(paths) <= max {
		return strings.Join(paths, ", ")
	}
	return strings.Join(paths[:max], ", ") + ", ..."
}
