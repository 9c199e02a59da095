package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/backup/backends"
	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// ArchiverStore is the subset of persistence the archiver needs for
// incremental and differential base resolution.
type ArchiverStore interface {
	GetBackupJob(ctx context.Context, id uuid.UUID) (*models.BackupJob, error)
}

// FileArchiver is the default Executor. It walks server data directories
// under DataRoot, ships files to the storage backend, and writes a manifest
// last so a partially written backup never looks complete.
//
// Server data is laid out as DataRoot/<serverID>/<data class>/...
type FileArchiver struct {
	DataRoot string

	store   ArchiverStore
	backend backends.Backend
	chains  *ChainManager
	logger  zerolog.Logger
}

// NewFileArchiver creates a FileArchiver rooted at dataRoot.
func NewFileArchiver(dataRoot string, store ArchiverStore, backend backends.Backend, chains *ChainManager, logger zerolog.Logger) *FileArchiver {
	return &FileArchiver{
		DataRoot: dataRoot,
		store:    store,
		backend:  backend,
		chains:   chains,
		logger:   logger.With().Str("component", "archiver").Logger(),
	}
}

// sourceFile is one candidate file discovered on disk.
type sourceFile struct {
	rel  string // path relative to the server data dir, slash-separated
	abs  string
	size int64
}

// ExecuteBackup walks the configured data classes, uploads changed files,
// and writes the manifest. For incremental and differential backups,
// unchanged files (same checksum as the base manifest) are recorded in the
// manifest but not re-uploaded to their own prefix; the manifest entry is
// what makes them part of the backup, and restore materializes the chain.
func (a *FileArchiver) ExecuteBackup(ctx context.Context, job *models.BackupJob, checkpoint CheckpointFunc) (int64, error) {
	if err := checkpoint(0, 0); err != nil {
		return 0, err
	}

	sources, err := a.collectSources(job)
	if err != nil {
		return 0, err
	}

	base, err := a.baseChecksums(ctx, job)
	if err != nil {
		return 0, err
	}

	manifest := &models.Manifest{BackupID: job.ID}
	var totalBytes, processed int64
	for _, src := range sources {
		totalBytes += src.size
	}

	for i, src := range sources {
		checksum, err := a.uploadFile(ctx, job, src, base)
		if err != nil {
			return 0, err
		}
		manifest.Files = append(manifest.Files, models.ManifestFile{
			Path:      src.rel,
			SizeBytes: src.size,
			Checksum:  checksum,
		})
		processed += src.size

		percent := 0
		if totalBytes > 0 {
			percent = int(processed * 100 / totalBytes)
		} else {
			percent = (i + 1) * 100 / len(sources)
		}
		if percent > 99 {
			percent = 99
		}
		if err := checkpoint(percent, processed); err != nil {
			return 0, err
		}
	}

	data, err := models.MarshalManifest(manifest)
	if err != nil {
		return 0, err
	}
	if err := a.backend.Write(ctx, ManifestPath(job.ServerID, job.ID), bytes.NewReader(data)); err != nil {
		return 0, fmt.Errorf("write manifest: %w", err)
	}

	if err := checkpoint(100, processed); err != nil {
		return 0, err
	}
	return manifest.TotalBytes(), nil
}

// collectSources walks the job's data classes under the server data dir and
// applies the exclude list.
func (a *FileArchiver) collectSources(job *models.BackupJob) ([]sourceFile, error) {
	serverDir := filepath.Join(a.DataRoot, job.ServerID.String())
	var sources []sourceFile

	for _, dc := range job.Config.DataClasses {
		classDir := filepath.Join(serverDir, string(dc))
		err := filepath.WalkDir(classDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == classDir {
					// A data class with no files yet is not an error.
					return filepath.SkipAll
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(serverDir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if excluded(rel, job.Config.ExcludePaths) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			sources = append(sources, sourceFile{rel: rel, abs: path, size: info.Size()})
			return nil
		})
		if err != nil {
			return nil, errdefs.TransientStoragef("walk %s: %v", classDir, err)
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].rel < sources[j].rel })
	return sources, nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if rel == p || strings.HasPrefix(rel, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// baseChecksums returns the checksums of the base backup's chain for
// incremental and differential jobs, keyed by relative path. Full backups
// have no base.
func (a *FileArchiver) baseChecksums(ctx context.Context, job *models.BackupJob) (map[string]string, error) {
	if job.Kind == models.BackupKindFull || job.ParentID == nil {
		return nil, nil
	}

	chain, err := a.chains.GetChain(ctx, *job.ParentID)
	if err != nil {
		return nil, err
	}

	// Later links win: the chain is ordered full first.
	base := make(map[string]string)
	for _, id := range chain {
		manifest, err := a.readManifest(ctx, job.ServerID, id)
		if err != nil {
			return nil, err
		}
		for _, f := range manifest.Files {
			base[f.Path] = f.Checksum
		}
	}
	return base, nil
}

// uploadFile hashes the file and ships it unless the base already holds an
// identical copy. The checksum is always returned for the manifest.
func (a *FileArchiver) uploadFile(ctx context.Context, job *models.BackupJob, src sourceFile, base map[string]string) (string, error) {
	f, err := os.Open(src.abs)
	if err != nil {
		return "", errdefs.TransientStoragef("open %s: %v", src.abs, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errdefs.TransientStoragef("hash %s: %v", src.abs, err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	if prev, ok := base[src.rel]; ok && prev == checksum {
		return checksum, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", errdefs.TransientStoragef("rewind %s: %v", src.abs, err)
	}
	if err := a.backend.Write(ctx, FilePath(job.ServerID, job.ID, src.rel), f); err != nil {
		return "", fmt.Errorf("upload %s: %w", src.rel, err)
	}
	return checksum, nil
}

func (a *FileArchiver) readManifest(ctx context.Context, serverID, backupID uuid.UUID) (*models.Manifest, error) {
	rc, err := a.backend.Read(ctx, ManifestPath(serverID, backupID))
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

// restoreEntry records which backup in the chain owns the newest copy of a
// path.
type restoreEntry struct {
	backupID uuid.UUID
	file     models.ManifestFile
}

// ExecuteRecovery materializes the source backup's chain into the target
// server's data directory. For each path the newest link that recorded it
// wins; file content is fetched from whichever backup actually uploaded
// that version.
func (a *FileArchiver) ExecuteRecovery(ctx context.Context, job *models.RecoveryJob, checkpoint CheckpointFunc) error {
	if err := checkpoint(0, 0); err != nil {
		return err
	}

	source, err := a.store.GetBackupJob(ctx, job.BackupID)
	if err != nil {
		return err
	}

	chain, err := a.chains.GetChain(ctx, job.BackupID)
	if err != nil {
		return err
	}

	// Walk the chain oldest to newest so later entries overwrite earlier
	// ones, and remember per path which backups hold a copy.
	latest := make(map[string]restoreEntry)
	owners := make(map[string][]uuid.UUID)
	for _, id := range chain {
		manifest, err := a.readManifest(ctx, source.ServerID, id)
		if err != nil {
			return err
		}
		for _, f := range manifest.Files {
			latest[f.Path] = restoreEntry{backupID: id, file: f}
			owners[f.Path] = append(owners[f.Path], id)
		}
	}

	paths := make([]string, 0, len(latest))
	for p := range latest {
		if job.Mode == models.RestoreModePartial && !selectedPath(p, job.SelectedPaths) {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if job.Mode == models.RestoreModePartial && len(paths) == 0 {
		return errdefs.NotFoundf("no files in backup %s match the selected paths", job.BackupID)
	}

	targetDir := filepath.Join(a.DataRoot, job.RestoreTarget().String())
	var totalBytes, processed int64
	for _, p := range paths {
		totalBytes += latest[p].file.SizeBytes
	}

	for i, p := range paths {
		entry := latest[p]
		if err := a.restoreFile(ctx, source.ServerID, p, entry, owners[p], targetDir); err != nil {
			return err
		}
		processed += entry.file.SizeBytes

		percent := 0
		if totalBytes > 0 {
			percent = int(processed * 100 / totalBytes)
		} else {
			percent = (i + 1) * 100 / len(paths)
		}
		if percent > 99 {
			percent = 99
		}
		if err := checkpoint(percent, processed); err != nil {
			return err
		}
	}

	return checkpoint(100, processed)
}

func selectedPath(path string, selected []string) bool {
	for _, s := range selected {
		if path == s || strings.HasPrefix(path, strings.TrimSuffix(s, "/")+"/") {
			return true
		}
	}
	return false
}

// restoreFile fetches the newest copy of path. A link that recorded the file
// unchanged did not re-upload it, so the read falls back through earlier
// owners until the stored copy is found.
func (a *FileArchiver) restoreFile(ctx context.Context, serverID uuid.UUID, path string, entry restoreEntry, ownerIDs []uuid.UUID, targetDir string) error {
	var rc io.ReadCloser
	var err error
	for i := len(ownerIDs) - 1; i >= 0; i-- {
		rc, err = a.backend.Read(ctx, FilePath(serverID, ownerIDs[i], path))
		if err == nil {
			break
		}
		if !errdefs.IsNotFound(err) {
			return err
		}
	}
	if rc == nil {
		return errdefs.BrokenChainf("no stored copy of %s found in chain", path)
	}
	defer rc.Close()

	dest := filepath.Join(targetDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errdefs.TransientStoragef("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return errdefs.TransientStoragef("create %s: %v", dest, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), rc); err != nil {
		return errdefs.TransientStoragef("restore %s: %v", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != entry.file.Checksum {
		return errdefs.BrokenChainf("restored %s has checksum %s, manifest says %s", path, got, entry.file.Checksum)
	}
	return nil
}
