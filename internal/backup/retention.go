package backup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/backup/backends"
	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// RetentionStore defines the persistence operations the retention engine
// needs.
type RetentionStore interface {
	// ListCompletedBackupsByServer returns all completed backups for a
	// server, any order.
	ListCompletedBackupsByServer(ctx context.Context, serverID uuid.UUID) ([]*models.BackupJob, error)

	// GetRetentionPolicy returns the server's retention policy, or
	// errdefs.ErrNotFound when none is set.
	GetRetentionPolicy(ctx context.Context, serverID uuid.UUID) (*models.RetentionPolicy, error)

	// ListRetentionServerIDs returns the servers that have a retention
	// policy configured.
	ListRetentionServerIDs(ctx context.Context) ([]uuid.UUID, error)

	// DeleteBackupJob removes a backup's metadata record.
	DeleteBackupJob(ctx context.Context, id uuid.UUID) error
}

// RetentionEngine evaluates retention policies and prunes expired backups.
// It never prunes a backup that is still a chain ancestor of a retained
// descendant; such backups are kept despite their age.
type RetentionEngine struct {
	store   RetentionStore
	backend backends.Backend
	logger  zerolog.Logger
}

// NewRetentionEngine creates a RetentionEngine.
func NewRetentionEngine(store RetentionStore, backend backends.Backend, logger zerolog.Logger) *RetentionEngine {
	return &RetentionEngine{
		store:   store,
		backend: backend,
		logger:  logger.With().Str("component", "retention").Logger(),
	}
}

// ComputeBackupsToPrune evaluates the server's retention policy and returns
// the backups that may be deleted, oldest first. The result never contains a
// backup that is a chain ancestor of a backup outside the result.
func (e *RetentionEngine) ComputeBackupsToPrune(ctx context.Context, serverID uuid.UUID) ([]uuid.UUID, error) {
	policy, err := e.store.GetRetentionPolicy(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("retention policy for server %s: %w", serverID, err)
	}

	backups, err := e.store.ListCompletedBackupsByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, nil
	}

	// Newest first for bucket selection.
	sort.Slice(backups, func(i, j int) bool {
		return completedAt(backups[i]).After(completedAt(backups[j]))
	})

	kept := e.selectKept(backups, policy)

	byID := make(map[uuid.UUID]*models.BackupJob, len(backups))
	for _, b := range backups {
		byID[b.ID] = b
	}

	candidates := make(map[uuid.UUID]bool)
	for _, b := range backups {
		if !kept[b.ID] {
			candidates[b.ID] = true
		}
	}

	protectAncestors(byID, candidates)

	if policy.MaxTotalBytes > 0 {
		e.extendForStorageCap(byID, candidates, policy.MaxTotalBytes)
	}

	// Oldest first, deterministic.
	var out []uuid.UUID
	for id := range candidates {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return completedAt(byID[out[i]]).Before(completedAt(byID[out[j]]))
	})
	return out, nil
}

// selectKept keeps the newest backup in each calendar bucket up to the
// policy's counts.
func (e *RetentionEngine) selectKept(newestFirst []*models.BackupJob, policy *models.RetentionPolicy) map[uuid.UUID]bool {
	kept := make(map[uuid.UUID]bool)

	keepBucketed := func(count int, bucket func(time.Time) string) {
		if count <= 0 {
			return
		}
		seen := make(map[string]bool)
		for _, b := range newestFirst {
			key := bucket(completedAt(b))
			if seen[key] {
				continue
			}
			seen[key] = true
			kept[b.ID] = true
			if len(seen) >= count {
				return
			}
		}
	}

	keepBucketed(policy.KeepDaily, func(t time.Time) string {
		return t.Format("2006-01-02")
	})
	keepBucketed(policy.KeepWeekly, func(t time.Time) string {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	})
	keepBucketed(policy.KeepMonthly, func(t time.Time) string {
		return t.Format("2006-01")
	})
	keepBucketed(policy.KeepYearly, func(t time.Time) string {
		return t.Format("2006")
	})

	return kept
}

// protectAncestors removes from the candidate set every backup that is a
// chain ancestor of a backup not itself in the candidate set.
func protectAncestors(byID map[uuid.UUID]*models.BackupJob, candidates map[uuid.UUID]bool) {
	for id, b := range byID {
		if candidates[id] {
			continue
		}
		for cur := b; cur.ParentID != nil; {
			parent, ok := byID[*cur.ParentID]
			if !ok {
				break
			}
			delete(candidates, parent.ID)
			cur = parent
		}
	}
}

// extendForStorageCap widens the candidate set oldest-first until the kept
// total fits under maxBytes, without ever breaking ancestor protection: a
// kept backup may only become a candidate if nothing kept depends on it.
func (e *RetentionEngine) extendForStorageCap(byID map[uuid.UUID]*models.BackupJob, candidates map[uuid.UUID]bool, maxBytes int64) {
	for {
		var total int64
		var keptOldestFirst []*models.BackupJob
		for id, b := range byID {
			if !candidates[id] {
				total += b.SizeBytes
				keptOldestFirst = append(keptOldestFirst, b)
			}
		}
		if total <= maxBytes {
			return
		}
		sort.Slice(keptOldestFirst, func(i, j int) bool {
			return completedAt(keptOldestFirst[i]).Before(completedAt(keptOldestFirst[j]))
		})

		// A kept backup is prunable only if no kept backup references it as
		// an ancestor.
		referenced := make(map[uuid.UUID]bool)
		for _, b := range keptOldestFirst {
			for cur := b; cur.ParentID != nil; {
				parent, ok := byID[*cur.ParentID]
				if !ok {
					break
				}
				if !candidates[parent.ID] {
					referenced[parent.ID] = true
				}
				cur = parent
			}
		}

		extended := false
		for _, b := range keptOldestFirst {
			if referenced[b.ID] {
				continue
			}
			candidates[b.ID] = true
			extended = true
			break
		}
		if !extended {
			e.logger.Warn().
				Int64("total_bytes", total).
				Int64("max_bytes", maxBytes).
				Msg("storage cap exceeded but no backup is prunable without breaking a chain")
			return
		}
	}
}

// Prune deletes the given backups' storage and metadata in leaf-to-root
// order. It refuses with errdefs.ErrConflict if any backup in the set is
// still referenced as an ancestor by a completed backup outside the set.
func (e *RetentionEngine) Prune(ctx context.Context, serverID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	backups, err := e.store.ListCompletedBackupsByServer(ctx, serverID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*models.BackupJob, len(backups))
	for _, b := range backups {
		byID[b.ID] = b
	}

	pruneSet := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return errdefs.NotFoundf("backup %s", id)
		}
		pruneSet[id] = true
	}

	// Refuse before touching storage: every pruned backup must be free of
	// surviving completed descendants.
	for _, b := range backups {
		if pruneSet[b.ID] {
			continue
		}
		for cur := b; cur.ParentID != nil; {
			parent, ok := byID[*cur.ParentID]
			if !ok {
				break
			}
			if pruneSet[parent.ID] {
				return errdefs.Conflictf("backup %s is still referenced by retained descendant %s", parent.ID, b.ID)
			}
			cur = parent
		}
	}

	// Children before parents.
	ordered := make([]uuid.UUID, 0, len(ids))
	ordered = append(ordered, ids...)
	sort.Slice(ordered, func(i, j int) bool {
		return chainDepth(byID, ordered[i]) > chainDepth(byID, ordered[j])
	})

	for _, id := range ordered {
		if err := e.deleteBackup(ctx, serverID, id); err != nil {
			return err
		}
	}

	e.logger.Info().
		Str("server_id", serverID.String()).
		Int("pruned", len(ordered)).
		Msg("retention prune completed")
	return nil
}

// deleteBackup removes one backup's objects and metadata.
func (e *RetentionEngine) deleteBackup(ctx context.Context, serverID, backupID uuid.UUID) error {
	prefix := BackupPrefix(serverID, backupID)
	paths, err := e.backend.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := e.backend.Delete(ctx, p); err != nil {
			return err
		}
	}
	if err := e.store.DeleteBackupJob(ctx, backupID); err != nil {
		return err
	}
	e.logger.Debug().
		Str("backup_id", backupID.String()).
		Int("objects", len(paths)).
		Msg("backup pruned")
	return nil
}

// SweepServer computes and applies retention for one server. A missing
// policy is not an error; the sweep just skips the server.
func (e *RetentionEngine) SweepServer(ctx context.Context, serverID uuid.UUID) (int, error) {
	ids, err := e.ComputeBackupsToPrune(ctx, serverID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.Prune(ctx, serverID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Run executes periodic retention sweeps across all servers with a policy
// until the context is cancelled. Sweeps are a lower-priority background
// task, independent of the worker pool.
func (e *RetentionEngine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("retention sweeper started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("retention sweeper stopped")
			return
		case <-ticker.C:
			e.sweepAll(ctx)
		}
	}
}

func (e *RetentionEngine) sweepAll(ctx context.Context) {
	serverIDs, err := e.store.ListRetentionServerIDs(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list servers for retention sweep")
		return
	}
	for _, serverID := range serverIDs {
		pruned, err := e.SweepServer(ctx, serverID)
		if err != nil {
			e.logger.Error().Err(err).
				Str("server_id", serverID.String()).
				Msg("retention sweep failed")
			continue
		}
		if pruned > 0 {
			e.logger.Info().
				Str("server_id", serverID.String()).
				Int("pruned", pruned).
				Msg("retention sweep pruned backups")
		}
	}
}

func completedAt(b *models.BackupJob) time.Time {
	if b.CompletedAt != nil {
		return *b.CompletedAt
	}
	return b.CreatedAt
}

func chainDepth(byID map[uuid.UUID]*models.BackupJob, id uuid.UUID) int {
	depth := 0
	cur, ok := byID[id]
	for ok && cur.ParentID != nil {
		depth++
		cur, ok = byID[*cur.ParentID]
	}
	return depth
}
