package backup

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

// DefaultMaxChainDepth bounds how many incrementals may stack on a full
// backup before a new full is forced, keeping recovery time bounded.
const DefaultMaxChainDepth = 14

// ChainStore defines the persistence operations the chain manager needs.
type ChainStore interface {
	// GetBackupJob returns a backup job by ID, or errdefs.ErrNotFound.
	GetBackupJob(ctx context.Context, id uuid.UUID) (*models.BackupJob, error)

	// LatestCompletedBackup returns the most recent completed backup for a
	// server, or errdefs.ErrNotFound when the server has none.
	LatestCompletedBackup(ctx context.Context, serverID uuid.UUID) (*models.BackupJob, error)

	// LatestCompletedFullBackup returns the most recent completed full
	// backup for a server, or errdefs.ErrNotFound.
	LatestCompletedFullBackup(ctx context.Context, serverID uuid.UUID) (*models.BackupJob, error)
}

// ChainManager tracks parent/child relationships between backups and answers
// what the minimal restorable set for a backup is. Backups are records keyed
// by ID with parent-ID references; chains are walked explicitly, never held
// as live pointers.
type ChainManager struct {
	store    ChainStore
	maxDepth int
	logger   zerolog.Logger
}

// NewChainManager creates a ChainManager. maxDepth caps incremental chain
// length; 0 selects DefaultMaxChainDepth.
func NewChainManager(store ChainStore, maxDepth int, logger zerolog.Logger) *ChainManager {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	return &ChainManager{
		store:    store,
		maxDepth: maxDepth,
		logger:   logger.With().Str("component", "chain_manager").Logger(),
	}
}

// GetChain returns the ordered backup IDs from the nearest full ancestor to
// backupID inclusive. It fails with errdefs.ErrBrokenChain if any ancestor is
// missing or not completed; it never returns a partial chain.
func (m *ChainManager) GetChain(ctx context.Context, backupID uuid.UUID) ([]uuid.UUID, error) {
	job, err := m.store.GetBackupJob(ctx, backupID)
	if err != nil {
		return nil, err
	}

	// Walk parent pointers root-ward, then reverse.
	reversed := []uuid.UUID{job.ID}
	seen := map[uuid.UUID]bool{job.ID: true}
	cur := job
	for cur.Kind != models.BackupKindFull {
		if cur.ParentID == nil {
			return nil, errdefs.BrokenChainf("backup %s is %s but has no parent", cur.ID, cur.Kind)
		}
		parent, err := m.store.GetBackupJob(ctx, *cur.ParentID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return nil, errdefs.BrokenChainf("ancestor %s of backup %s is missing", *cur.ParentID, backupID)
			}
			return nil, err
		}
		if parent.State != models.JobStateCompleted {
			return nil, errdefs.BrokenChainf("ancestor %s of backup %s is %s, not completed", parent.ID, backupID, parent.State)
		}
		if seen[parent.ID] {
			return nil, errdefs.Fatalf("backup chain cycle at %s", parent.ID)
		}
		seen[parent.ID] = true
		reversed = append(reversed, parent.ID)
		cur = parent
	}

	chain := make([]uuid.UUID, len(reversed))
	for i, id := range reversed {
		chain[len(reversed)-1-i] = id
	}
	return chain, nil
}

// ValidateNewLink checks that a new backup of the given kind may attach to
// parentID for the given server. Incremental chains are linear: the parent
// must be the most recent completed backup. Differentials always base off the
// latest completed full backup; sibling differentials are allowed.
func (m *ChainManager) ValidateNewLink(ctx context.Context, serverID uuid.UUID, kind models.BackupKind, parentID *uuid.UUID) error {
	switch kind {
	case models.BackupKindFull:
		if parentID != nil {
			return errdefs.Conflictf("full backup cannot reference a parent")
		}
		return nil

	case models.BackupKindIncremental:
		if parentID == nil {
			return errdefs.Conflictf("incremental backup requires a parent")
		}
		parent, err := m.store.GetBackupJob(ctx, *parentID)
		if err != nil {
			return err
		}
		if parent.ServerID != serverID {
			return errdefs.Conflictf("parent backup %s belongs to another server", parent.ID)
		}
		if parent.State != models.JobStateCompleted {
			return errdefs.InvalidStatef("parent backup %s is %s, not completed", parent.ID, parent.State)
		}
		latest, err := m.store.LatestCompletedBackup(ctx, serverID)
		if err != nil {
			return err
		}
		if latest.ID != parent.ID {
			return errdefs.Conflictf("incremental parent must be the most recent completed backup (%s), got %s", latest.ID, parent.ID)
		}
		chain, err := m.GetChain(ctx, parent.ID)
		if err != nil {
			return err
		}
		if len(chain) >= m.maxDepth {
			return errdefs.Conflictf("chain depth %d reached for server %s, a full backup is required", m.maxDepth, serverID)
		}
		return nil

	case models.BackupKindDifferential:
		if parentID == nil {
			return errdefs.Conflictf("differential backup requires a parent")
		}
		parent, err := m.store.GetBackupJob(ctx, *parentID)
		if err != nil {
			return err
		}
		if parent.ServerID != serverID {
			return errdefs.Conflictf("parent backup %s belongs to another server", parent.ID)
		}
		if parent.State != models.JobStateCompleted {
			return errdefs.InvalidStatef("parent backup %s is %s, not completed", parent.ID, parent.State)
		}
		if parent.Kind != models.BackupKindFull {
			return errdefs.Conflictf("differential parent must be a full backup, got %s", parent.Kind)
		}
		return nil

	default:
		return errdefs.Conflictf("unknown backup kind %s", kind)
	}
}

// ResolveLink picks the parent for a new backup of the desired kind, falling
// back to a full backup when the chain cannot be extended: no completed
// ancestor exists, or the incremental depth cap is reached.
func (m *ChainManager) ResolveLink(ctx context.Context, serverID uuid.UUID, desired models.BackupKind) (models.BackupKind, *uuid.UUID, error) {
	switch desired {
	case models.BackupKindFull:
		return models.BackupKindFull, nil, nil

	case models.BackupKindIncremental:
		latest, err := m.store.LatestCompletedBackup(ctx, serverID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return models.BackupKindFull, nil, nil
			}
			return "", nil, err
		}
		chain, err := m.GetChain(ctx, latest.ID)
		if err != nil {
			if errdefs.IsBrokenChain(err) {
				m.logger.Warn().Err(err).
					Str("server_id", serverID.String()).
					Msg("chain broken, forcing full backup")
				return models.BackupKindFull, nil, nil
			}
			return "", nil, err
		}
		if len(chain) >= m.maxDepth {
			m.logger.Info().
				Str("server_id", serverID.String()).
				Int("depth", len(chain)).
				Msg("chain depth cap reached, forcing full backup")
			return models.BackupKindFull, nil, nil
		}
		return models.BackupKindIncremental, &latest.ID, nil

	case models.BackupKindDifferential:
		full, err := m.store.LatestCompletedFullBackup(ctx, serverID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return models.BackupKindFull, nil, nil
			}
			return "", nil, err
		}
		return models.BackupKindDifferential, &full.ID, nil

	default:
		return "", nil, errdefs.Conflictf("unknown backup kind %s", desired)
	}
}
