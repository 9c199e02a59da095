// Package backup implements the backup and recovery orchestration engine:
// job lifecycle, chains, retention, verification, scheduling, and the worker
// pool that executes jobs against a storage backend.
package backup

import (
	"fmt"

	"github.com/google/uuid"
)

// Storage layout: every backup owns an exclusive prefix under its server.
// The manifest is written last; its presence marks a fully written backup.

// BackupPrefix returns the storage prefix holding all of a backup's objects.
func BackupPrefix(serverID, backupID uuid.UUID) string {
	return fmt.Sprintf("servers/%s/backups/%s", serverID, backupID)
}

// ManifestPath returns the storage path of a backup's manifest.
func ManifestPath(serverID, backupID uuid.UUID) string {
	return BackupPrefix(serverID, backupID) + "/manifest.json"
}

// FilePath returns the storage path of one file within a backup, where rel is
// the slash-separated path relative to the server data root.
func FilePath(serverID, backupID uuid.UUID, rel string) string {
	return BackupPrefix(serverID, backupID) + "/data/" + rel
}
