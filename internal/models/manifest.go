package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ManifestFile is one file recorded in a backup manifest.
type ManifestFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Manifest lists every file a backup wrote to storage, with checksums. The
// verification engine compares it against the storage backend.
type Manifest struct {
	BackupID uuid.UUID      `json:"backup_id"`
	Files    []ManifestFile `json:"files"`
}

// TotalBytes sums the sizes of all files in the manifest.
func (m *Manifest) TotalBytes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.SizeBytes
	}
	return total
}

// MarshalManifest encodes the manifest for storage.
func MarshalManifest(m *Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

// UnmarshalManifest decodes a stored manifest.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}
