// Package backends provides storage backend implementations for backup data.
package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// BackendType identifies a storage backend implementation.
type BackendType string

const (
	// BackendTypeLocal stores backups on the local filesystem.
	BackendTypeLocal BackendType = "local"
	// BackendTypeS3 stores backups in an S3-compatible bucket.
	BackendTypeS3 BackendType = "s3"
)

// Backend is durable byte storage keyed by path. Writes to a given backup's
// paths are exclusive to its owning job; reads may happen concurrently.
type Backend interface {
	// Type returns the backend type.
	Type() BackendType

	// Write stores the stream at path, replacing any existing object.
	Write(ctx context.Context, path string, r io.Reader) error

	// Read opens the object at path. The caller closes the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error

	// List returns all object paths under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Checksum returns the hex SHA-256 of the object at path.
	Checksum(ctx context.Context, path string) (string, error)

	// Validate checks the backend configuration.
	Validate() error
}

// ParseBackend parses a backend configuration from JSON based on its type.
func ParseBackend(backendType BackendType, configJSON []byte) (Backend, error) {
	switch backendType {
	case BackendTypeLocal:
		var b LocalBackend
		if err := json.Unmarshal(configJSON, &b); err != nil {
			return nil, fmt.Errorf("parse local backend config: %w", err)
		}
		return &b, nil

	case BackendTypeS3:
		var b S3Backend
		if err := json.Unmarshal(configJSON, &b); err != nil {
			return nil, fmt.Errorf("parse s3 backend config: %w", err)
		}
		return &b, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}
