package backends

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/craftvault/craftvault/internal/errdefs"
)

// LocalBackend stores backup data on the local filesystem under a root path.
type LocalBackend struct {
	Path string `json:"path"`
}

// Type returns the backend type.
func (b *LocalBackend) Type() BackendType { return BackendTypeLocal }

// Validate checks if the configuration is valid.
func (b *LocalBackend) Validate() error {
	if b.Path == "" {
		return errors.New("local backend: path is required")
	}
	if !filepath.IsAbs(b.Path) {
		return errors.New("local backend: path must be absolute")
	}
	return nil
}

func (b *LocalBackend) abs(path string) string {
	return filepath.Join(b.Path, filepath.FromSlash(path))
}

// Write stores the stream at path, creating parent directories as needed.
func (b *LocalBackend) Write(ctx context.Context, path string, r io.Reader) error {
	full := b.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return errdefs.TransientStoragef("create directory for %s: %v", path, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return errdefs.TransientStoragef("create %s: %v", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return errdefs.TransientStoragef("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return errdefs.TransientStoragef("close %s: %v", path, err)
	}
	return nil
}

// Read opens the object at path.
func (b *LocalBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(b.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("object %s", path)
		}
		return nil, errdefs.TransientStoragef("open %s: %v", path, err)
	}
	return f, nil
}

// Delete removes the object at path. Missing objects are ignored.
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	if err := os.Remove(b.abs(path)); err != nil && !os.IsNotExist(err) {
		return errdefs.TransientStoragef("delete %s: %v", path, err)
	}
	return nil
}

// List returns all object paths under prefix, in slash-separated form
// relative to the backend root.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	root := b.abs(prefix)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.Path, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errdefs.TransientStoragef("list %s: %v", prefix, err)
	}
	// Walk of a file root returns the file itself with a wrong rel; guard by
	// filtering on the requested prefix.
	var filtered []string
	for _, p := range paths {
		if strings.HasPrefix(p, strings.TrimSuffix(filepath.ToSlash(prefix), "/")) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// Checksum returns the hex SHA-256 of the object at path.
func (b *LocalBackend) Checksum(ctx context.Context, path string) (string, error) {
	f, err := b.Read(ctx, path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errdefs.TransientStoragef("checksum %s: %v", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// String describes the backend for logs.
func (b *LocalBackend) String() string {
	return fmt.Sprintf("local(%s)", b.Path)
}
