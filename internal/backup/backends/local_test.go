package backends

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/craftvault/craftvault/internal/errdefs"
)

func TestLocalBackendValidate(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		b := &LocalBackend{}
		if err := b.Validate(); err == nil {
			t.Fatal("expected error for empty path")
		}
	})

	t.Run("relative path", func(t *testing.T) {
		b := &LocalBackend{Path: "relative/path"}
		if err := b.Validate(); err == nil {
			t.Fatal("expected error for relative path")
		}
	})

	t.Run("valid", func(t *testing.T) {
		b := &LocalBackend{Path: t.TempDir()}
		if err := b.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := &LocalBackend{Path: t.TempDir()}

	if err := b.Write(ctx, "servers/a/backups/b1/world.dat", strings.NewReader("hello world")); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := b.Read(ctx, "servers/a/backups/b1/world.dat")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("read %q", data)
	}
}

func TestLocalBackendReadMissing(t *testing.T) {
	b := &LocalBackend{Path: t.TempDir()}
	_, err := b.Read(context.Background(), "missing/object")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocalBackendList(t *testing.T) {
	ctx := context.Background()
	b := &LocalBackend{Path: t.TempDir()}

	files := []string{
		"servers/a/backups/b1/world.dat",
		"servers/a/backups/b1/config.yml",
		"servers/a/backups/b2/world.dat",
	}
	for _, f := range files {
		if err := b.Write(ctx, f, strings.NewReader(f)); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}

	paths, err := b.List(ctx, "servers/a/backups/b1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("list returned %d paths, want 2: %v", len(paths), paths)
	}

	// Listing a missing prefix returns no paths, not an error.
	paths, err = b.List(ctx, "servers/zzz")
	if err != nil {
		t.Fatalf("list missing prefix: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected empty list, got %v", paths)
	}
}

func TestLocalBackendChecksum(t *testing.T) {
	ctx := context.Background()
	b := &LocalBackend{Path: t.TempDir()}

	if err := b.Write(ctx, "obj", strings.NewReader("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, err := b.Checksum(ctx, "obj")
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want {
		t.Errorf("checksum = %s, want %s", sum, want)
	}
}

func TestLocalBackendDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	b := &LocalBackend{Path: t.TempDir()}

	if err := b.Write(ctx, "obj", strings.NewReader("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := b.Delete(ctx, "obj"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(ctx, "obj"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestParseBackend(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		b, err := ParseBackend(BackendTypeLocal, []byte(`{"path":"/var/lib/craftvault"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Type() != BackendTypeLocal {
			t.Errorf("type = %s", b.Type())
		}
	})

	t.Run("s3", func(t *testing.T) {
		b, err := ParseBackend(BackendTypeS3, []byte(`{"bucket":"vault","access_key_id":"k","secret_access_key":"s"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := ParseBackend("tape", nil); err == nil {
			t.Fatal("expected error for unknown backend type")
		}
	})
}
