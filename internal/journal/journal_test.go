package journal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func openTest(t *testing.T, dir string) *Journal {
	t.Helper()
	j, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

func TestRecordAndReadCheckpoints(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir)

	j.RecordCheckpoint("job-1", 10, 1024)
	j.RecordCheckpoint("job-1", 40, 4096)
	j.RecordCheckpoint("job-2", 5, 100)
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	j = openTest(t, dir)
	defer j.Close()
	ctx := context.Background()

	last, err := j.LastCheckpoint(ctx, "job-1")
	if err != nil {
		t.Fatalf("last checkpoint: %v", err)
	}
	if last == nil || last.Percent != 40 || last.BytesProcessed != 4096 {
		t.Fatalf("last = %+v, want percent 40 bytes 4096", last)
	}

	all, err := j.ListCheckpoints(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].Percent != 10 || all[1].Percent != 40 {
		t.Fatalf("checkpoints out of order: %+v", all)
	}
}

func TestLastCheckpointUnknownJob(t *testing.T) {
	j := openTest(t, t.TempDir())
	defer j.Close()

	last, err := j.LastCheckpoint(context.Background(), "missing")
	if err != nil {
		t.Fatalf("last checkpoint: %v", err)
	}
	if last != nil {
		t.Fatalf("last = %+v, want nil", last)
	}
}

func TestPruneBefore(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir)
	j.RecordCheckpoint("job-1", 10, 1024)
	j.RecordCheckpoint("job-1", 90, 9000)
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	j = openTest(t, dir)
	defer j.Close()
	ctx := context.Background()

	pruned, err := j.PruneBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}

	last, err := j.LastCheckpoint(ctx, "job-1")
	if err != nil {
		t.Fatalf("last checkpoint: %v", err)
	}
	if last != nil {
		t.Fatalf("last = %+v, want nil after prune", last)
	}
}
