package backup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/errdefs"
	"github.com/craftvault/craftvault/internal/models"
)

func TestGetChainOrdersFullFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := h.clk.Now()

	full := h.seedCompleted(t, models.BackupKindFull, nil, base, 100)
	inc1 := h.seedCompleted(t, models.BackupKindIncremental, &full.ID, base.Add(time.Hour), 10)
	inc2 := h.seedCompleted(t, models.BackupKindIncremental, &inc1.ID, base.Add(2*time.Hour), 10)

	chain, err := h.chains.GetChain(ctx, inc2.ID)
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	want := []uuid.UUID{full.ID, inc1.ID, inc2.ID}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(want))
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %s, want %s", i, chain[i], want[i])
		}
	}
}

func TestGetChainSingleFull(t *testing.T) {
	h := newHarness(t)
	full := h.seedCompleted(t, models.BackupKindFull, nil, h.clk.Now(), 100)

	chain, err := h.chains.GetChain(context.Background(), full.ID)
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if len(chain) != 1 || chain[0] != full.ID {
		t.Fatalf("chain = %v, want just %s", chain, full.ID)
	}
}

func TestGetChainBrokenOnMissingAncestor(t *testing.T) {
	h := newHarness(t)
	missing := uuid.New()
	inc := h.seedCompleted(t, models.BackupKindIncremental, &missing, h.clk.Now(), 10)

	_, err := h.chains.GetChain(context.Background(), inc.ID)
	if !errdefs.IsBrokenChain(err) {
		t.Fatalf("err = %v, want broken chain", err)
	}
}

func TestGetChainBrokenOnFailedAncestor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := h.clk.Now()

	full := models.NewBackupJob(h.serverID, h.ownerID, models.BackupKindFull, nil, testConfig(), base)
	full.Start(base)
	full.Fail(models.ErrorCodeWorkerFailed, "disk gone", base.Add(time.Minute))
	if err := h.store.CreateBackupJob(ctx, full); err != nil {
		t.Fatalf("store failed full: %v", err)
	}
	inc := h.seedCompleted(t, models.BackupKindIncremental, &full.ID, base.Add(time.Hour), 10)

	_, err := h.chains.GetChain(ctx, inc.ID)
	if !errdefs.IsBrokenChain(err) {
		t.Fatalf("err = %v, want broken chain", err)
	}
}

func TestValidateNewLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := h.clk.Now()

	full := h.seedCompleted(t, models.BackupKindFull, nil, base, 100)
	inc1 := h.seedCompleted(t, models.BackupKindIncremental, &full.ID, base.Add(time.Hour), 10)

	t.Run("full with parent rejected", func(t *testing.T) {
		err := h.chains.ValidateNewLink(ctx, h.serverID, models.BackupKindFull, &full.ID)
		if !errdefs.IsConflict(err) {
			t.Fatalf("err = %v, want conflict", err)
		}
	})

	t.Run("incremental on latest ok", func(t *testing.T) {
		if err := h.chains.ValidateNewLink(ctx, h.serverID, models.BackupKindIncremental, &inc1.ID); err != nil {
			t.Fatalf("ValidateNewLink: %v", err)
		}
	})

	t.Run("incremental on non-latest rejected", func(t *testing.T) {
		err := h.chains.ValidateNewLink(ctx, h.serverID, models.BackupKindIncremental, &full.ID)
		if !errdefs.IsConflict(err) {
			t.Fatalf("err = %v, want conflict", err)
		}
	})

	t.Run("differential off full ok", func(t *testing.T) {
		if err := h.chains.ValidateNewLink(ctx, h.serverID, models.BackupKindDifferential, &full.ID); err != nil {
			t.Fatalf("ValidateNewLink: %v", err)
		}
	})

	t.Run("differential off incremental rejected", func(t *testing.T) {
		err := h.chains.ValidateNewLink(ctx, h.serverID, models.BackupKindDifferential, &inc1.ID)
		if !errdefs.IsConflict(err) {
			t.Fatalf("err = %v, want conflict", err)
		}
	})
}

func TestValidateNewLinkDepthCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chains := NewChainManager(h.store, 3, zerolog.Nop())
	base := h.clk.Now()

	full := h.seedCompleted(t, models.BackupKindFull, nil, base, 100)
	inc1 := h.seedCompleted(t, models.BackupKindIncremental, &full.ID, base.Add(time.Hour), 10)
	inc2 := h.seedCompleted(t, models.BackupKindIncremental, &inc1.ID, base.Add(2*time.Hour), 10)

	err := chains.ValidateNewLink(ctx, h.serverID, models.BackupKindIncremental, &inc2.ID)
	if !errdefs.IsConflict(err) {
		t.Fatalf("err = %v, want conflict at depth cap", err)
	}
}

func TestResolveLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("incremental with no history falls back to full", func(t *testing.T) {
		kind, parentID, err := h.chains.ResolveLink(ctx, h.serverID, models.BackupKindIncremental)
		if err != nil {
			t.Fatalf("ResolveLink: %v", err)
		}
		if kind != models.BackupKindFull || parentID != nil {
			t.Fatalf("resolved (%s, %v), want (full, nil)", kind, parentID)
		}
	})

	base := h.clk.Now()
	full := h.seedCompleted(t, models.BackupKindFull, nil, base, 100)
	inc1 := h.seedCompleted(t, models.BackupKindIncremental, &full.ID, base.Add(time.Hour), 10)

	t.Run("incremental chains off latest", func(t *testing.T) {
		kind, parentID, err := h.chains.ResolveLink(ctx, h.serverID, models.BackupKindIncremental)
		if err != nil {
			t.Fatalf("ResolveLink: %v", err)
		}
		if kind != models.BackupKindIncremental || parentID == nil || *parentID != inc1.ID {
			t.Fatalf("resolved (%s, %v), want (incremental, %s)", kind, parentID, inc1.ID)
		}
	})

	t.Run("differential bases off last full despite newer incremental", func(t *testing.T) {
		kind, parentID, err := h.chains.ResolveLink(ctx, h.serverID, models.BackupKindDifferential)
		if err != nil {
			t.Fatalf("ResolveLink: %v", err)
		}
		if kind != models.BackupKindDifferential || parentID == nil || *parentID != full.ID {
			t.Fatalf("resolved (%s, %v), want (differential, %s)", kind, parentID, full.ID)
		}
	})

	t.Run("incremental at depth cap forces full", func(t *testing.T) {
		capped := NewChainManager(h.store, 2, zerolog.Nop())
		kind, parentID, err := capped.ResolveLink(ctx, h.serverID, models.BackupKindIncremental)
		if err != nil {
			t.Fatalf("ResolveLink: %v", err)
		}
		if kind != models.BackupKindFull || parentID != nil {
			t.Fatalf("resolved (%s, %v), want (full, nil)", kind, parentID)
		}
	})
}
