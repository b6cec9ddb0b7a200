package quota

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"dockerflow/internal/apperr"
	"dockerflow/internal/db"
	"dockerflow/internal/store"
)

func newTestEnforcer(t *testing.T) (*Enforcer, *store.Store) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "dockerflow.db")
	dbConn, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbConn.Close() })
	if err := dbConn.Migrate(ctx); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	st := store.New(dbConn.SQL)
	return New(st), st
}

func TestCPULimitBoundary(t *testing.T) {
	ctx := context.Background()
	enforcer, st := newTestEnforcer(t)

	q := store.DefaultQuota("alice", "free")
	q.CPULimit = 1000
	if err := st.PutQuota(ctx, q); err != nil {
		t.Fatalf("put quota: %v", err)
	}
	if _, err := st.InsertContainer(ctx, store.Container{Name: "a", OwnerID: "alice", CPULimit: 600}); err != nil {
		t.Fatalf("insert container: %v", err)
	}

	// 600 used + 400 requested lands exactly on the limit and is allowed.
	decision, err := enforcer.CheckAndReserve(ctx, "alice", KindCPU, 400)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected exact-limit request allowed, denied: %s", decision.Reason)
	}

	decision, err = enforcer.CheckAndReserve(ctx, "alice", KindCPU, 401)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected over-limit request denied")
	}
	if !strings.Contains(decision.Reason, "CPU limit exceeded") {
		t.Fatalf("unexpected denial reason: %q", decision.Reason)
	}

	err = enforcer.Require(ctx, "alice", KindCPU, 401)
	if apperr.KindOf(err) != apperr.KindQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
}

func TestStorageCountsVolumesAndBackups(t *testing.T) {
	ctx := context.Background()
	enforcer, st := newTestEnforcer(t)

	q := store.DefaultQuota("alice", "free")
	q.StorageLimit = 100
	if err := st.PutQuota(ctx, q); err != nil {
		t.Fatalf("put quota: %v", err)
	}

	vol, err := st.InsertVolume(ctx, store.Volume{Name: "data", OwnerID: "alice", Size: 60})
	if err != nil {
		t.Fatalf("insert volume: %v", err)
	}
	if _, err := st.InsertVolumeBackup(ctx, store.VolumeBackup{VolumeID: vol.ID, UserID: "alice", Path: "/b/x", Size: 30}); err != nil {
		t.Fatalf("insert backup: %v", err)
	}

	decision, err := enforcer.CheckAndReserve(ctx, "alice", KindStorage, 10)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !decision.Allowed || decision.Current != 90 {
		t.Fatalf("expected 90 used and allowed, got %+v", decision)
	}
	decision, _ = enforcer.CheckAndReserve(ctx, "alice", KindStorage, 11)
	if decision.Allowed {
		t.Fatalf("expected denial above combined usage")
	}

	// Tombstoned volumes stop counting; their backups still count.
	if err := st.SoftDeleteVolume(ctx, vol.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	decision, _ = enforcer.CheckAndReserve(ctx, "alice", KindStorage, 70)
	if !decision.Allowed || decision.Current != 30 {
		t.Fatalf("expected 30 used after tombstone, got %+v", decision)
	}
}

func TestMissingQuotaRowFallsBackToFreeTier(t *testing.T) {
	ctx := context.Background()
	enforcer, _ := newTestEnforcer(t)

	free := store.DefaultQuota("ghost", "free")
	decision, err := enforcer.CheckAndReserve(ctx, "ghost", KindMemory, free.MemoryLimit)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !decision.Allowed || decision.Limit != free.MemoryLimit {
		t.Fatalf("expected free-tier limit %d, got %+v", free.MemoryLimit, decision)
	}
	decision, _ = enforcer.CheckAndReserve(ctx, "ghost", KindMemory, free.MemoryLimit+1)
	if decision.Allowed {
		t.Fatalf("expected denial past free-tier limit")
	}
}
