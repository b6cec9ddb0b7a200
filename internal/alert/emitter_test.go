package alert

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"dockerflow/internal/db"
	"dockerflow/internal/store"
)

func newTestEmitter(t *testing.T) (*Emitter, *store.Store) {
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
	return New(st, nil, nil), st
}

func TestEvaluateFiresAboveThreshold(t *testing.T) {
	ctx := context.Background()
	emitter, st := newTestEmitter(t)

	q := store.DefaultQuota("alice", "free")
	q.CPUThreshold = 80
	if err := st.PutQuota(ctx, q); err != nil {
		t.Fatalf("put quota: %v", err)
	}

	a, fired, err := emitter.Evaluate(ctx, "alice", MetricCPU, 91.0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !fired {
		t.Fatalf("expected alert above threshold")
	}
	if a.Status != store.AlertStatusPending || a.Severity != store.AlertSeverityWarning {
		t.Fatalf("unexpected alert record: %+v", a)
	}
	if a.Type != TypeCPUUsage {
		t.Fatalf("unexpected alert type %q", a.Type)
	}
	if !strings.Contains(a.Message, "91.0%") || !strings.Contains(a.Message, "80%") {
		t.Fatalf("message must carry observed and threshold values: %q", a.Message)
	}
}

func TestEvaluateAtThresholdDoesNotFire(t *testing.T) {
	ctx := context.Background()
	emitter, st := newTestEmitter(t)

	q := store.DefaultQuota("alice", "free")
	q.MemoryThreshold = 80
	if err := st.PutQuota(ctx, q); err != nil {
		t.Fatalf("put quota: %v", err)
	}

	if _, fired, err := emitter.Evaluate(ctx, "alice", MetricMemory, 80.0); err != nil || fired {
		t.Fatalf("threshold equality must not fire: fired=%v err=%v", fired, err)
	}
	alerts, err := st.ListAlerts(ctx, "alice", "")
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestRepeatedEvaluationsFireRepeatedly(t *testing.T) {
	ctx := context.Background()
	emitter, st := newTestEmitter(t)

	for i := 0; i < 3; i++ {
		if _, fired, err := emitter.Evaluate(ctx, "alice", MetricCPU, 95.0); err != nil || !fired {
			t.Fatalf("evaluate %d: fired=%v err=%v", i, fired, err)
		}
	}
	alerts, err := st.ListAlerts(ctx, "alice", store.AlertStatusPending)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected 3 pending alerts, got %d", len(alerts))
	}
}

func TestEvaluateStatsChecksBothMetrics(t *testing.T) {
	ctx := context.Background()
	emitter, st := newTestEmitter(t)

	q := store.DefaultQuota("alice", "free")
	q.CPUThreshold = 50
	q.MemoryThreshold = 90
	if err := st.PutQuota(ctx, q); err != nil {
		t.Fatalf("put quota: %v", err)
	}

	fired, err := emitter.EvaluateStats(ctx, "alice", 60.0, 70.0)
	if err != nil {
		t.Fatalf("evaluate stats: %v", err)
	}
	if len(fired) != 1 || fired[0].Type != TypeCPUUsage {
		t.Fatalf("expected only the cpu alert, got %+v", fired)
	}
}
