package reconcile

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"dockerflow/internal/db"
	"dockerflow/internal/docker"
	"dockerflow/internal/store"
)

// mockList serves container and volume listings the way the engine does.
type mockList struct {
	mu         sync.Mutex
	containers []map[string]interface{}
	volumes    []map[string]interface{}
	listener   net.Listener
}

var versionPrefix = regexp.MustCompile(`^/v[0-9]+\.[0-9]+`)

func newMockList(t *testing.T) *mockList {
	t.Helper()
	m := &mockList{}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m.listener = listener
	server := &http.Server{Handler: http.HandlerFunc(m.handle)}
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = server.Shutdown(ctx)
		cancel()
		_ = listener.Close()
	})
	return m
}

func (m *mockList) handle(w http.ResponseWriter, r *http.Request) {
	path := versionPrefix.ReplaceAllString(r.URL.Path, "")
	switch path {
	case "/_ping":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	case "/containers/json":
		m.mu.Lock()
		defer m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.containers)
	case "/volumes":
		m.mu.Lock()
		defer m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"Volumes": m.volumes, "Warnings": nil})
	default:
		http.NotFound(w, r)
	}
}

func (m *mockList) setContainers(items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers = items
}

func (m *mockList) setVolumes(items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes = items
}

func liveContainer(id, name, owner, state string) map[string]interface{} {
	item := map[string]interface{}{
		"Id":     id,
		"Names":  []string{"/" + name},
		"Image":  "docker.io/library/nginx:latest",
		"State":  state,
		"Status": "Up 2 minutes",
		"Ports": []map[string]interface{}{
			{"PrivatePort": 80, "PublicPort": 8080, "Type": "tcp"},
		},
	}
	if owner != "" {
		item["Labels"] = map[string]string{docker.OwnerLabel: owner}
	}
	return item
}

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *mockList) {
	t.Helper()
	ctx := context.Background()

	mock := newMockList(t)
	engine, err := docker.NewEngine("tcp://" + mock.listener.Addr().String())
	if err != nil {
		t.Fatalf("docker client: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

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

	return New(engine, st), st, mock
}

func TestReconcileUpsertsLiveAndDeletesStale(t *testing.T) {
	ctx := context.Background()
	rec, st, mock := newTestReconciler(t)

	stale, err := st.InsertContainer(ctx, store.Container{
		DockerID: "engine-gone",
		Name:     "old",
		OwnerID:  "alice",
		Status:   "running",
	})
	if err != nil {
		t.Fatalf("seed stale record: %v", err)
	}

	mock.setContainers(
		liveContainer("engine-live", "web", "alice", "running"),
		liveContainer("engine-foreign", "other", "bob", "running"),
	)

	summary, err := rec.Reconcile(ctx, "alice")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.Observed != 2 || summary.Upserted != 1 || summary.Deleted != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", summary.Errors)
	}

	if _, ok, _ := st.GetContainer(ctx, stale.ID); ok {
		t.Fatalf("stale record survived reconcile")
	}

	got, ok, err := st.GetContainerByDockerID(ctx, "engine-live")
	if err != nil || !ok {
		t.Fatalf("live record missing: ok=%v err=%v", ok, err)
	}
	if got.Name != "web" || got.Status != "running" || got.OwnerID != "alice" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Ports[8080] != 80 {
		t.Fatalf("expected port mapping 8080->80, got %v", got.Ports)
	}

	// Bob's container never lands in alice's records.
	if _, ok, _ := st.GetContainerByDockerID(ctx, "engine-foreign"); ok {
		t.Fatalf("foreign-owned container recorded for wrong owner")
	}
}

func TestReconcileAdoptsUnlabeledContainers(t *testing.T) {
	ctx := context.Background()
	rec, st, mock := newTestReconciler(t)

	mock.setContainers(liveContainer("engine-bare", "legacy", "", "exited"))

	summary, err := rec.Reconcile(ctx, "alice")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.Upserted != 1 {
		t.Fatalf("expected unlabeled container adopted, got %+v", summary)
	}
	got, ok, _ := st.GetContainerByDockerID(ctx, "engine-bare")
	if !ok || got.OwnerID != "alice" {
		t.Fatalf("expected caller ownership fallback, got %+v", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec, st, mock := newTestReconciler(t)

	mock.setContainers(liveContainer("engine-live", "web", "alice", "running"))

	if _, err := rec.Reconcile(ctx, "alice"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	first, _, _ := st.GetContainerByDockerID(ctx, "engine-live")

	if _, err := rec.Reconcile(ctx, "alice"); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	second, _, _ := st.GetContainerByDockerID(ctx, "engine-live")
	if first.ID != second.ID {
		t.Fatalf("reconcile churned record identity: %q -> %q", first.ID, second.ID)
	}

	records, err := st.ListContainersByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single record, got %d", len(records))
	}
}

func TestReconcileVolumesTombstonesMissing(t *testing.T) {
	ctx := context.Background()
	rec, st, mock := newTestReconciler(t)

	gone, err := st.InsertVolume(ctx, store.Volume{Name: "gone", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("seed volume: %v", err)
	}
	mock.setVolumes(map[string]interface{}{
		"Name":       "data",
		"Driver":     "local",
		"Mountpoint": "/var/lib/docker/volumes/data/_data",
		"Labels":     map[string]string{docker.OwnerLabel: "alice"},
	})

	summary, err := rec.ReconcileVolumes(ctx, "alice")
	if err != nil {
		t.Fatalf("reconcile volumes: %v", err)
	}
	if summary.Upserted != 1 || summary.Deleted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if _, ok, _ := st.GetVolumeByName(ctx, "data"); !ok {
		t.Fatalf("live volume not recorded")
	}
	got, ok, _ := st.GetVolume(ctx, gone.ID)
	if !ok || !got.Deleted() {
		t.Fatalf("missing volume not tombstoned: %+v", got)
	}
}
