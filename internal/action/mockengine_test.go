package action

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"dockerflow/internal/db"
	"dockerflow/internal/docker"
	"dockerflow/internal/store"
)

// mockEngine is a minimal Docker Engine API server for lifecycle calls.
// Inspect responses are served per container id in sequence; the last one
// repeats once the queue is drained.
type mockEngine struct {
	mu       sync.Mutex
	inspects map[string][]string
	next     map[string]int
	calls    map[string]int
	gone     map[string]bool

	httpServer *http.Server
	listener   net.Listener
}

func newMockEngine(t *testing.T) *mockEngine {
	t.Helper()
	m := &mockEngine{
		inspects: make(map[string][]string),
		next:     make(map[string]int),
		calls:    make(map[string]int),
		gone:     make(map[string]bool),
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m.listener = listener
	m.httpServer = &http.Server{Handler: http.HandlerFunc(m.handle)}
	go func() {
		_ = m.httpServer.Serve(listener)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = m.httpServer.Shutdown(ctx)
		cancel()
		_ = listener.Close()
	})
	return m
}

func (m *mockEngine) Host() string {
	return "tcp://" + m.listener.Addr().String()
}

func (m *mockEngine) queueInspects(id string, statuses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, status := range statuses {
		m.inspects[id] = append(m.inspects[id],
			fmt.Sprintf(`{"Id":%q,"State":{"Status":%q,"Running":%v}}`, id, status, status == "running"))
	}
}

func (m *mockEngine) markGone(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gone[id] = true
}

func (m *mockEngine) callCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

var versionPrefix = regexp.MustCompile(`^/v[0-9]+\.[0-9]+`)

func (m *mockEngine) handle(w http.ResponseWriter, r *http.Request) {
	path := versionPrefix.ReplaceAllString(r.URL.Path, "")

	switch {
	case path == "/_ping":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))

	case strings.HasPrefix(path, "/containers/") && strings.HasSuffix(path, "/json"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/containers/"), "/json")
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gone[id] {
			m.writeNotFound(w, id)
			return
		}
		queue := m.inspects[id]
		if len(queue) == 0 {
			m.writeNotFound(w, id)
			return
		}
		idx := m.next[id]
		if idx >= len(queue) {
			idx = len(queue) - 1
		} else {
			m.next[id] = idx + 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(queue[idx]))

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/containers/"):
		parts := strings.Split(strings.TrimPrefix(path, "/containers/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		m.mu.Lock()
		m.calls[parts[1]+":"+parts[0]]++
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/containers/"):
		id := strings.TrimPrefix(path, "/containers/")
		m.mu.Lock()
		defer m.mu.Unlock()
		m.calls["remove:"+id]++
		if m.gone[id] {
			m.writeNotFound(w, id)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func (m *mockEngine) writeNotFound(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprintf(w, `{"message":"No such container: %s"}`, id)
}

type harness struct {
	mock         *mockEngine
	store        *store.Store
	orchestrator *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	mock := newMockEngine(t)
	engine, err := docker.NewEngine(mock.Host())
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

	return &harness{
		mock:         mock,
		store:        st,
		orchestrator: New(engine, st, nil, 10, 5*time.Millisecond, 5),
	}
}

func (h *harness) seedContainer(t *testing.T, dockerID string) store.Container {
	t.Helper()
	rec, err := h.store.InsertContainer(context.Background(), store.Container{
		DockerID: dockerID,
		Name:     "web",
		ImageRef: "docker.io/library/nginx:latest",
		Status:   "running",
		OwnerID:  "alice",
	})
	if err != nil {
		t.Fatalf("seed container: %v", err)
	}
	return rec
}
