package docker

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
)

func TestStreamProgressNormalizesEngineStream(t *testing.T) {
	raw := strings.Join([]string{
		`{"status":"Pulling from library/nginx","id":"latest"}`,
		`{"status":"Downloading","progress":"[=====>    ] 12MB/24MB","id":"aaa"}`,
		`{"stream":"Step 1/3 : FROM alpine\n"}`,
		`{"aux":{"ID":"sha256:abc"}}`,
	}, "\n")

	var out bytes.Buffer
	engineErr, err := StreamProgress(&out, strings.NewReader(raw))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if engineErr != "" {
		t.Fatalf("unexpected engine error: %q", engineErr)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 forwarded lines, got %d: %q", len(lines), out.String())
	}
	var second ProgressLine
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if second.Status != "Downloading" || second.Progress == "" {
		t.Fatalf("unexpected line: %+v", second)
	}
	var third ProgressLine
	if err := json.Unmarshal([]byte(lines[2]), &third); err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if !strings.HasPrefix(third.Status, "Step 1/3") {
		t.Fatalf("build stream text not forwarded as status: %+v", third)
	}
}

func TestStreamProgressSurfacesEngineError(t *testing.T) {
	raw := strings.Join([]string{
		`{"status":"Pulling from library/nope"}`,
		`{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}`,
	}, "\n")

	var out bytes.Buffer
	engineErr, err := StreamProgress(&out, strings.NewReader(raw))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if engineErr != "manifest unknown" {
		t.Fatalf("expected engine error captured, got %q", engineErr)
	}
	if !strings.Contains(out.String(), `"error":"manifest unknown"`) {
		t.Fatalf("error line not forwarded: %q", out.String())
	}
}

func TestNormalizeImageRef(t *testing.T) {
	cases := map[string]string{
		"nginx":               "docker.io/library/nginx:latest",
		"nginx:1.27":          "docker.io/library/nginx:1.27",
		"ghcr.io/acme/api":    "ghcr.io/acme/api:latest",
		"acme/api:v2":         "docker.io/acme/api:v2",
		"localhost:5000/tool": "localhost:5000/tool:latest",
	}
	for in, want := range cases {
		got, err := NormalizeImageRef(in)
		if err != nil {
			t.Errorf("%s: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}

	if _, err := NormalizeImageRef("UPPER/Case"); err == nil {
		t.Errorf("expected error for invalid reference")
	}
}

func TestCPUPercent(t *testing.T) {
	var stats container.StatsResponse
	stats.CPUStats.CPUUsage.TotalUsage = 400
	stats.PreCPUStats.CPUUsage.TotalUsage = 200
	stats.CPUStats.SystemUsage = 1000
	stats.PreCPUStats.SystemUsage = 600
	stats.CPUStats.OnlineCPUs = 2

	// (200/400) * 2 cpus * 100 = 100%
	if got := CPUPercent(stats); got != 100.0 {
		t.Fatalf("expected 100%%, got %v", got)
	}

	var idle container.StatsResponse
	if got := CPUPercent(idle); got != 0 {
		t.Fatalf("expected 0%% without deltas, got %v", got)
	}
}

func TestMemoryPercentExcludesInactiveFile(t *testing.T) {
	var stats container.StatsResponse
	stats.MemoryStats.Usage = 600
	stats.MemoryStats.Limit = 1000
	stats.MemoryStats.Stats = map[string]uint64{"inactive_file": 100}

	if got := MemoryPercent(stats); got != 50.0 {
		t.Fatalf("expected 50%%, got %v", got)
	}

	var unlimited container.StatsResponse
	if got := MemoryPercent(unlimited); got != 0 {
		t.Fatalf("expected 0%% without a limit, got %v", got)
	}
}
