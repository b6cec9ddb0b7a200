package docker

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
)

// ProgressLine is the wire format streamed to API callers during image pull
// and build: newline-delimited JSON, each line one of {status},
// {status,progress}, or {error}. A stream ending without an error line is
// still an ambiguous outcome; callers re-query actual state.
type ProgressLine struct {
	Status   string `json:"status,omitempty"`
	Progress string `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

// engine stream messages carry more fields than we forward
type rawProgress struct {
	Status      string `json:"status"`
	Stream      string `json:"stream"`
	Progress    string `json:"progress"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// StreamProgress normalizes an engine progress stream onto w, flushing after
// every line when w supports it. Returns the error line's message, if the
// engine reported one, so the caller can fail the request after the stream.
func StreamProgress(w io.Writer, r io.Reader) (string, error) {
	flusher, _ := w.(interface{ Flush() })
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	engineErr := ""

	for {
		var raw rawProgress
		if err := dec.Decode(&raw); err == io.EOF {
			break
		} else if err != nil {
			return engineErr, fmt.Errorf("decode progress: %w", err)
		}

		line := ProgressLine{Status: raw.Status, Progress: raw.Progress}
		if line.Status == "" {
			line.Status = raw.Stream
		}
		if raw.Error != "" {
			line = ProgressLine{Error: raw.Error}
			engineErr = raw.Error
		} else if raw.ErrorDetail.Message != "" {
			line = ProgressLine{Error: raw.ErrorDetail.Message}
			engineErr = raw.ErrorDetail.Message
		}
		if line == (ProgressLine{}) {
			continue
		}
		if err := enc.Encode(line); err != nil {
			return engineErr, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return engineErr, nil
}

// NormalizeImageRef expands short image names the way the engine does
// (nginx -> docker.io/library/nginx:latest).
func NormalizeImageRef(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return reference.TagNameOnly(named).String(), nil
}

func decodeStats(r io.Reader) (container.StatsResponse, error) {
	var stats container.StatsResponse
	if err := json.NewDecoder(r).Decode(&stats); err != nil {
		return container.StatsResponse{}, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

// CPUPercent derives a percentage from a one-shot stats sample using the
// delta between the sample and its precpu snapshot.
func CPUPercent(stats container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return cpuDelta / systemDelta * onlineCPUs * 100
}

// MemoryPercent follows the docker CLI: usage minus inactive file cache over
// the limit.
func MemoryPercent(stats container.StatsResponse) float64 {
	if stats.MemoryStats.Limit == 0 {
		return 0
	}
	usage := float64(stats.MemoryStats.Usage)
	if cache, ok := stats.MemoryStats.Stats["inactive_file"]; ok && float64(cache) < usage {
		usage -= float64(cache)
	}
	return usage / float64(stats.MemoryStats.Limit) * 100
}
