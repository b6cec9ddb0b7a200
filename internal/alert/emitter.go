// Package alert turns observed resource usage into persisted alert records
// and pushes them out to notification channels.
package alert

import (
	"context"
	"fmt"
	"log"

	"dockerflow/internal/notify"
	"dockerflow/internal/store"
)

type Metric string

const (
	MetricCPU     Metric = "cpu"
	MetricMemory  Metric = "memory"
	MetricStorage Metric = "storage"
)

const (
	TypeCPUUsage     = "CPU_USAGE"
	TypeMemoryUsage  = "MEMORY_USAGE"
	TypeStorageUsage = "STORAGE_USAGE"
)

// Publisher receives newly fired alerts for live dashboard updates.
type Publisher interface {
	PublishAlert(ctx context.Context, a store.Alert)
}

// Emitter compares observed usage against the owner's quota thresholds.
// Every evaluation above a threshold fires a fresh alert; repeated
// evaluations fire repeated alerts.
type Emitter struct {
	store     *store.Store
	telegram  *notify.Telegram
	publisher Publisher
}

func New(st *store.Store, telegram *notify.Telegram, publisher Publisher) *Emitter {
	return &Emitter{store: st, telegram: telegram, publisher: publisher}
}

// Evaluate fires one alert when observed strictly exceeds the owner's
// threshold for the metric. Observed at exactly the threshold does not fire.
func (e *Emitter) Evaluate(ctx context.Context, ownerID string, metric Metric, observed float64) (store.Alert, bool, error) {
	quota, ok, err := e.store.GetQuota(ctx, ownerID)
	if err != nil {
		return store.Alert{}, false, err
	}
	if !ok {
		quota = store.DefaultQuota(ownerID, "free")
	}

	var threshold int
	var alertType, label string
	switch metric {
	case MetricCPU:
		threshold, alertType, label = quota.CPUThreshold, TypeCPUUsage, "CPU"
	case MetricMemory:
		threshold, alertType, label = quota.MemoryThreshold, TypeMemoryUsage, "Memory"
	case MetricStorage:
		threshold, alertType, label = quota.StorageThreshold, TypeStorageUsage, "Storage"
	default:
		return store.Alert{}, false, fmt.Errorf("unknown metric %q", metric)
	}

	if observed <= float64(threshold) {
		return store.Alert{}, false, nil
	}

	a, err := e.store.InsertAlert(ctx, store.Alert{
		Type:     alertType,
		Severity: store.AlertSeverityWarning,
		Title:    fmt.Sprintf("High %s usage", label),
		Message:  fmt.Sprintf("%s usage at %.1f%% exceeds the %d%% threshold", label, observed, threshold),
		UserID:   ownerID,
		Status:   store.AlertStatusPending,
	})
	if err != nil {
		return store.Alert{}, false, err
	}

	// Delivery is best-effort. The persisted record is the source of
	// truth; a failed push never fails the evaluation.
	if err := e.telegram.SendAlert(ctx, a); err != nil {
		log.Printf("alert: telegram send: %v", err)
	}
	if e.publisher != nil {
		e.publisher.PublishAlert(ctx, a)
	}
	return a, true, nil
}

// EvaluateStats checks one container stats sample against both runtime
// thresholds and returns whatever fired.
func (e *Emitter) EvaluateStats(ctx context.Context, ownerID string, cpuPercent, memoryPercent float64) ([]store.Alert, error) {
	var fired []store.Alert
	for _, check := range []struct {
		metric   Metric
		observed float64
	}{
		{MetricCPU, cpuPercent},
		{MetricMemory, memoryPercent},
	} {
		a, ok, err := e.Evaluate(ctx, ownerID, check.metric, check.observed)
		if err != nil {
			return fired, err
		}
		if ok {
			fired = append(fired, a)
		}
	}
	return fired, nil
}
