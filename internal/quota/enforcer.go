// Package quota enforces per-user resource budgets before any
// resource-creating action. The check is not atomic with the creation that
// follows it; concurrent requests from one user can race past the limit and
// that gap is accepted.
package quota

import (
	"context"
	"fmt"

	"dockerflow/internal/apperr"
	"dockerflow/internal/store"

	"github.com/docker/go-units"
)

type Kind string

const (
	KindStorage Kind = "storage" // bytes
	KindCPU     Kind = "cpu"     // millicores, 1000 = 1 core
	KindMemory  Kind = "memory"  // bytes
)

type Decision struct {
	Allowed   bool
	Reason    string
	Current   int64
	Requested int64
	Limit     int64
}

type Enforcer struct {
	store *store.Store
}

func New(st *store.Store) *Enforcer {
	return &Enforcer{store: st}
}

// CheckAndReserve compares current usage plus the request against the
// owner's limit. Exactly reaching the limit is allowed; exceeding it is not.
// Users without a quota row get free-tier defaults.
func (e *Enforcer) CheckAndReserve(ctx context.Context, ownerID string, kind Kind, requested int64) (Decision, error) {
	q, ok, err := e.store.GetQuota(ctx, ownerID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		q = store.DefaultQuota(ownerID, "free")
	}

	var current, limit int64
	switch kind {
	case KindStorage:
		volumes, err := e.store.SumVolumeSizeByOwner(ctx, ownerID)
		if err != nil {
			return Decision{}, err
		}
		backups, err := e.store.SumBackupSizeByUser(ctx, ownerID)
		if err != nil {
			return Decision{}, err
		}
		current, limit = volumes+backups, q.StorageLimit
	case KindCPU:
		current, err = e.store.SumContainerCPUByOwner(ctx, ownerID)
		if err != nil {
			return Decision{}, err
		}
		limit = q.CPULimit
	case KindMemory:
		current, err = e.store.SumContainerMemoryByOwner(ctx, ownerID)
		if err != nil {
			return Decision{}, err
		}
		limit = q.MemoryLimit
	default:
		return Decision{}, fmt.Errorf("unknown quota kind %q", kind)
	}

	decision := Decision{Current: current, Requested: requested, Limit: limit}
	if current+requested > limit {
		decision.Reason = denyReason(kind, current, requested, limit)
		return decision, nil
	}
	decision.Allowed = true
	return decision, nil
}

// Require turns a denial into the error the API surfaces.
func (e *Enforcer) Require(ctx context.Context, ownerID string, kind Kind, requested int64) error {
	decision, err := e.CheckAndReserve(ctx, ownerID, kind, requested)
	if err != nil {
		return apperr.Wrap(apperr.KindRuntime, err)
	}
	if !decision.Allowed {
		return apperr.New(apperr.KindQuotaExceeded, "%s", decision.Reason)
	}
	return nil
}

func denyReason(kind Kind, current, requested, limit int64) string {
	switch kind {
	case KindCPU:
		return fmt.Sprintf("CPU limit exceeded: %dm used + %dm requested > %dm limit", current, requested, limit)
	case KindMemory:
		return fmt.Sprintf("Memory limit exceeded: %s used + %s requested > %s limit",
			units.BytesSize(float64(current)), units.BytesSize(float64(requested)), units.BytesSize(float64(limit)))
	default:
		return fmt.Sprintf("Storage limit exceeded: %s used + %s requested > %s limit",
			units.BytesSize(float64(current)), units.BytesSize(float64(requested)), units.BytesSize(float64(limit)))
	}
}
