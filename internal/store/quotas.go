package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/docker/go-units"
)

// DefaultQuota returns the registration-time quota for an account tier.
// Unknown tiers get the free tier.
func DefaultQuota(userID, tier string) Quota {
	q := Quota{
		UserID:           userID,
		CPULimit:         1000,
		MemoryLimit:      1 * units.GiB,
		StorageLimit:     5 * units.GiB,
		CPUThreshold:     80,
		MemoryThreshold:  80,
		StorageThreshold: 90,
	}
	switch tier {
	case "pro":
		q.CPULimit = 4000
		q.MemoryLimit = 8 * units.GiB
		q.StorageLimit = 50 * units.GiB
	case "business":
		q.CPULimit = 16000
		q.MemoryLimit = 32 * units.GiB
		q.StorageLimit = 500 * units.GiB
	}
	return q
}

func (s *Store) GetQuota(ctx context.Context, userID string) (Quota, bool, error) {
	var q Quota
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
SELECT user_id, cpu_limit, memory_limit, storage_limit, cpu_threshold, memory_threshold, storage_threshold, updated_at
FROM quotas WHERE user_id = ?
`, userID).Scan(&q.UserID, &q.CPULimit, &q.MemoryLimit, &q.StorageLimit, &q.CPUThreshold, &q.MemoryThreshold, &q.StorageThreshold, &updatedAt)
	if err == sql.ErrNoRows {
		return Quota{}, false, nil
	}
	if err != nil {
		return Quota{}, false, scanErr("quota", err)
	}
	q.UpdatedAt = parseTime(updatedAt)
	return q, true, nil
}

func (s *Store) PutQuota(ctx context.Context, q Quota) error {
	q.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO quotas (user_id, cpu_limit, memory_limit, storage_limit, cpu_threshold, memory_threshold, storage_threshold, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  cpu_limit=excluded.cpu_limit,
  memory_limit=excluded.memory_limit,
  storage_limit=excluded.storage_limit,
  cpu_threshold=excluded.cpu_threshold,
  memory_threshold=excluded.memory_threshold,
  storage_threshold=excluded.storage_threshold,
  updated_at=excluded.updated_at
`, q.UserID, q.CPULimit, q.MemoryLimit, q.StorageLimit, q.CPUThreshold, q.MemoryThreshold, q.StorageThreshold, formatTime(q.UpdatedAt))
	return err
}
