package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Activity types recorded by the orchestration layer.
const (
	ActivityContainerCreate  = "CONTAINER_CREATE"
	ActivityContainerStart   = "CONTAINER_START"
	ActivityContainerStop    = "CONTAINER_STOP"
	ActivityContainerRestart = "CONTAINER_RESTART"
	ActivityContainerDelete  = "CONTAINER_DELETE"
	ActivityImagePull        = "IMAGE_PULL"
	ActivityImageBuild       = "IMAGE_BUILD"
	ActivityImageDelete      = "IMAGE_DELETE"
	ActivityVolumeCreate     = "VOLUME_CREATE"
	ActivityVolumeDelete     = "VOLUME_DELETE"
	ActivityVolumeBackup     = "VOLUME_BACKUP"
	ActivityVolumeRestore    = "VOLUME_RESTORE"
	ActivityQuotaUpdate      = "QUOTA_UPDATE"
)

func (s *Store) InsertActivity(ctx context.Context, a Activity) (Activity, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO activities (id, type, description, user_id, metadata, ip_address, user_agent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, a.ID, a.Type, a.Description, a.UserID, marshalStringMap(a.Metadata), a.IPAddress, a.UserAgent, formatTime(a.CreatedAt))
	if err != nil {
		return Activity{}, err
	}
	return a, nil
}

// ListActivities pages newest-first. Empty userID returns all users' entries
// (admin view).
func (s *Store) ListActivities(ctx context.Context, userID string, before time.Time, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Hour)
	}

	query := `SELECT id, type, description, user_id, metadata, ip_address, user_agent, created_at FROM activities WHERE created_at < ?`
	args := []interface{}{formatTime(before)}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Activity{}
	for rows.Next() {
		var a Activity
		var metadata, createdAt string
		if err := rows.Scan(&a.ID, &a.Type, &a.Description, &a.UserID, &metadata, &a.IPAddress, &a.UserAgent, &createdAt); err != nil {
			return nil, scanErr("activity", err)
		}
		a.Metadata = unmarshalStringMap(metadata)
		a.CreatedAt = parseTime(createdAt)
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *Store) CountActivitiesByUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM activities WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
