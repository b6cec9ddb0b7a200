package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const volumeCols = `id, name, driver, mountpoint, size, owner_id, created_at, deleted_at`

func scanVolume(row interface {
	Scan(dest ...interface{}) error
}) (Volume, error) {
	var v Volume
	var createdAt string
	var deletedAt sql.NullString
	if err := row.Scan(&v.ID, &v.Name, &v.Driver, &v.Mountpoint, &v.Size, &v.OwnerID, &createdAt, &deletedAt); err != nil {
		return Volume{}, err
	}
	v.CreatedAt = parseTime(createdAt)
	if deletedAt.Valid {
		v.DeletedAt = parseTime(deletedAt.String)
	}
	return v, nil
}

func (s *Store) InsertVolume(ctx context.Context, v Volume) (Volume, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO volumes (`+volumeCols+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, v.ID, v.Name, v.Driver, v.Mountpoint, v.Size, v.OwnerID, formatTime(v.CreatedAt), nullTime(v.DeletedAt))
	if err != nil {
		return Volume{}, err
	}
	return v, nil
}

func (s *Store) GetVolume(ctx context.Context, id string) (Volume, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+volumeCols+` FROM volumes WHERE id = ?`, id)
	v, err := scanVolume(row)
	if err == sql.ErrNoRows {
		return Volume{}, false, nil
	}
	if err != nil {
		return Volume{}, false, scanErr("volume", err)
	}
	return v, true, nil
}

// GetVolumeByName resolves only live (untombstoned) volumes.
func (s *Store) GetVolumeByName(ctx context.Context, name string) (Volume, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+volumeCols+` FROM volumes WHERE name = ? AND deleted_at IS NULL`, name)
	v, err := scanVolume(row)
	if err == sql.ErrNoRows {
		return Volume{}, false, nil
	}
	if err != nil {
		return Volume{}, false, scanErr("volume", err)
	}
	return v, true, nil
}

func (s *Store) ListVolumesByOwner(ctx context.Context, ownerID string) ([]Volume, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+volumeCols+` FROM volumes WHERE owner_id = ? AND deleted_at IS NULL ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Volume{}
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, scanErr("volume", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// SoftDeleteVolume tombstones the record; backups referencing it survive.
func (s *Store) SoftDeleteVolume(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE volumes SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, formatTime(time.Now().UTC()), id)
	return err
}

func (s *Store) UpdateVolumeSize(ctx context.Context, id string, size int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE volumes SET size = ? WHERE id = ?`, size, id)
	return err
}

func (s *Store) SumVolumeSizeByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM volumes WHERE owner_id = ? AND deleted_at IS NULL`, ownerID).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (s *Store) InsertVolumeBackup(ctx context.Context, b VolumeBackup) (VolumeBackup, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO volume_backups (id, volume_id, user_id, path, size, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, b.ID, b.VolumeID, b.UserID, b.Path, b.Size, formatTime(b.CreatedAt))
	if err != nil {
		return VolumeBackup{}, err
	}
	return b, nil
}

func (s *Store) GetVolumeBackup(ctx context.Context, id string) (VolumeBackup, bool, error) {
	var b VolumeBackup
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, volume_id, user_id, path, size, created_at FROM volume_backups WHERE id = ?`, id).Scan(&b.ID, &b.VolumeID, &b.UserID, &b.Path, &b.Size, &createdAt)
	if err == sql.ErrNoRows {
		return VolumeBackup{}, false, nil
	}
	if err != nil {
		return VolumeBackup{}, false, scanErr("volume backup", err)
	}
	b.CreatedAt = parseTime(createdAt)
	return b, true, nil
}

func (s *Store) ListVolumeBackups(ctx context.Context, volumeID string) ([]VolumeBackup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, volume_id, user_id, path, size, created_at FROM volume_backups WHERE volume_id = ? ORDER BY created_at DESC`, volumeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []VolumeBackup{}
	for rows.Next() {
		var b VolumeBackup
		var createdAt string
		if err := rows.Scan(&b.ID, &b.VolumeID, &b.UserID, &b.Path, &b.Size, &createdAt); err != nil {
			return nil, scanErr("volume backup", err)
		}
		b.CreatedAt = parseTime(createdAt)
		items = append(items, b)
	}
	return items, rows.Err()
}

func (s *Store) SumBackupSizeByUser(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM volume_backups WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}
