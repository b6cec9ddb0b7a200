package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func scanAlert(row interface {
	Scan(dest ...interface{}) error
}) (Alert, error) {
	var a Alert
	var acknowledged int
	var acknowledgedBy sql.NullString
	var createdAt string
	if err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Title, &a.Message, &a.UserID, &acknowledged, &acknowledgedBy, &a.Status, &createdAt); err != nil {
		return Alert{}, err
	}
	a.Acknowledged = acknowledged == 1
	if acknowledgedBy.Valid {
		a.AcknowledgedBy = acknowledgedBy.String
	}
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func (s *Store) InsertAlert(ctx context.Context, a Alert) (Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AlertStatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (id, type, severity, title, message, user_id, acknowledged, acknowledged_by, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, a.ID, a.Type, a.Severity, a.Title, a.Message, a.UserID, boolToInt(a.Acknowledged), nullStr(a.AcknowledgedBy), a.Status, formatTime(a.CreatedAt))
	if err != nil {
		return Alert{}, err
	}
	return a, nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (Alert, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, severity, title, message, user_id, acknowledged, acknowledged_by, status, created_at FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return Alert{}, false, nil
	}
	if err != nil {
		return Alert{}, false, scanErr("alert", err)
	}
	return a, true, nil
}

// ListAlerts filters by user and optionally by status; empty status lists all.
func (s *Store) ListAlerts(ctx context.Context, userID, status string) ([]Alert, error) {
	query := `SELECT id, type, severity, title, message, user_id, acknowledged, acknowledged_by, status, created_at FROM alerts WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, scanErr("alert", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// AcknowledgeAlert is a side annotation, independent of status.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, byUserID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1, acknowledged_by = ? WHERE id = ?`, byUserID, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TransitionAlert enforces the PENDING -> {RESOLVED, DISMISSED} state machine.
func (s *Store) TransitionAlert(ctx context.Context, id, status string) (Alert, error) {
	if status != AlertStatusResolved && status != AlertStatusDismissed {
		return Alert{}, fmt.Errorf("invalid alert status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ? AND status = ?`, status, id, AlertStatusPending)
	if err != nil {
		return Alert{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Alert{}, err
	}
	if affected == 0 {
		return Alert{}, sql.ErrNoRows
	}
	a, _, err := s.GetAlert(ctx, id)
	return a, err
}

// PurgeAlerts is the admin bulk delete, the only way alert rows leave the
// table.
func (s *Store) PurgeAlerts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
