package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one recorded intake, reported by the dispenser after the
// patient takes (or the device dispenses) a dose.
type HistoryEntry struct {
	ID            string `json:"id"`
	MedicineName  string `json:"medicine_name"`
	ContainerID   int    `json:"container_id"`
	Quantity      int    `json:"quantity"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	ScheduledDays string `json:"scheduled_days,omitempty"`
	DatetimeTaken string `json:"datetime_taken,omitempty"`
	TimeTaken     string `json:"time_taken,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// AppendHistory stores one intake record and returns its generated id.
func (s *Store) AppendHistory(ctx context.Context, deviceID string, h HistoryEntry) (string, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt == "" {
		h.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, device_id, medicine_name, container_id, quantity,
		                      scheduled_time, scheduled_days, datetime_taken, time_taken, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		h.ID, deviceID, h.MedicineName, h.ContainerID, h.Quantity,
		h.ScheduledTime, h.ScheduledDays, h.DatetimeTaken, h.TimeTaken, h.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	return h.ID, nil
}

// ListHistory returns a device's intake records, newest first.
func (s *Store) ListHistory(ctx context.Context, deviceID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, medicine_name, container_id, quantity,
		        COALESCE(scheduled_time,''), COALESCE(scheduled_days,''),
		        COALESCE(datetime_taken,''), COALESCE(time_taken,''), created_at
		 FROM history WHERE device_id = ? ORDER BY created_at DESC`,
		deviceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.MedicineName, &h.ContainerID, &h.Quantity,
			&h.ScheduledTime, &h.ScheduledDays, &h.DatetimeTaken, &h.TimeTaken, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) GetHistory(ctx context.Context, deviceID, id string) (HistoryEntry, error) {
	var h HistoryEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, medicine_name, container_id, quantity,
		        COALESCE(scheduled_time,''), COALESCE(scheduled_days,''),
		        COALESCE(datetime_taken,''), COALESCE(time_taken,''), created_at
		 FROM history WHERE device_id = ? AND id = ?`,
		deviceID, id,
	).Scan(&h.ID, &h.MedicineName, &h.ContainerID, &h.Quantity,
		&h.ScheduledTime, &h.ScheduledDays, &h.DatetimeTaken, &h.TimeTaken, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, ErrNotFound
	}
	return h, err
}

func (s *Store) DeleteHistory(ctx context.Context, deviceID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE device_id = ? AND id = ?`, deviceID, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllHistory clears a device's intake log and reports how many rows went
// away.
func (s *Store) DeleteAllHistory(ctx context.Context, deviceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE device_id = ?`, deviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneHistory deletes intake records older than the given number of days.
func (s *Store) PruneHistory(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		days = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
