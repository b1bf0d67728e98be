package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medichine/internal/dispense/match"
)

// Schedule is one configured dose as stored. Days is the comma-separated
// canonical token list ("Mon,Wed,Fri"), the format the dispenser app writes.
type Schedule struct {
	ID          int64  `json:"id"`
	ContainerID int    `json:"container_id"`
	Name        string `json:"name"`
	Time        string `json:"time"`
	Days        string `json:"days"`
	Quantity    int    `json:"quantity"`
}

// Entry converts the stored row to a matcher entry.
func (sc Schedule) Entry() match.Entry {
	return match.Entry{
		ID:          sc.ID,
		ContainerID: sc.ContainerID,
		Name:        sc.Name,
		TimeOfDay:   sc.Time,
		Days:        splitDays(sc.Days),
		Quantity:    sc.Quantity,
	}
}

func splitDays(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeSchedule canonicalizes the time label and day tokens on the write
// path, mirroring what the app sends; a time that does not parse is rejected.
func normalizeSchedule(sc *Schedule) error {
	t, err := match.CanonicalTime(sc.Time)
	if err != nil {
		return err
	}
	sc.Time = t
	sc.Days = strings.Join(match.CanonicalDays(splitDays(sc.Days)), ",")
	if sc.ContainerID <= 0 {
		return fmt.Errorf("container_id must be positive")
	}
	if sc.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	return nil
}

// SaveSchedule inserts a new schedule (multiple schedules per container are
// allowed; saving never updates in place) and returns the new id.
func (s *Store) SaveSchedule(ctx context.Context, deviceID string, sc Schedule) (int64, error) {
	if err := normalizeSchedule(&sc); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (device_id, container_id, name, time, days, quantity)
		 VALUES (?,?,?,?,?,?)`,
		deviceID, sc.ContainerID, sc.Name, sc.Time, sc.Days, sc.Quantity,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetSchedule(ctx context.Context, deviceID string, id int64) (Schedule, error) {
	var sc Schedule
	err := s.db.QueryRowContext(ctx,
		`SELECT id, container_id, name, time, days, quantity
		 FROM schedules WHERE device_id = ? AND id = ?`,
		deviceID, id,
	).Scan(&sc.ID, &sc.ContainerID, &sc.Name, &sc.Time, &sc.Days, &sc.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	return sc, err
}

// UpdateSchedule rewrites an existing schedule. A zero ContainerID keeps the
// stored container.
func (s *Store) UpdateSchedule(ctx context.Context, deviceID string, id int64, sc Schedule) error {
	if sc.ContainerID == 0 {
		existing, err := s.GetSchedule(ctx, deviceID, id)
		if err != nil {
			return err
		}
		sc.ContainerID = existing.ContainerID
	}
	if err := normalizeSchedule(&sc); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET container_id = ?, name = ?, time = ?, days = ?, quantity = ?
		 WHERE device_id = ? AND id = ?`,
		sc.ContainerID, sc.Name, sc.Time, sc.Days, sc.Quantity, deviceID, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, deviceID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE device_id = ? AND id = ?`, deviceID, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteContainerSchedules removes every schedule on one container and reports
// how many went away.
func (s *Store) DeleteContainerSchedules(ctx context.Context, deviceID string, containerID int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE device_id = ? AND container_id = ?`, deviceID, containerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListContainerSchedules(ctx context.Context, deviceID string, containerID int) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, container_id, name, time, days, quantity
		 FROM schedules WHERE device_id = ? AND container_id = ? ORDER BY time ASC`,
		deviceID, containerID,
	)
	if err != nil {
		return nil, err
	}
	return scanSchedules(rows)
}

func (s *Store) ListAllSchedules(ctx context.Context, deviceID string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, container_id, name, time, days, quantity
		 FROM schedules WHERE device_id = ? ORDER BY container_id, time ASC`,
		deviceID,
	)
	if err != nil {
		return nil, err
	}
	return scanSchedules(rows)
}

// ListEntries returns the device's schedules as matcher entries; this is the
// engine's repository read.
func (s *Store) ListEntries(ctx context.Context, deviceID string) ([]match.Entry, error) {
	scs, err := s.ListAllSchedules(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	entries := make([]match.Entry, 0, len(scs))
	for _, sc := range scs {
		entries = append(entries, sc.Entry())
	}
	return entries, nil
}

func scanSchedules(rows *sql.Rows) ([]Schedule, error) {
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.ContainerID, &sc.Name, &sc.Time, &sc.Days, &sc.Quantity); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
