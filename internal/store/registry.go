package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Registration outcome actions.
const (
	ActionRegistered  = "registered"
	ActionReactivated = "reactivated"
)

// RegisterResult mirrors the registration contract the companion app expects.
type RegisterResult struct {
	Success   bool   `json:"success"`
	Action    string `json:"action,omitempty"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// DeviceInfo describes one registered dispenser.
type DeviceInfo struct {
	DeviceID      string `json:"device_id"`
	OwnerEmail    string `json:"owner_email"`
	BackendURL    string `json:"backend_url,omitempty"`
	RegisteredAt  string `json:"registered_at"`
	LastConnected string `json:"last_connected"`
	IsActive      bool   `json:"is_active"`
}

// ConnectionEvent is one audit record of a registration/disconnect attempt.
type ConnectionEvent struct {
	Action  string `json:"action"`
	Email   string `json:"email"`
	At      string `json:"timestamp"`
	Success bool   `json:"success"`
	Notes   string `json:"notes,omitempty"`
}

// RegisterDevice binds a dispenser to an owner account. A device held by a
// different active owner is rejected; an inactive device is reactivated for
// the new owner; re-registration by the same owner refreshes the connection.
func (s *Store) RegisterDevice(ctx context.Context, deviceID, ownerEmail, backendURL string) (RegisterResult, error) {
	existing, err := s.DeviceOwner(ctx, deviceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return RegisterResult{}, err
	}
	if existing != "" && existing != ownerEmail {
		s.logConnection(ctx, deviceID, ownerEmail, "register_denied", false,
			fmt.Sprintf("device already owned by %s", maskEmail(existing)))
		return RegisterResult{
			Success:   false,
			Message:   "Access denied: this device is already registered to another account",
			ErrorCode: "DEVICE_ALREADY_REGISTERED",
		}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)

	var inactive int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_registrations WHERE device_id = ? AND is_active = 0`,
		deviceID,
	).Scan(&inactive)
	if err != nil {
		return RegisterResult{}, err
	}
	if inactive > 0 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE device_registrations
			 SET is_active = 1, owner_email = ?, last_connected = ?, backend_url = ?
			 WHERE device_id = ?`,
			ownerEmail, now, backendURL, deviceID,
		)
		if err != nil {
			return RegisterResult{}, err
		}
		s.logConnection(ctx, deviceID, ownerEmail, "reactivate", true, "device reactivated")
		return RegisterResult{Success: true, Action: ActionReactivated, Message: "Device reconnected successfully"}, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO device_registrations (device_id, owner_email, backend_url, registered_at, last_connected)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(device_id) DO UPDATE SET last_connected = excluded.last_connected, backend_url = excluded.backend_url`,
		deviceID, ownerEmail, backendURL, now, now,
	)
	if err != nil {
		s.logConnection(ctx, deviceID, ownerEmail, "register_error", false, err.Error())
		return RegisterResult{Success: false, Message: "Failed to register device", ErrorCode: "DATABASE_ERROR"}, nil
	}
	s.logConnection(ctx, deviceID, ownerEmail, "register", true, "device registered")
	return RegisterResult{Success: true, Action: ActionRegistered, Message: "Device registered successfully"}, nil
}

// IsDeviceRegistered reports whether the device is registered and active.
func (s *Store) IsDeviceRegistered(ctx context.Context, deviceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_registrations WHERE device_id = ? AND is_active = 1`,
		deviceID,
	).Scan(&n)
	return n > 0, err
}

// DeviceOwner returns the active owner's email, or ErrNotFound.
func (s *Store) DeviceOwner(ctx context.Context, deviceID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_email FROM device_registrations WHERE device_id = ? AND is_active = 1`,
		deviceID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

// DisconnectDevice marks a device inactive (never deletes). Only the active
// owner may disconnect.
func (s *Store) DisconnectDevice(ctx context.Context, deviceID, ownerEmail string) (RegisterResult, error) {
	owner, err := s.DeviceOwner(ctx, deviceID)
	if errors.Is(err, ErrNotFound) {
		return RegisterResult{Success: false, Message: "Device not found or already disconnected", ErrorCode: "DEVICE_NOT_FOUND"}, nil
	}
	if err != nil {
		return RegisterResult{}, err
	}
	if owner != ownerEmail {
		s.logConnection(ctx, deviceID, ownerEmail, "disconnect_denied", false,
			fmt.Sprintf("not owner; actual owner %s", maskEmail(owner)))
		return RegisterResult{Success: false, Message: "Access denied: you don't own this device", ErrorCode: "NOT_OWNER"}, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE device_registrations SET is_active = 0 WHERE device_id = ?`, deviceID)
	if err != nil {
		return RegisterResult{}, err
	}
	s.logConnection(ctx, deviceID, ownerEmail, "disconnect", true, "device disconnected")
	return RegisterResult{Success: true, Message: "Device disconnected successfully"}, nil
}

// TouchDevice refreshes the last-connected timestamp.
func (s *Store) TouchDevice(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE device_registrations SET last_connected = ? WHERE device_id = ?`,
		time.Now().UTC().Format(time.RFC3339), deviceID)
	return err
}

// UserDevices lists a user's active dispensers, most recently connected first.
func (s *Store) UserDevices(ctx context.Context, ownerEmail string) ([]DeviceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, owner_email, COALESCE(backend_url,''), registered_at, last_connected, is_active
		 FROM device_registrations
		 WHERE owner_email = ? AND is_active = 1
		 ORDER BY last_connected DESC`,
		ownerEmail,
	)
	if err != nil {
		return nil, err
	}
	return scanDevices(rows)
}

// DeviceInfo returns details for one active device, or ErrNotFound.
func (s *Store) Device(ctx context.Context, deviceID string) (DeviceInfo, error) {
	var d DeviceInfo
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, owner_email, COALESCE(backend_url,''), registered_at, last_connected, is_active
		 FROM device_registrations WHERE device_id = ? AND is_active = 1`,
		deviceID,
	).Scan(&d.DeviceID, &d.OwnerEmail, &d.BackendURL, &d.RegisteredAt, &d.LastConnected, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceInfo{}, ErrNotFound
	}
	d.IsActive = active == 1
	return d, err
}

// ConnectionHistory lists recent registration/disconnect attempts for a device.
func (s *Store) ConnectionHistory(ctx context.Context, deviceID string, limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, email, at, success, COALESCE(notes,'')
		 FROM connection_history
		 WHERE device_id = ?
		 ORDER BY at DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		var success int
		if err := rows.Scan(&ev.Action, &ev.Email, &ev.At, &success, &ev.Notes); err != nil {
			return nil, err
		}
		ev.Success = success == 1
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CleanupStaleDevices deletes inactive registrations not seen for the given
// number of days. Returns how many were removed.
func (s *Store) CleanupStaleDevices(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		days = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM device_registrations WHERE is_active = 0 AND last_connected < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// logConnection records an audit row; failures never break the main operation.
func (s *Store) logConnection(ctx context.Context, deviceID, email, action string, success bool, notes string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_history (device_id, email, action, at, success, notes)
		 VALUES (?,?,?,?,?,?)`,
		deviceID, email, action, time.Now().UTC().Format(time.RFC3339), boolInt(success), notes,
	)
	if err != nil && !s.log.IsZero() {
		s.log.Warn("connection audit write failed")
	}
}

func scanDevices(rows *sql.Rows) ([]DeviceInfo, error) {
	defer rows.Close()
	var out []DeviceInfo
	for rows.Next() {
		var d DeviceInfo
		var active int
		if err := rows.Scan(&d.DeviceID, &d.OwnerEmail, &d.BackendURL, &d.RegisteredAt, &d.LastConnected, &active); err != nil {
			return nil, err
		}
		d.IsActive = active == 1
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func maskEmail(email string) string {
	at := -1
	for i, r := range email {
		if r == '@' {
			at = i
			break
		}
	}
	if at <= 0 {
		return "***"
	}
	prefix := email[:min(3, at)]
	return prefix + "***@" + email[at+1:]
}
