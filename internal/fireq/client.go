// Package fireq pushes dispense commands to the Firebase Realtime Database
// queue the dispenser hardware polls.
package fireq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medichine/internal/dispense/engine"
	logx "medichine/pkg/logx"
)

// ErrNotConfigured means the QR-code configuration step has not happened yet.
var ErrNotConfigured = errors.New("firebase backend not configured")

// Settings is the backend binding delivered by the companion app's QR flow.
type Settings struct {
	BackendURL string
	DeviceID   string
	AuthToken  string
	OwnerEmail string
}

// Client talks to one Firebase RTDB instance. The binding can be swapped or
// cleared at runtime.
type Client struct {
	mu   sync.Mutex
	set  Settings
	http *http.Client
	log  logx.Logger
}

func New(log logx.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

// Configure installs a new backend binding.
func (c *Client) Configure(s Settings) error {
	if s.BackendURL == "" || s.DeviceID == "" {
		return fmt.Errorf("backend url and device id are required")
	}
	s.BackendURL = strings.TrimRight(s.BackendURL, "/")
	c.mu.Lock()
	c.set = s
	c.mu.Unlock()
	c.log.Info("firebase backend configured", logx.String("device_id", s.DeviceID))
	return nil
}

// Reset clears the binding, returning the controller to its unconfigured state.
func (c *Client) Reset() {
	c.mu.Lock()
	c.set = Settings{}
	c.mu.Unlock()
	c.log.Info("firebase backend configuration cleared")
}

func (c *Client) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.BackendURL != "" && c.set.DeviceID != ""
}

// DeviceID returns the bound hardware id, or "" when unconfigured.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.DeviceID
}

// OwnerEmail returns the account the device was configured under.
func (c *Client) OwnerEmail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.OwnerEmail
}

// Snapshot returns a copy of the current binding.
func (c *Client) Snapshot() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// SendCommand pushes one dispense command onto the RTDB queue. Delivery is
// confirmed only by a 2xx response.
func (c *Client) SendCommand(ctx context.Context, cmd engine.Command) error {
	c.mu.Lock()
	set := c.set
	c.mu.Unlock()
	if set.BackendURL == "" {
		return ErrNotConfigured
	}

	payload := map[string]any{
		"id":           uuid.NewString(),
		"device_id":    set.DeviceID,
		"container_id": cmd.ContainerID,
		"name":         cmd.Name,
		"days":         cmd.Days,
		"time":         cmd.Time,
		"quantity":     cmd.Quantity,
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := set.BackendURL + "/commands.json"
	if set.AuthToken != "" {
		url += "?auth=" + set.AuthToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push command: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push command: backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// Ping checks the RTDB root is reachable with the current credentials.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	set := c.set
	c.mu.Unlock()
	if set.BackendURL == "" {
		return ErrNotConfigured
	}
	url := set.BackendURL + "/.json?shallow=true"
	if set.AuthToken != "" {
		url += "&auth=" + set.AuthToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}
