// Package push delivers caregiver notifications through Pushbullet.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	logx "medichine/pkg/logx"
)

const defaultBaseURL = "https://api.pushbullet.com/v2"

// stampLayout is the local-time stamp appended to notification bodies.
const stampLayout = "02/01/2006 03:04 PM"

// LocalClock supplies the controller's local time for notification stamps.
type LocalClock interface {
	Now() time.Time
}

// Client is a Pushbullet sender. A zero token disables delivery; every send
// then reports an error the caller is expected to treat as best-effort.
type Client struct {
	mu      sync.Mutex
	token   string
	message string

	baseURL string
	http    *http.Client
	clk     LocalClock
	log     logx.Logger
}

func New(token string, clk LocalClock, log logx.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		clk:     clk,
		log:     log,
	}
}

// SetBaseURL points the client at a different API host. Used in tests.
func (c *Client) SetBaseURL(u string) {
	c.mu.Lock()
	c.baseURL = u
	c.mu.Unlock()
}

// SetToken swaps the access token at runtime.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetDispensingMessage overrides the body used for dispensing notifications.
// An empty string restores the default.
func (c *Client) SetDispensingMessage(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
}

// DispensingMessage returns the configured override, or "".
func (c *Client) DispensingMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// NotifyDispensing announces that a container is about to dispense.
func (c *Client) NotifyDispensing(ctx context.Context, containerID int, msg string) error {
	c.mu.Lock()
	if c.message != "" {
		msg = c.message
	}
	c.mu.Unlock()
	title := fmt.Sprintf("Dispensing on container %d", containerID)
	body := fmt.Sprintf("%s\nTime: %s", msg, c.clk.Now().Format(stampLayout))
	return c.send(ctx, title, body)
}

// NotifyTaken announces a confirmed intake reported by the device.
func (c *Client) NotifyTaken(ctx context.Context, medicine string, containerID, quantity int) error {
	title := "Medicine taken"
	body := fmt.Sprintf("%s (container %d, qty %d) was taken at %s",
		medicine, containerID, quantity, c.clk.Now().Format(stampLayout))
	return c.send(ctx, title, body)
}

// SendAlert forwards an operational alert; it satisfies the logging layer's
// alert sink.
func (c *Client) SendAlert(ctx context.Context, msg string) error {
	return c.send(ctx, "MediChine alert", msg)
}

// Test verifies the token by fetching the account profile.
func (c *Client) Test(ctx context.Context) error {
	c.mu.Lock()
	token, base := c.token, c.baseURL
	c.mu.Unlock()
	if token == "" {
		return fmt.Errorf("pushbullet token not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/users/me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Access-Token", token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushbullet returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) send(ctx context.Context, title, body string) error {
	c.mu.Lock()
	token, base := c.token, c.baseURL
	c.mu.Unlock()
	if token == "" {
		return fmt.Errorf("pushbullet token not set")
	}

	payload, err := json.Marshal(map[string]string{
		"type":  "note",
		"title": title,
		"body":  body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/pushes", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Access-Token", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("pushbullet returned %d", resp.StatusCode)
	}
	return nil
}
