// Package clock supplies the controller's notion of "now" in the configured
// dispenser timezone. The zone is process-wide mutable state: caregivers change
// it from the app when the device travels, and every schedule comparison must
// pick up the new zone on its next tick without a restart.
package clock

import (
	"fmt"
	"sync"
	"time"
)

type Clock struct {
	mu  sync.RWMutex
	loc *time.Location
}

// New returns a Clock in the given IANA zone, or an error if the zone is unknown.
func New(zone string) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time in the active zone. The zone is read fresh on
// every call, so a concurrent Set takes effect on the very next tick.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	loc := c.loc
	c.mu.RUnlock()
	return time.Now().In(loc)
}

// Set switches the active zone. Invalid zone names are rejected and the
// previously active zone is kept.
func (c *Clock) Set(zone string) error {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", zone, err)
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
	return nil
}

// Zone reports the name of the active zone.
func (c *Clock) Zone() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc.String()
}

// Location returns the active zone for callers that need to construct times
// in it (cron registration, timestamp formatting).
func (c *Clock) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc
}
