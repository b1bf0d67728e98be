// Package maintenance runs the nightly housekeeping job: pruning old intake
// history and dropping stale inactive device registrations.
package maintenance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"medichine/internal/config"
	"medichine/internal/store"
	logx "medichine/pkg/logx"
)

// LocalClock supplies the location the job schedule runs in.
type LocalClock interface {
	Location() *time.Location
	Zone() string
}

type Service struct {
	log logx.Logger
	st  *store.Store
	clk LocalClock

	mu   sync.Mutex
	cfg  config.MaintenanceConfig
	cron *cron.Cron
}

func New(cfg config.MaintenanceConfig, st *store.Store, clk LocalClock, log logx.Logger) *Service {
	return &Service{log: log, st: st, clk: clk, cfg: cfg}
}

// Start schedules the nightly job. A disabled config is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked()
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps the config and reschedules. Also called when the controller
// timezone changes so the job follows local time.
func (s *Service) Apply(cfg config.MaintenanceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return s.restartLocked()
}

// Reschedule rebuilds the cron in the clock's current location.
func (s *Service) Reschedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked()
}

func (s *Service) restartLocked() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	if !s.cfg.Enabled {
		s.log.Info("maintenance disabled")
		return nil
	}

	spec, err := cronSpec(s.cfg.At)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(s.clk.Location()))
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance scheduled",
		logx.String("at", s.cfg.At),
		logx.String("timezone", s.clk.Zone()),
	)
	return nil
}

func (s *Service) run() {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pruned, err := s.st.PruneHistory(ctx, cfg.HistoryRetentionDays)
	if err != nil {
		s.log.Warn("history prune failed", logx.Err(err))
	}
	removed, err := s.st.CleanupStaleDevices(ctx, cfg.RegistryStaleDays)
	if err != nil {
		s.log.Warn("stale registration cleanup failed", logx.Err(err))
	}
	s.log.Info("maintenance run complete",
		logx.Int64("history_pruned", pruned),
		logx.Int64("registrations_removed", removed),
	)
}

// cronSpec converts "HH:MM" into a daily cron expression.
func cronSpec(at string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(at), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("maintenance time %q: want HH:MM", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("maintenance time %q: bad hour", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("maintenance time %q: bad minute", at)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
