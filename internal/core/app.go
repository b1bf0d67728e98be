// Package core assembles the controller: config, logging, storage, the
// dispensing engine and its supporting services, under one supervisor.
package core

import (
	"context"
	"fmt"
	"time"

	"medichine/internal/config"
	"medichine/internal/dispense/clock"
	"medichine/internal/dispense/engine"
	"medichine/internal/dispense/gate"
	"medichine/internal/dispense/ledger"
	"medichine/internal/dispense/match"
	"medichine/internal/fireq"
	"medichine/internal/push"
	"medichine/internal/runtime/supervisor"
	"medichine/internal/server"
	"medichine/internal/services/maintenance"
	"medichine/internal/store"
	logx "medichine/pkg/logx"
)

const defaultTimezone = "Asia/Manila"

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store       *store.Store
	backend     *fireq.Client
	notifier    *push.Client
	clock       *clock.Clock
	ledger      *ledger.Ledger
	gate        *gate.Gate
	engine      *engine.Engine
	server      *server.Server
	maintenance *maintenance.Service

	sup   *supervisor.Supervisor
	cfgCh chan *config.Config
}

// scheduleSource reads the bound device's schedules for the engine. Before a
// device is bound the list is empty, which the engine's readiness flags
// already prevent from mattering.
type scheduleSource struct {
	st *store.Store
	fq *fireq.Client
}

func (s scheduleSource) ListSchedules(ctx context.Context) ([]match.Entry, error) {
	deviceID := s.fq.DeviceID()
	if deviceID == "" {
		return nil, nil
	}
	return s.st.ListEntries(ctx, deviceID)
}

func NewApp(cfgPath string) (*App, error) {
	a := &App{}

	a.cfgMgr = config.NewManager(cfgPath)
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	zone := cfg.Timezone
	if zone == "" {
		zone = defaultTimezone
	}
	a.clock, err = clock.New(zone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", zone, err)
	}

	// The alert sink and the dispensing notifier share one Pushbullet client.
	a.notifier = push.New("", a.clock, logx.Nop())
	if cfg.Pushbullet.Enabled {
		a.notifier.SetToken(cfg.Pushbullet.Token)
	}

	a.logSvc, a.log = logx.New(logCfg(cfg.Logging), a.notifier)
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))

	a.store, err = store.Open(storeCfg(cfg.Storage), a.log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.backend = fireq.New(a.log.With(logx.String("comp", "fireq")))
	a.ledger = ledger.New()
	a.gate = gate.New()

	engCfg, err := engineCfg(cfg.Engine)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, a.clock, a.ledger, a.gate,
		scheduleSource{st: a.store, fq: a.backend}, a.backend, a.notifier,
		a.log.With(logx.String("comp", "engine")))

	a.maintenance = maintenance.New(maintCfg(cfg.Maintenance), a.store, a.clock,
		a.log.With(logx.String("comp", "maintenance")))

	srvOpts, err := serverOpts(cfg.Server)
	if err != nil {
		return nil, err
	}
	a.server = server.New(srvOpts, server.Deps{
		Store:    a.store,
		Backend:  a.backend,
		Notifier: a.notifier,
		Engine:   a.engine,
		Clock:    a.clock,
		Ledger:   a.ledger,
		TimezoneChanged: func(_ string) {
			if err := a.maintenance.Reschedule(); err != nil {
				a.log.Warn("maintenance reschedule failed", logx.Err(err))
			}
		},
	}, a.log.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if err := a.maintenance.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	a.sup.GoRestart("engine.run", func(ctx context.Context) error {
		return a.engine.Run(ctx)
	})
	a.sup.GoRestart("ledger.reset", func(ctx context.Context) error {
		return a.ledger.RunReset(ctx, a.clock, a.log.With(logx.String("comp", "ledger")))
	})
	a.sup.Go("config.watch", func(ctx context.Context) error {
		return a.cfgMgr.Watch(ctx)
	})

	a.cfgCh = a.cfgMgr.Subscribe(1)
	a.sup.Go("config.apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cfg, ok := <-a.cfgCh:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.sup.Go("http.serve", func(ctx context.Context) error {
		return a.server.Serve()
	})

	a.log.Info("medichine controller started", logx.String("timezone", a.clock.Zone()))
	return nil
}

// applyConfig handles a hot reload. Only the parts that can change safely at
// runtime are applied; storage and listener settings need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logCfg(cfg.Logging))
	if cfg.Pushbullet.Enabled {
		a.notifier.SetToken(cfg.Pushbullet.Token)
	} else {
		a.notifier.SetToken("")
	}
	if err := a.maintenance.Apply(maintCfg(cfg.Maintenance)); err != nil {
		a.log.Warn("maintenance reload failed", logx.Err(err))
	}
	a.log.Info("configuration reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
	}
	a.maintenance.Stop()
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}
	if a.cfgCh != nil {
		a.cfgMgr.Unsubscribe(a.cfgCh)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("medichine controller stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return nil
}

func logCfg(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    c.Alerts.Enabled,
			MinLevel:   c.Alerts.MinLevel,
			RatePerMin: c.Alerts.RatePerMin,
		},
	}
}

func storeCfg(c config.StorageConfig) store.Config {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 10*time.Second)
	if err != nil {
		busy = 10 * time.Second
	}
	return store.Config{Dir: c.Dir, BusyTimeout: busy}
}

func engineCfg(c config.EngineConfig) (engine.Config, error) {
	tick, err := config.ParseDurationOrDefault("engine.tick_interval", c.TickInterval, time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	backoff, err := config.ParseDurationOrDefault("engine.backoff_interval", c.BackoffInterval, 10*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	cmdTimeout, err := config.ParseDurationOrDefault("engine.command_timeout", c.CommandTimeout, 10*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		TickInterval:    tick,
		BackoffInterval: backoff,
		CommandTimeout:  cmdTimeout,
	}, nil
}

func maintCfg(c config.MaintenanceConfig) config.MaintenanceConfig {
	if c.At == "" {
		c.At = "03:00"
	}
	if c.HistoryRetentionDays <= 0 {
		c.HistoryRetentionDays = 90
	}
	if c.RegistryStaleDays <= 0 {
		c.RegistryStaleDays = 90
	}
	return c
}

func serverOpts(c config.ServerConfig) (server.Options, error) {
	addr := c.Addr
	if addr == "" {
		addr = ":8000"
	}
	read, err := config.ParseDurationOrDefault("server.read_timeout", c.ReadTimeout, 15*time.Second)
	if err != nil {
		return server.Options{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", c.WriteTimeout, 30*time.Second)
	if err != nil {
		return server.Options{}, err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", c.IdleTimeout, time.Minute)
	if err != nil {
		return server.Options{}, err
	}
	return server.Options{
		Addr:         addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}
