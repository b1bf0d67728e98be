// Package engine drives the dispensing cycle: once per minute it matches the
// configured schedules against the local clock and pushes at most one command
// per due schedule per day to the device's command queue.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"medichine/internal/dispense/gate"
	"medichine/internal/dispense/ledger"
	"medichine/internal/dispense/match"
	logx "medichine/pkg/logx"
)

// Command is the payload pushed to the device's command queue for one dose.
type Command struct {
	ContainerID int      `json:"container_id"`
	Name        string   `json:"name"`
	Days        []string `json:"days"`
	Time        string   `json:"time"`
	Quantity    int      `json:"quantity"`
}

// ScheduleSource lists the due-candidate schedules for the active device.
// A failed read is treated as "no due entries this tick".
type ScheduleSource interface {
	ListSchedules(ctx context.Context) ([]match.Entry, error)
}

// CommandSink delivers one dispensing command. An error means not delivered;
// retrying is safe (the ledger is the dedup boundary, not the sink).
type CommandSink interface {
	SendCommand(ctx context.Context, cmd Command) error
}

// Notifier tells the caregiver a dose went out. Best-effort: failures are
// logged and never roll back the ledger.
type Notifier interface {
	NotifyDispensing(ctx context.Context, containerID int, msg string) error
}

// LocalClock is the dispenser clock in its configured timezone.
type LocalClock interface {
	Now() time.Time
	Zone() string
}

// State is the engine's coarse position in its cycle.
type State int

const (
	StateIdle State = iota
	StateBackoff
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateBackoff:
		return "backoff"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Config holds the engine cadences. Zero values fall back to the defaults
// (1s tick, 10s not-ready backoff, 10s command timeout).
type Config struct {
	TickInterval    time.Duration
	BackoffInterval time.Duration
	CommandTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = 10 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	return c
}

// ErrBusy is returned by ManualDispense when a dispatch is already in flight.
var ErrBusy = errors.New("a dispensing sequence is already in flight")

// ErrNotReady is returned by ManualDispense before the device is configured.
var ErrNotReady = errors.New("device not configured: waiting for QR registration")

const defaultDispensingMessage = "Time to take your medicine!"

type Engine struct {
	cfg Config
	log logx.Logger

	clk      LocalClock
	ledger   *ledger.Ledger
	gate     *gate.Gate
	source   ScheduleSource
	sink     CommandSink
	notifier Notifier

	mu             sync.Mutex
	configReceived bool
	backendReady   bool
	state          State
	lastMinute     string

	// notReadyLim keeps the "waiting for configuration" line from flooding the
	// log while the 10s backoff loop spins.
	notReadyLim *rate.Limiter
}

func New(cfg Config, clk LocalClock, led *ledger.Ledger, g *gate.Gate, source ScheduleSource, sink CommandSink, notifier Notifier, log logx.Logger) *Engine {
	return &Engine{
		cfg:         cfg.withDefaults(),
		log:         log,
		clk:         clk,
		ledger:      led,
		gate:        g,
		source:      source,
		sink:        sink,
		notifier:    notifier,
		notReadyLim: rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// SetConfigReceived flips the "configuration received" readiness flag
// (set when the QR registration arrives, cleared on system reset).
func (e *Engine) SetConfigReceived(v bool) {
	e.mu.Lock()
	e.configReceived = v
	e.mu.Unlock()
	if v {
		e.log.Info("device configuration received; engine ready for commands")
	} else {
		e.log.Info("engine waiting for device configuration")
	}
}

// SetBackendReady flips the "backend initialized" readiness flag.
func (e *Engine) SetBackendReady(v bool) {
	e.mu.Lock()
	e.backendReady = v
	e.mu.Unlock()
}

func (e *Engine) ready() (cfgReceived, backend bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configReceived, e.backendReady
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Status is a read-only snapshot for the status endpoints.
type Status struct {
	IsDispensing   bool   `json:"is_dispensing"`
	ConfigReceived bool   `json:"config_received"`
	BackendReady   bool   `json:"backend_initialized"`
	FiredToday     int    `json:"triggered_schedules_count"`
	State          string `json:"state"`
	Timezone       string `json:"timezone"`
	Message        string `json:"status_message"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	cfgReceived := e.configReceived
	backend := e.backendReady
	state := e.state
	e.mu.Unlock()

	st := Status{
		IsDispensing:   e.gate.InFlight(),
		ConfigReceived: cfgReceived,
		BackendReady:   backend,
		FiredToday:     e.ledger.Count(),
		State:          state.String(),
		Timezone:       e.clk.Zone(),
	}
	switch {
	case cfgReceived && backend:
		st.Message = "Ready for commands"
	case !cfgReceived:
		st.Message = "Waiting for QR code configuration"
	default:
		st.Message = "Configuration received but backend not initialized"
	}
	return st
}

// ManualDispense pushes a test command to one container through the same gate
// the scheduler uses, so a manual trigger can never overlap a scheduled one.
// It does not touch the ledger.
func (e *Engine) ManualDispense(ctx context.Context, containerID int, name string) error {
	cfgReceived, backend := e.ready()
	if !cfgReceived || !backend {
		return ErrNotReady
	}
	if !e.gate.TryAcquire() {
		return ErrBusy
	}
	defer e.releaseGate()

	cmd := Command{
		ContainerID: containerID,
		Name:        name,
		Days:        []string{},
		Quantity:    1,
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	if err := e.sink.SendCommand(sctx, cmd); err != nil {
		e.log.Warn("manual dispense failed", logx.Int("container", containerID), logx.Err(err))
		return err
	}
	e.log.Info("manual dispense sent", logx.Int("container", containerID))
	return nil
}

func (e *Engine) releaseGate() {
	if !e.gate.Release() {
		// Double release means some path already freed the gate; this is a
		// defect, not a recoverable condition, so it is logged loudly.
		e.log.Error("dispensing gate released while not held")
	}
}
