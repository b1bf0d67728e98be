package engine

import (
	"context"
	"runtime/debug"
	"time"

	"medichine/internal/dispense/match"
	logx "medichine/pkg/logx"
)

// minuteKeyLayout identifies one wall-clock minute; the repository is read at
// most once per key.
const minuteKeyLayout = "2006-01-02 15:04"

// Run drives the tick loop until ctx is canceled. Any failure inside a tick is
// contained: logged, gate force-released if the tick held it, loop continues.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("dispense engine started",
		logx.Duration("tick", e.cfg.TickInterval),
		logx.Duration("backoff", e.cfg.BackoffInterval),
	)
	defer e.log.Info("dispense engine stopped")

	for {
		sleep := e.safeTick(ctx)

		select {
		case <-ctx.Done():
			// Exiting mid-dispatch is impossible (the dispatch sequence runs
			// inside the tick), but a panic path may have left the gate held.
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// safeTick runs one tick with panic containment.
func (e *Engine) safeTick(ctx context.Context) (sleep time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tick panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			// Force-release so one bad tick cannot wedge dispensing forever.
			if e.gate.InFlight() {
				e.releaseGate()
			}
			sleep = e.cfg.TickInterval
		}
	}()
	return e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) time.Duration {
	now := e.clk.Now()
	minuteKey := now.Format(minuteKeyLayout)

	e.mu.Lock()
	sameMinute := minuteKey == e.lastMinute
	if !sameMinute {
		e.lastMinute = minuteKey
	}
	e.mu.Unlock()

	// The repository is read at most once per minute.
	if sameMinute {
		return e.cfg.TickInterval
	}

	// A dispatch still in flight (manual trigger) skips this minute's match
	// without blocking the loop.
	if e.gate.InFlight() {
		e.setState(StateDispatching)
		return e.cfg.TickInterval
	}

	cfgReceived, backend := e.ready()
	if !cfgReceived || !backend {
		e.setState(StateBackoff)
		if e.notReadyLim.Allow() {
			e.log.Info("engine not ready; backing off",
				logx.Bool("config_received", cfgReceived),
				logx.Bool("backend_initialized", backend),
			)
		}
		return e.cfg.BackoffInterval
	}
	e.setState(StateIdle)

	entries, err := e.source.ListSchedules(ctx)
	if err != nil {
		// Treated as "no due entries this tick".
		e.log.Warn("schedule read failed", logx.Err(err))
		return e.cfg.TickInterval
	}

	due, skipped := match.Due(now, entries)
	for _, s := range skipped {
		e.log.Warn("schedule entry skipped (malformed)",
			logx.Int64("schedule_id", s.ID),
			logx.String("time", s.TimeOfDay),
		)
	}

	for _, entry := range due {
		if e.ledger.IsFired(entry.ID) {
			continue
		}
		e.dispatch(ctx, entry)
	}
	e.setState(StateIdle)

	return e.cfg.TickInterval
}

// dispatch runs the full sequence for one due, unfired entry: gate, command,
// ledger mark, notification. The ledger is marked only on confirmed delivery;
// a failed send leaves the entry eligible, which in practice means the dose is
// missed until its next scheduled day, and that is surfaced to operators.
func (e *Engine) dispatch(ctx context.Context, entry match.Entry) {
	if !e.gate.TryAcquire() {
		e.log.Debug("dispatch skipped; gate held", logx.Int64("schedule_id", entry.ID))
		return
	}
	defer e.releaseGate()
	e.setState(StateDispatching)

	canonTime, err := match.CanonicalTime(entry.TimeOfDay)
	if err != nil {
		// Due entries already normalized; reaching here is a matcher defect.
		e.log.Error("due entry failed normalization", logx.Int64("schedule_id", entry.ID), logx.Err(err))
		return
	}

	cmd := Command{
		ContainerID: entry.ContainerID,
		Name:        entry.Name,
		Days:        match.CanonicalDays(entry.Days),
		Time:        canonTime,
		Quantity:    entry.Quantity,
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	err = e.sink.SendCommand(sctx, cmd)
	cancel()
	if err != nil {
		e.log.Warn("dose command not delivered; occurrence missed until next scheduled day",
			logx.Int64("schedule_id", entry.ID),
			logx.String("medicine", entry.Name),
			logx.Int("container", entry.ContainerID),
			logx.Err(err),
		)
		return
	}

	e.ledger.MarkFired(entry.ID)
	e.log.Info("dose command dispatched",
		logx.Int64("schedule_id", entry.ID),
		logx.String("medicine", entry.Name),
		logx.Int("container", entry.ContainerID),
		logx.Int("quantity", entry.Quantity),
		logx.String("at", canonTime),
	)

	nctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	nerr := e.notifier.NotifyDispensing(nctx, entry.ContainerID, defaultDispensingMessage)
	cancel()
	if nerr != nil {
		// Best-effort only; the dose already went out.
		e.log.Warn("dispensing notification failed", logx.Int("container", entry.ContainerID), logx.Err(nerr))
	}
}
