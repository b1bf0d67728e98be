// Package ledger tracks which schedules have already dispensed today.
//
// The ledger is the dedup boundary for the whole pipeline: a schedule id is
// marked only after its command was delivered, and the mapping is bulk-cleared
// once per local calendar day. Ids are never removed individually.
package ledger

import (
	"context"
	"time"

	"sync"

	logx "medichine/pkg/logx"
)

// LocalClock is the slice of the dispenser clock the ledger needs.
type LocalClock interface {
	Now() time.Time
}

type Ledger struct {
	mu    sync.Mutex
	fired map[int64]bool
}

func New() *Ledger {
	return &Ledger{fired: map[int64]bool{}}
}

// IsFired reports whether the schedule already dispensed today.
func (l *Ledger) IsFired(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired[id]
}

// MarkFired records a successful dispatch. Callers must only invoke this after
// the command sink confirmed delivery; a failed send leaves the entry eligible.
func (l *Ledger) MarkFired(id int64) {
	l.mu.Lock()
	l.fired[id] = true
	l.mu.Unlock()
}

// ResetAll atomically clears the whole mapping.
func (l *Ledger) ResetAll() {
	l.mu.Lock()
	l.fired = map[int64]bool{}
	l.mu.Unlock()
}

// Count reports how many schedule ids are currently marked.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fired)
}

const resetPollInterval = 60 * time.Second

// RunReset clears the ledger when the local calendar day changes. It wakes
// roughly once a minute, compares the current local date against the last one
// it observed, and bulk-clears on any change.
//
// Date-change comparison (rather than an exact "00:00" match) means the reset
// cannot be skipped by coarse polling, DST gaps, or a timezone swap; the cost
// is at-least-once semantics per day, which only re-opens eligibility and never
// corrupts state. The loop runs until ctx is canceled.
func (l *Ledger) RunReset(ctx context.Context, clk LocalClock, log logx.Logger) error {
	lastDate := localDate(clk.Now())

	t := time.NewTicker(resetPollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		d := localDate(clk.Now())
		if d == lastDate {
			continue
		}
		lastDate = d
		cleared := l.Count()
		l.ResetAll()
		log.Info("daily trigger ledger reset",
			logx.String("local_date", d),
			logx.Int("cleared", cleared),
		)
	}
}

func localDate(t time.Time) string {
	return t.Format("2006-01-02")
}
