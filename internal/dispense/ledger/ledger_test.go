package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "medichine/pkg/logx"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

type stubClock struct{ now time.Time }

func (s stubClock) Now() time.Time { return s.now }

func TestRunResetStopsOnCancel(t *testing.T) {
	t.Parallel()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.RunReset(ctx, stubClock{now: time.Now()}, logx.Nop())
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunReset did not stop on cancel")
	}
}

func TestMarkAndReset(t *testing.T) {
	t.Parallel()
	l := New()

	if l.IsFired(1) {
		t.Fatal("fresh ledger should be empty")
	}
	l.MarkFired(1)
	l.MarkFired(7)
	if !l.IsFired(1) || !l.IsFired(7) {
		t.Fatal("marked ids must read back fired")
	}
	if l.Count() != 2 {
		t.Fatalf("count = %d, want 2", l.Count())
	}

	// Marking is idempotent.
	l.MarkFired(1)
	if l.Count() != 2 {
		t.Fatalf("re-mark changed count: %d", l.Count())
	}

	l.ResetAll()
	if l.Count() != 0 || l.IsFired(1) {
		t.Fatal("reset must clear every id")
	}
}

func TestMarkNeverClearsOtherIDs(t *testing.T) {
	t.Parallel()
	l := New()
	for id := int64(1); id <= 100; id++ {
		l.MarkFired(id)
	}
	l.MarkFired(42)
	for id := int64(1); id <= 100; id++ {
		if !l.IsFired(id) {
			t.Fatalf("id %d lost its mark", id)
		}
	}
}

func TestLocalDate(t *testing.T) {
	t.Parallel()
	l := New()
	l.MarkFired(5)

	// RunReset's trigger condition is the formatted local date changing; the
	// loop itself is ticker-driven, so assert the comparison helper directly.
	if localDate(mustTime(t, "2025-03-03T23:59:00Z")) == localDate(mustTime(t, "2025-03-04T00:00:00Z")) {
		t.Fatal("date must change across midnight")
	}
	if localDate(mustTime(t, "2025-03-03T00:00:00Z")) != localDate(mustTime(t, "2025-03-03T23:59:59Z")) {
		t.Fatal("date must be stable within one day")
	}
}
