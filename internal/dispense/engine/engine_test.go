package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medichine/internal/dispense/gate"
	"medichine/internal/dispense/ledger"
	"medichine/internal/dispense/match"
	logx "medichine/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Zone() string { return "UTC" }

func (f *fakeClock) set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

type fakeSource struct {
	mu      sync.Mutex
	entries []match.Entry
	err     error
	reads   int
}

func (f *fakeSource) ListSchedules(ctx context.Context) ([]match.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.entries, f.err
}

func (f *fakeSource) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeSink struct {
	mu   sync.Mutex
	sent []Command
	err  error
}

func (f *fakeSink) SendCommand(ctx context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSink) commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.sent...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeNotifier) NotifyDispensing(ctx context.Context, containerID int, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// monday 2025-03-03 08:00 UTC.
var monday8am = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

type harness struct {
	clk      *fakeClock
	source   *fakeSource
	sink     *fakeSink
	notifier *fakeNotifier
	ledger   *ledger.Ledger
	eng      *Engine
}

func newHarness(entries []match.Entry) *harness {
	h := &harness{
		clk:      &fakeClock{now: monday8am},
		source:   &fakeSource{entries: entries},
		sink:     &fakeSink{},
		notifier: &fakeNotifier{},
		ledger:   ledger.New(),
	}
	h.eng = New(Config{}, h.clk, h.ledger, gate.New(), h.source, h.sink, h.notifier, logx.Nop())
	h.eng.SetConfigReceived(true)
	h.eng.SetBackendReady(true)
	return h
}

func aspirin() match.Entry {
	return match.Entry{ID: 1, ContainerID: 2, Name: "Aspirin", TimeOfDay: "08:00 AM", Days: []string{"Mon"}, Quantity: 1}
}

func TestTickDispatchesDueEntryOnce(t *testing.T) {
	t.Parallel()
	h := newHarness([]match.Entry{aspirin()})
	ctx := context.Background()

	h.eng.tick(ctx)
	sent := h.sink.commands()
	if len(sent) != 1 {
		t.Fatalf("want 1 command, got %d", len(sent))
	}
	if sent[0].ContainerID != 2 || sent[0].Time != "08:00 AM" || sent[0].Quantity != 1 {
		t.Fatalf("command: %+v", sent[0])
	}
	if !h.ledger.IsFired(1) {
		t.Fatal("delivered command must mark the ledger")
	}
	if h.notifier.callCount() != 1 {
		t.Errorf("notifier calls = %d, want 1", h.notifier.callCount())
	}

	// Same minute: the repository must not be read again.
	reads := h.source.readCount()
	h.eng.tick(ctx)
	if h.source.readCount() != reads {
		t.Error("repository read twice within one minute")
	}

	// Next minute, same day: no longer due, and even if it were, the ledger
	// blocks a second dispatch.
	h.clk.set(monday8am.Add(time.Minute))
	h.eng.tick(ctx)
	if len(h.sink.commands()) != 1 {
		t.Errorf("want still 1 command, got %d", len(h.sink.commands()))
	}
}

func TestTickSameTimeNextDayAfterReset(t *testing.T) {
	t.Parallel()
	entry := aspirin()
	entry.Days = []string{"Mon", "Tue"}
	h := newHarness([]match.Entry{entry})
	ctx := context.Background()

	h.eng.tick(ctx)
	if len(h.sink.commands()) != 1 {
		t.Fatalf("day one: %d commands", len(h.sink.commands()))
	}

	// Next day, ledger cleared (what the midnight reset does).
	h.ledger.ResetAll()
	h.clk.set(monday8am.AddDate(0, 0, 1))
	h.eng.tick(ctx)
	if len(h.sink.commands()) != 2 {
		t.Fatalf("day two: %d commands, want 2", len(h.sink.commands()))
	}
}

func TestFailedSendLeavesLedgerUnmarked(t *testing.T) {
	t.Parallel()
	h := newHarness([]match.Entry{aspirin()})
	h.sink.err = errors.New("backend down")
	ctx := context.Background()

	h.eng.tick(ctx)
	if h.ledger.IsFired(1) {
		t.Fatal("undelivered command must not mark the ledger")
	}
	if h.notifier.callCount() != 0 {
		t.Error("no notification for an undelivered command")
	}
}

func TestNotifyFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()
	h := newHarness([]match.Entry{aspirin()})
	h.notifier.err = errors.New("pushbullet down")
	ctx := context.Background()

	h.eng.tick(ctx)
	if len(h.sink.commands()) != 1 {
		t.Fatalf("commands: %d", len(h.sink.commands()))
	}
	if !h.ledger.IsFired(1) {
		t.Fatal("notification failure must not unmark the ledger")
	}
}

func TestNotReadySkipsRepository(t *testing.T) {
	t.Parallel()
	h := newHarness([]match.Entry{aspirin()})
	h.eng.SetBackendReady(false)
	ctx := context.Background()

	sleep := h.eng.tick(ctx)
	if sleep != h.eng.cfg.BackoffInterval {
		t.Errorf("sleep = %v, want backoff %v", sleep, h.eng.cfg.BackoffInterval)
	}
	if h.source.readCount() != 0 {
		t.Error("not-ready tick must not read the repository")
	}
	if len(h.sink.commands()) != 0 {
		t.Error("not-ready tick must not dispatch")
	}
}

func TestMalformedEntryIsolated(t *testing.T) {
	t.Parallel()
	h := newHarness([]match.Entry{
		{ID: 10, ContainerID: 1, Name: "Bad", TimeOfDay: "whenever", Days: []string{"Mon"}, Quantity: 1},
		aspirin(),
	})
	ctx := context.Background()

	h.eng.tick(ctx)
	sent := h.sink.commands()
	if len(sent) != 1 || sent[0].Name != "Aspirin" {
		t.Fatalf("exactly the well-formed entry must dispatch: %+v", sent)
	}
}

func TestSourceErrorTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	h := newHarness(nil)
	h.source.err = errors.New("db locked")
	ctx := context.Background()

	sleep := h.eng.tick(ctx)
	if sleep != h.eng.cfg.TickInterval {
		t.Errorf("sleep = %v, want tick %v", sleep, h.eng.cfg.TickInterval)
	}
	if len(h.sink.commands()) != 0 {
		t.Error("failed read must not dispatch")
	}
}

func TestManualDispense(t *testing.T) {
	t.Parallel()
	h := newHarness(nil)
	ctx := context.Background()

	if err := h.eng.ManualDispense(ctx, 3, "Test Container 3"); err != nil {
		t.Fatalf("manual: %v", err)
	}
	sent := h.sink.commands()
	if len(sent) != 1 || sent[0].ContainerID != 3 || sent[0].Quantity != 1 {
		t.Fatalf("manual command: %+v", sent)
	}
	if h.ledger.Count() != 0 {
		t.Error("manual dispense must not touch the ledger")
	}
}

func TestManualDispenseNotReady(t *testing.T) {
	t.Parallel()
	h := newHarness(nil)
	h.eng.SetConfigReceived(false)
	if err := h.eng.ManualDispense(context.Background(), 1, "x"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
}

func TestManualDispenseBusy(t *testing.T) {
	t.Parallel()
	h := newHarness(nil)
	if !h.eng.gate.TryAcquire() {
		t.Fatal("setup acquire failed")
	}
	defer h.eng.gate.Release()
	if err := h.eng.ManualDispense(context.Background(), 1, "x"); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}

func TestStatusMessages(t *testing.T) {
	t.Parallel()
	h := newHarness(nil)

	st := h.eng.Status()
	if st.Message != "Ready for commands" {
		t.Errorf("ready message: %q", st.Message)
	}
	if st.Timezone != "UTC" {
		t.Errorf("timezone: %q", st.Timezone)
	}

	h.eng.SetBackendReady(false)
	if got := h.eng.Status().Message; got != "Configuration received but backend not initialized" {
		t.Errorf("backend-down message: %q", got)
	}

	h.eng.SetConfigReceived(false)
	if got := h.eng.Status().Message; got != "Waiting for QR code configuration" {
		t.Errorf("unconfigured message: %q", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
