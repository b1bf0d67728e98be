package gate

import (
	"sync"
	"testing"
)

func TestSingleFlight(t *testing.T) {
	t.Parallel()
	g := New()

	if g.InFlight() {
		t.Fatal("fresh gate should be free")
	}
	if !g.TryAcquire() {
		t.Fatal("first acquire must succeed")
	}
	if !g.InFlight() {
		t.Fatal("held gate must report in flight")
	}
	if g.TryAcquire() {
		t.Fatal("second acquire must fail while held")
	}
	if !g.Release() {
		t.Fatal("release of held gate must succeed")
	}
	if g.InFlight() {
		t.Fatal("released gate should be free")
	}
	if !g.TryAcquire() {
		t.Fatal("gate must be reusable after release")
	}
	g.Release()
}

func TestReleaseUnheld(t *testing.T) {
	t.Parallel()
	g := New()
	if g.Release() {
		t.Fatal("release of an unheld gate must report false")
	}
}

func TestConcurrentAcquire(t *testing.T) {
	t.Parallel()
	g := New()

	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Fatalf("exactly one goroutine may win, got %d", won)
	}
}
