// Package gate serializes dispensing: at most one command sequence (send +
// notify + ledger mark) may be in flight system-wide, whether it came from the
// tick engine or a manual test command.
package gate

// Gate is a single-flight guard built on a capacity-1 channel so that
// concurrent acquirers race on a real synchronization primitive, not a
// read-then-write flag.
type Gate struct {
	slot chan struct{}
}

func New() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// TryAcquire takes the gate if it is free. It never blocks.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the gate. Releasing an unheld gate reports false so the caller
// can flag the invariant violation; the gate itself stays consistent.
func (g *Gate) Release() bool {
	select {
	case <-g.slot:
		return true
	default:
		return false
	}
}

// InFlight reports whether a dispatch sequence currently holds the gate.
func (g *Gate) InFlight() bool {
	return len(g.slot) > 0
}
