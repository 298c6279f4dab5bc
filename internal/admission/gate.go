// Package admission provides the shared concurrency gate that bounds
// simultaneous outstanding remote calls. The direct dispatcher and the queued
// scheduler can draw from one Gate so a process running both modes shares a
// single ceiling instead of doubling it.
package admission

// Gate is a counting slot reservation. Slots are modeled as a buffered
// channel, so acquisition and release are race-free without a mutex.
type Gate struct {
	slots chan struct{}
}

// NewGate returns a gate with the given capacity (minimum 1).
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// TryAcquire reserves a slot without blocking. Callers must Release exactly
// once per successful acquire.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a previously acquired slot.
func (g *Gate) Release() {
	select {
	case <-g.slots:
	default:
		// Release without a matching acquire is a programming error; dropping
		// it is safer than blocking.
	}
}

// InUse reports the number of currently held slots.
func (g *Gate) InUse() int { return len(g.slots) }

// Capacity reports the ceiling.
func (g *Gate) Capacity() int { return cap(g.slots) }
