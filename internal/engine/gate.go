package engine

import "sync"

// ActivityGate tracks whether a sale is currently in progress on the
// terminal. The checkout workflow writes it; every repository reads it
// before deciding where an incoming update may land.
//
// On the active-to-inactive transition the registered resolver runs
// before the gate reports inactive to anyone else, so pending shadows
// are folded in before the next temporal load can write.
type ActivityGate struct {
	mu       sync.Mutex
	active   bool
	resolver func()
}

// NewActivityGate creates an inactive gate.
func NewActivityGate() *ActivityGate {
	return &ActivityGate{}
}

// onRelease registers the function run when a transaction ends. Set
// once by the engine during wiring.
func (g *ActivityGate) onRelease(fn func()) {
	g.mu.Lock()
	g.resolver = fn
	g.mu.Unlock()
}

// TransactionStarted marks a sale as in progress. Nested calls are
// collapsed; the gate is a flag, not a counter, matching a terminal's
// one-sale-at-a-time screen flow.
func (g *ActivityGate) TransactionStarted() {
	g.mu.Lock()
	g.active = true
	g.mu.Unlock()
}

// TransactionEnded marks the sale as finished (completed or voided) and
// runs pending-overlay resolution. The resolver runs outside the gate
// lock; a temporal load racing the transition is still safe because it
// re-resolves its own collection before writing canonically, and both
// paths serialize on the repository lock.
func (g *ActivityGate) TransactionEnded() {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return
	}
	g.active = false
	resolver := g.resolver
	g.mu.Unlock()

	if resolver != nil {
		resolver()
	}
}

// Active reports whether a sale is in progress.
func (g *ActivityGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
