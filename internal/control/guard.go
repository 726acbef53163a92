package control

// Guard holds a callback that must run exactly once when a controller is
// released, independent of which exit path is taken: success, error, or
// cancellation.
type Guard struct {
	fn func()
}

// NewGuard creates a guard around fn. A nil fn yields an inert guard.
func NewGuard(fn func()) *Guard {
	return &Guard{fn: fn}
}

// Run fires the callback. Subsequent calls are no-ops.
func (g *Guard) Run() {
	if g == nil || g.fn == nil {
		return
	}
	fn := g.fn
	g.fn = nil
	fn()
}

// Disarm drops the callback without running it.
func (g *Guard) Disarm() {
	if g != nil {
		g.fn = nil
	}
}
