package engine

import "context"

// Breakpoint is one breakpoint group placed with the agent.
type Breakpoint struct {
	// Handle correlates hit notifications with the group.
	Handle string

	// Addresses are the trapped instruction addresses.
	Addresses []uint64

	// HitCount is the number of hits observed so far.
	HitCount int
}

// BreakpointManager tracks the breakpoint groups the engine has placed,
// controller-owned temporaries and user breakpoints alike. All bookkeeping
// runs on the dispatch goroutine; only the agent round-trips leave it.
type BreakpointManager struct {
	eng    *Engine
	active map[string]*Breakpoint
}

// newBreakpointManager creates an empty manager.
func newBreakpointManager(eng *Engine) *BreakpointManager {
	return &BreakpointManager{eng: eng, active: make(map[string]*Breakpoint)}
}

// Set places breakpoints at the given addresses. done runs on the dispatch
// goroutine once the agent has acknowledged placement; the transport's
// ordering guarantee makes a later resume see the breakpoints armed.
func (m *BreakpointManager) Set(addrs []uint64, done func(handle string, err error)) {
	eng := m.eng
	go func() {
		handle, err := eng.client.SetBreakpoints(context.Background(), addrs)
		eng.post(func() {
			if err == nil {
				m.active[handle] = &Breakpoint{Handle: handle, Addresses: addrs}
			}
			done(handle, err)
		})
	}()
}

// Remove drops a breakpoint group. The agent round-trip is fire-and-forget;
// the handle is forgotten immediately so late hits are ignored.
func (m *BreakpointManager) Remove(handle string) {
	if handle == "" {
		return
	}
	delete(m.active, handle)
	eng := m.eng
	go func() {
		if err := eng.client.RemoveBreakpoint(context.Background(), handle); err != nil {
			eng.log.Warn("remove breakpoint failed", "handle", handle, "error", err)
		}
	}()
}

// recordHit increments and returns the hit count for a handle. Unknown
// handles (already removed) count as zero.
func (m *BreakpointManager) recordHit(handle string) int {
	bp, ok := m.active[handle]
	if !ok {
		return 0
	}
	bp.HitCount++
	return bp.HitCount
}

// Active returns the tracked breakpoint groups. Dispatch goroutine only.
func (m *BreakpointManager) Active() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(m.active))
	for _, bp := range m.active {
		bps = append(bps, bp)
	}
	return bps
}
