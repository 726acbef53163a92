package control

import (
	"fmt"

	"github.com/dshills/stormdbg/internal/agent"
)

// StepThroughTrampoline steps across call-stub glue code (for example a
// dynamic-linker trampoline) that has no meaningful symbol of its own. The
// stub's destination is resolved up front and an Until runs to it. An
// unresolvable destination is a hard setup failure with no breakpoint
// placed, since there is no safe fallback continuation.
type StepThroughTrampoline struct {
	h     Handle
	until *Until

	onDone *Guard
}

// NewStepThroughTrampoline creates a controller that steps through the stub
// at the thread's current position.
func NewStepThroughTrampoline() *StepThroughTrampoline {
	return &StepThroughTrampoline{}
}

// SetOnDone installs a callback run exactly once when the controller is
// closed.
func (t *StepThroughTrampoline) SetOnDone(fn func()) {
	t.onDone = NewGuard(fn)
}

// Name returns the operation name.
func (t *StepThroughTrampoline) Name() string { return "step-through-trampoline" }

// Init resolves the stub's destination and delegates to an Until targeting
// it.
func (t *StepThroughTrampoline) Init(h Handle, done func(error)) {
	t.h = h
	th, ok := h.Resolve()
	if !ok {
		done(ErrThreadGone)
		return
	}
	top, err := th.Stack().TopFrame()
	if err != nil {
		done(ErrNoFrames)
		return
	}
	ip := top.IP()

	// A destination equal to the current address is the stub itself.
	var dests []uint64
	for _, addr := range th.Resolver().TrampolineDestinations(ip) {
		if addr != ip {
			dests = append(dests, addr)
		}
	}
	if len(dests) == 0 {
		done(fmt.Errorf("%w: stub at %#x", ErrTrampolineDestination, ip))
		return
	}

	t.until = NewUntilAddrs(dests)
	t.until.Init(h, done)
}

// ResumeRequest delegates to the inner until.
func (t *StepThroughTrampoline) ResumeRequest() ResumeRequest {
	if t.until == nil {
		return ResumeRequest{Op: OpContinue}
	}
	return t.until.ResumeRequest()
}

// OnThreadStop delegates to the inner until.
func (t *StepThroughTrampoline) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	if t.until == nil {
		return VerdictUnexpected
	}
	return t.until.OnThreadStop(cause, hits)
}

// Close releases the inner until and fires the on-done guard.
func (t *StepThroughTrampoline) Close() error {
	if t.until != nil {
		t.until.Close()
		t.until = nil
	}
	t.onDone.Run()
	return nil
}
