package control

import (
	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/stack"
	"github.com/dshills/stormdbg/internal/sym"
)

// ResumeOp selects how the engine should resume after a Continue verdict.
type ResumeOp int

const (
	// OpContinue resumes the thread unconditionally.
	OpContinue ResumeOp = iota

	// OpStepInstruction executes a single instruction.
	OpStepInstruction

	// OpStepInRange executes instructions while the instruction pointer
	// stays inside the request's range.
	OpStepInRange

	// OpSyntheticStop does not touch the process: the engine re-invokes
	// OnThreadStop once more with a synthetic cause. Used when only the
	// stack's hidden-inline count changed.
	OpSyntheticStop
)

// String returns the resume op name.
func (o ResumeOp) String() string {
	switch o {
	case OpContinue:
		return "continue"
	case OpStepInstruction:
		return "stepInstruction"
	case OpStepInRange:
		return "stepInRange"
	case OpSyntheticStop:
		return "syntheticStop"
	default:
		return "unknown"
	}
}

// ResumeRequest is a controller's requested resume mode.
type ResumeRequest struct {
	// Op is the resume operation.
	Op ResumeOp

	// Range bounds an OpStepInRange resume.
	Range sym.AddressRange
}

// Verdict is a controller's decision after a thread stop.
type Verdict int

const (
	// VerdictContinue asks the engine to resume via ResumeRequest.
	VerdictContinue Verdict = iota

	// VerdictDone ends the controller and reports to the user.
	VerdictDone

	// VerdictUnexpected is a neutral vote: the engine falls back to
	// stopping and surfacing the raw event.
	VerdictUnexpected

	// VerdictFuture means asynchronous work is in flight; the engine
	// leaves the thread stopped until the controller re-triggers
	// evaluation.
	VerdictFuture
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictDone:
		return "done"
	case VerdictUnexpected:
		return "unexpected"
	case VerdictFuture:
		return "future"
	default:
		return "unknown"
	}
}

// Breakpoints is the breakpoint collaborator controllers use. Set is
// asynchronous: done runs on the engine goroutine once the agent has
// acknowledged placement, with the handle correlating future hits.
type Breakpoints interface {
	Set(addrs []uint64, done func(handle string, err error))
	Remove(handle string)
}

// Thread is the controller-facing view of a stopped thread. The engine's
// concrete thread implements it; all methods are called on the engine's
// dispatch goroutine.
type Thread interface {
	// ID returns the thread identifier.
	ID() int

	// Stack returns the thread's call stack. Controllers read it and
	// request mutation through it but never hold it past a single
	// synchronous call.
	Stack() *stack.Stack

	// Unwinder provides full unwinds for Stack.SyncFrames.
	Unwinder() stack.Unwinder

	// Resolver provides symbol resolution.
	Resolver() sym.Resolver

	// Breakpoints provides the breakpoint collaborator.
	Breakpoints() Breakpoints

	// Reevaluate schedules a re-run of the attached controller with a
	// "none" cause. Called after asynchronous work completes to leave the
	// Future state.
	Reevaluate()
}

// Handle is a weak reference to a Thread: lookup only, never ownership.
// Resolve reports absence once the thread is destroyed; pending callbacks
// must tolerate that and become no-ops.
type Handle interface {
	Resolve() (Thread, bool)
}

// Controller decides, on every thread stop, whether to continue or report
// completion. Implementations form an exclusively-owned tree: a controller
// owns its sub-controllers and is owned by its parent (the thread owns the
// top-level one).
type Controller interface {
	// Name returns a short operation name for logging.
	Name() string

	// Init binds the controller to a thread. done is invoked exactly once,
	// possibly asynchronously, with any setup failure (no frames to step
	// from, unresolvable location, breakpoint placement failure). On
	// failure the command is abandoned without touching thread state.
	Init(h Handle, done func(error))

	// ResumeRequest returns the requested resume mode for the next
	// Continue verdict.
	ResumeRequest() ResumeRequest

	// OnThreadStop evaluates a stop. cause is the stop's cause; hits holds
	// the handles of breakpoints hit, and is only meaningful for a real
	// breakpoint cause. Synthetic and none causes mean "ignore the real
	// cause, evaluate the current position" and are never interpreted as
	// breakpoint hits.
	OnThreadStop(cause agent.StopCause, hits []string) Verdict

	// Close releases controller resources (sub-controllers, breakpoints)
	// and fires the on-done guard. Safe to call at any time, including
	// mid-asynchronous-operation.
	Close() error
}

// reevaluate resolves the handle and schedules re-evaluation, tolerating a
// destroyed thread.
func reevaluate(h Handle) {
	if th, ok := h.Resolve(); ok {
		th.Reevaluate()
	}
}

// hitsContain reports whether a breakpoint handle is among the hits.
func hitsContain(hits []string, handle string) bool {
	for _, h := range hits {
		if h == handle {
			return true
		}
	}
	return false
}

// removeBreakpoint removes a breakpoint through the handle's thread,
// tolerating a destroyed thread.
func removeBreakpoint(h Handle, bpHandle string) {
	if bpHandle == "" {
		return
	}
	if th, ok := h.Resolve(); ok {
		th.Breakpoints().Remove(bpHandle)
	}
}
