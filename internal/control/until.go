package control

import (
	"fmt"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/frame"
)

// CompareMode selects the frame comparison an Until applies before it
// considers a hit location reached.
type CompareMode int

const (
	// CompareNone accepts any hit at the target locations.
	CompareNone CompareMode = iota

	// CompareOlder requires the hit frame to be strictly older than the
	// threshold fingerprint. A recursive call back into the same location
	// is skipped.
	CompareOlder

	// CompareOlderOrEqual requires the hit frame to be the threshold frame
	// or older.
	CompareOlderOrEqual
)

// String returns the compare mode name.
func (m CompareMode) String() string {
	switch m {
	case CompareNone:
		return "none"
	case CompareOlder:
		return "older"
	case CompareOlderOrEqual:
		return "olderOrEqual"
	default:
		return "unknown"
	}
}

// Until runs the thread until one of a set of target locations is reached.
// Locations are resolved and the breakpoint placed during Init; either
// failing there is a setup error, never a silent continue, since losing the
// requested stop point is a correctness bug.
type Until struct {
	h Handle

	// addrs are explicit target addresses. Used when spec is empty.
	addrs []uint64

	// spec is a named or file:line location resolved at Init.
	spec string

	// threshold and mode gate hits on the hit frame's age.
	threshold frame.Fingerprint
	mode      CompareMode

	bpHandle string

	onDone *Guard
}

// NewUntilAddrs creates an until targeting explicit addresses.
func NewUntilAddrs(addrs []uint64) *Until {
	return &Until{addrs: addrs}
}

// NewUntilLocation creates an until targeting a named or file:line
// location, resolved when the controller is initialized.
func NewUntilLocation(spec string) *Until {
	return &Until{spec: spec}
}

// SetThreshold gates hits on a frame-age comparison against fp.
func (u *Until) SetThreshold(fp frame.Fingerprint, mode CompareMode) {
	u.threshold = fp
	u.mode = mode
}

// SetOnDone installs a callback run exactly once when the controller is
// closed.
func (u *Until) SetOnDone(fn func()) {
	u.onDone = NewGuard(fn)
}

// Name returns the operation name.
func (u *Until) Name() string { return "until" }

// Init resolves the target location, if any, and places the breakpoint.
func (u *Until) Init(h Handle, done func(error)) {
	u.h = h
	th, ok := h.Resolve()
	if !ok {
		done(ErrThreadGone)
		return
	}

	addrs := u.addrs
	if u.spec != "" {
		resolved, err := th.Resolver().ResolveLocation(u.spec)
		if err != nil {
			done(fmt.Errorf("resolve %q: %w", u.spec, err))
			return
		}
		addrs = resolved
	}
	if len(addrs) == 0 {
		done(ErrNoLocations)
		return
	}
	u.addrs = addrs

	th.Breakpoints().Set(addrs, func(handle string, err error) {
		if _, ok := u.h.Resolve(); !ok {
			done(ErrThreadGone)
			return
		}
		if err != nil {
			done(fmt.Errorf("set until breakpoint: %w", err))
			return
		}
		u.bpHandle = handle
		done(nil)
	})
}

// ResumeRequest always continues unconditionally.
func (u *Until) ResumeRequest() ResumeRequest {
	return ResumeRequest{Op: OpContinue}
}

// OnThreadStop completes on a hit of the until breakpoint at a frame
// passing the threshold comparison.
func (u *Until) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	th, ok := u.h.Resolve()
	if !ok {
		return VerdictUnexpected
	}

	switch {
	case cause == agent.StopCauseBreakpoint:
		if !hitsContain(hits, u.bpHandle) {
			return VerdictUnexpected
		}
	case cause.Real():
		return VerdictUnexpected
	default:
		// Delegated evaluation: we have not reached the target yet.
		return VerdictContinue
	}

	if u.mode == CompareNone {
		return VerdictDone
	}
	fp, err := th.Stack().FingerprintAt(0)
	if err != nil {
		return VerdictUnexpected
	}
	switch u.mode {
	case CompareOlder:
		if u.threshold.Newer(fp) {
			return VerdictDone
		}
	case CompareOlderOrEqual:
		if u.threshold.NewerOrEqual(fp) {
			return VerdictDone
		}
	}
	// A recursive call hit the location in a newer frame.
	return VerdictContinue
}

// Close removes the breakpoint and fires the on-done guard.
func (u *Until) Close() error {
	removeBreakpoint(u.h, u.bpHandle)
	u.bpHandle = ""
	u.onDone.Run()
	return nil
}
