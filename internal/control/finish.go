package control

import (
	"fmt"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/frame"
)

// FinishPhysical runs a physical frame to its return: it places one
// temporary breakpoint at the return address, taken from the next-older
// frame, and continues until that breakpoint is hit at a frame whose
// fingerprint is not newer than the landing frame's. Recursive re-entry hits
// the same address with a newer fingerprint and is skipped.
type FinishPhysical struct {
	h Handle

	// index is the visible index of a frame owned by the physical frame
	// being exited.
	index int

	// target identifies the frame execution lands in once the exit
	// completes.
	target frame.Fingerprint

	// retAddr is the return address the temporary breakpoint covers.
	retAddr uint64

	bpHandle string

	// trivial marks an exit of the oldest frame: there is no return address,
	// so the thread just runs.
	trivial bool

	onDone *Guard
}

// NewFinishPhysical creates a controller that exits the physical frame
// owning the visible frame at index.
func NewFinishPhysical(index int) *FinishPhysical {
	return &FinishPhysical{index: index}
}

// SetOnDone installs a callback run exactly once when the controller is
// closed.
func (f *FinishPhysical) SetOnDone(fn func()) {
	f.onDone = NewGuard(fn)
}

// Name returns the operation name.
func (f *FinishPhysical) Name() string { return "finish-physical" }

// Target returns the fingerprint of the frame execution lands in. Valid
// once Init has completed without error.
func (f *FinishPhysical) Target() frame.Fingerprint { return f.target }

// Init locates the return address and places the temporary breakpoint. A
// full unwind is fetched first if the stack does not have all frames, so
// completion may be asynchronous.
func (f *FinishPhysical) Init(h Handle, done func(error)) {
	f.h = h
	th, ok := h.Resolve()
	if !ok {
		done(ErrThreadGone)
		return
	}
	st := th.Stack()
	if st.HasAllFrames() {
		f.place(th, done)
		return
	}
	st.SyncFrames(th.Unwinder(), func(err error) {
		th, ok := h.Resolve()
		if !ok {
			done(ErrThreadGone)
			return
		}
		if err != nil {
			done(err)
			return
		}
		f.place(th, done)
	})
}

// place computes the landing frame and return address and sets the
// breakpoint.
func (f *FinishPhysical) place(th Thread, done func(error)) {
	st := th.Stack()

	fr, err := st.FrameAt(f.index)
	if err != nil {
		done(fmt.Errorf("%w: index %d", ErrFrameNotFound, f.index))
		return
	}
	phys := fr.Physical()

	// The landing frame is the first visible frame past the exited physical
	// frame's inline group.
	j := f.index + 1
	for {
		nf, err := st.FrameAt(j)
		if err != nil {
			// Oldest frame: nothing to return to.
			f.trivial = true
			done(nil)
			return
		}
		if nf.Physical() != phys {
			break
		}
		j++
	}

	target, err := st.FingerprintAt(j)
	if err != nil {
		done(fmt.Errorf("landing frame fingerprint: %w", err))
		return
	}
	landing, err := st.FrameAt(j)
	if err != nil {
		done(fmt.Errorf("%w: index %d", ErrFrameNotFound, j))
		return
	}
	f.target = target
	f.retAddr = landing.IP()

	th.Breakpoints().Set([]uint64{f.retAddr}, func(handle string, err error) {
		if _, ok := f.h.Resolve(); !ok {
			done(ErrThreadGone)
			return
		}
		if err != nil {
			done(fmt.Errorf("set return breakpoint at %#x: %w", f.retAddr, err))
			return
		}
		f.bpHandle = handle
		done(nil)
	})
}

// ResumeRequest always continues unconditionally.
func (f *FinishPhysical) ResumeRequest() ResumeRequest {
	return ResumeRequest{Op: OpContinue}
}

// OnThreadStop completes when the return breakpoint is hit at a frame not
// newer than the landing frame.
func (f *FinishPhysical) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	th, ok := f.h.Resolve()
	if !ok {
		return VerdictUnexpected
	}
	st := th.Stack()

	if f.trivial {
		// No return address to wait for: the thread just runs.
		return VerdictContinue
	}

	switch {
	case cause == agent.StopCauseBreakpoint:
		if !hitsContain(hits, f.bpHandle) {
			return VerdictUnexpected
		}
	case cause.Real():
		// We only ever request a plain continue; any other real stop is
		// somebody else's business.
		return VerdictUnexpected
	}

	fp, err := st.FingerprintAt(0)
	if err != nil {
		return VerdictUnexpected
	}
	if fp.Newer(f.target) {
		// Recursive re-entry of the same function.
		return VerdictContinue
	}
	return VerdictDone
}

// Close removes the temporary breakpoint and fires the on-done guard.
func (f *FinishPhysical) Close() error {
	removeBreakpoint(f.h, f.bpHandle)
	f.bpHandle = ""
	f.onDone.Run()
	return nil
}

// Finish runs a selected frame, physical or inline, to its return.
//
// A physical target is exactly FinishPhysical. An inline target may first
// need physical frames above it exited; after that, step-over passes across
// the remaining inline ranges run until a frame older than the target is
// observed. Landing on a compiler-generated "line 0" location triggers one
// extra step-over pass so the user never stops on sourceless code.
type Finish struct {
	h      Handle
	policy Policy

	// index is the visible index of the frame to finish, captured when the
	// controller is created.
	index int

	// target is the selected frame's fingerprint.
	target frame.Fingerprint

	// inline is true when the selected frame is an inline frame.
	inline bool

	// phys is the active physical-exit phase, if any.
	phys *FinishPhysical

	// over is the active inline range pass, if any.
	over *StepOver

	// zeroDone records that the final line-0 pass has run.
	zeroDone bool

	onDone *Guard
}

// NewFinish creates a controller that runs the visible frame at index to
// its return.
func NewFinish(index int, policy Policy) *Finish {
	return &Finish{policy: policy, index: index}
}

// SetOnDone installs a callback run exactly once when the controller is
// closed.
func (f *Finish) SetOnDone(fn func()) {
	f.onDone = NewGuard(fn)
}

// Name returns the operation name.
func (f *Finish) Name() string { return "finish" }

// Init classifies the selected frame and starts the first phase. A full
// unwind is fetched first if needed, so completion may be asynchronous.
func (f *Finish) Init(h Handle, done func(error)) {
	f.h = h
	th, ok := h.Resolve()
	if !ok {
		done(ErrThreadGone)
		return
	}
	st := th.Stack()
	if st.HasAllFrames() {
		f.locate(th, done)
		return
	}
	st.SyncFrames(th.Unwinder(), func(err error) {
		th, ok := h.Resolve()
		if !ok {
			done(ErrThreadGone)
			return
		}
		if err != nil {
			done(err)
			return
		}
		f.locate(th, done)
	})
}

// locate resolves the selected frame and starts the exit.
func (f *Finish) locate(th Thread, done func(error)) {
	st := th.Stack()

	fr, err := st.FrameAt(f.index)
	if err != nil {
		done(fmt.Errorf("%w: index %d", ErrFrameNotFound, f.index))
		return
	}
	f.target, err = st.FingerprintAt(f.index)
	if err != nil {
		done(fmt.Errorf("target fingerprint: %w", err))
		return
	}

	if !fr.IsInline() {
		f.phys = NewFinishPhysical(f.index)
		f.phys.Init(f.h, done)
		return
	}
	f.inline = true

	// Physical frames newer than the target's must be exited first. Walk up
	// to the newest frame still sharing the target's physical frame; anything
	// above it belongs to a deeper physical frame.
	b := f.index
	for b > 0 {
		fp, err := st.FingerprintAt(b - 1)
		if err != nil {
			break
		}
		if fp.FrameAddress != f.target.FrameAddress {
			break
		}
		b--
	}
	if b > 0 {
		f.phys = NewFinishPhysical(b - 1)
		f.phys.Init(f.h, done)
		return
	}
	done(f.beginRangePass(th))
}

// beginRangePass starts a step-over across the current top frame's range.
func (f *Finish) beginRangePass(th Thread) error {
	st := th.Stack()
	top, err := st.TopFrame()
	if err != nil {
		return ErrNoFrames
	}
	var over *StepOver
	if rng := top.Location().Range; !rng.Empty() {
		over = NewStepOverRange(rng, f.policy)
	} else {
		over = NewStepOverLine(f.policy)
	}
	var initErr error
	over.Init(f.h, func(err error) { initErr = err })
	if initErr != nil {
		return initErr
	}
	f.over = over
	return nil
}

// ResumeRequest delegates to the active phase.
func (f *Finish) ResumeRequest() ResumeRequest {
	if f.phys != nil {
		return f.phys.ResumeRequest()
	}
	if f.over != nil {
		return f.over.ResumeRequest()
	}
	return ResumeRequest{Op: OpContinue}
}

// OnThreadStop advances the active phase and decides whether the target has
// been exited.
func (f *Finish) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	th, ok := f.h.Resolve()
	if !ok {
		return VerdictUnexpected
	}
	st := th.Stack()

	if f.phys != nil {
		v := f.phys.OnThreadStop(cause, hits)
		if v != VerdictDone {
			return v
		}
		f.phys.Close()
		f.phys = nil
		if !f.inline {
			return VerdictDone
		}
		// Back in the target's physical frame; evaluate the position below
		// without assuming a real event.
		cause = agent.StopCauseNone
		hits = nil
	}

	if f.over != nil {
		v := f.over.OnThreadStop(cause, hits)
		if v != VerdictDone {
			return v
		}
		f.over.Close()
		f.over = nil
	}

	if !f.inline {
		return VerdictUnexpected
	}

	fp, err := st.FingerprintAt(0)
	if err != nil {
		return VerdictUnexpected
	}
	if fp.NewerOrEqual(f.target) {
		// Still inside the inline frame (or something it called): next pass.
		if err := f.beginRangePass(th); err != nil {
			return VerdictUnexpected
		}
		return VerdictContinue
	}

	if !f.zeroDone && f.onZeroLine(th) {
		f.zeroDone = true
		over := NewStepOverLine(f.policy)
		var initErr error
		over.Init(f.h, func(err error) { initErr = err })
		if initErr != nil {
			return VerdictUnexpected
		}
		f.over = over
		return VerdictContinue
	}
	return VerdictDone
}

// onZeroLine reports whether the current position sits in a
// compiler-generated line-0 region.
func (f *Finish) onZeroLine(th Thread) bool {
	top, err := th.Stack().TopFrame()
	if err != nil {
		return false
	}
	entry, err := th.Resolver().LineAt(top.IP())
	return err == nil && entry.IsZeroLine()
}

// Close releases the active phase and fires the on-done guard.
func (f *Finish) Close() error {
	if f.phys != nil {
		f.phys.Close()
		f.phys = nil
	}
	if f.over != nil {
		f.over.Close()
		f.over = nil
	}
	f.onDone.Run()
	return nil
}
