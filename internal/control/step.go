package control

import (
	"errors"
	"fmt"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/frame"
	"github.com/dshills/stormdbg/internal/sym"
)

// Policy holds the stepping decisions that are configuration, not
// mechanics.
type Policy struct {
	// StepOverUnsymbolized steps out of functions with no line information
	// instead of stopping in them.
	StepOverUnsymbolized bool
}

// Step is the innermost stepping engine: it steps within a known address
// range (a source line or a caller-supplied range), or one instruction at a
// time when no range is known, and decides on every stop whether the step
// has truly left the line being stepped.
type Step struct {
	h      Handle
	policy Policy

	// byLine selects source-line granularity: ranges belonging to the same
	// line are adopted and stepping continues.
	byLine bool

	// rng is the current step range; empty means instruction stepping.
	rng sym.AddressRange

	// file and line are the remembered source position, taken from the
	// stack frame rather than the raw line table, since inline call
	// synthesis can diverge them.
	file string
	line int

	// start is the fingerprint of the frame the step began in.
	start frame.Fingerprint

	// finish steps out of an unsymbolized callee when active.
	finish *FinishPhysical

	// pendingSynthetic requests one synthetic re-evaluation after a
	// committed virtual inline entry.
	pendingSynthetic bool

	onDone *Guard
}

// NewStepLine creates a step with source-line granularity starting from the
// thread's current position.
func NewStepLine(policy Policy) *Step {
	return &Step{policy: policy, byLine: true}
}

// NewStepInRange creates a step bounded by an explicit address range. The
// range is not extended to neighboring ranges of the same line.
func NewStepInRange(rng sym.AddressRange, policy Policy) *Step {
	return &Step{policy: policy, rng: rng}
}

// NewStepInstruction creates a single-instruction step.
func NewStepInstruction(policy Policy) *Step {
	return &Step{policy: policy}
}

// SetOnDone installs a callback run exactly once when the controller is
// closed, whatever the exit path.
func (s *Step) SetOnDone(fn func()) {
	s.onDone = NewGuard(fn)
}

// Name returns the operation name.
func (s *Step) Name() string { return "step" }

// StartFingerprint returns the fingerprint of the frame the step began in.
func (s *Step) StartFingerprint() frame.Fingerprint { return s.start }

// Init binds the step to the thread's current top frame.
func (s *Step) Init(h Handle, done func(error)) {
	s.h = h
	th, ok := h.Resolve()
	if !ok {
		done(ErrThreadGone)
		return
	}
	st := th.Stack()

	top, err := st.TopFrame()
	if err != nil {
		done(ErrNoFrames)
		return
	}
	fp, err := st.FingerprintAt(0)
	if err != nil {
		done(fmt.Errorf("%w: %v", ErrNoFrames, err))
		return
	}
	s.start = fp

	if s.byLine {
		loc := top.Location()
		s.file = loc.File
		s.line = loc.Line
		if s.rng.Empty() {
			if entry, err := th.Resolver().LineAt(top.IP()); err == nil {
				s.rng = entry.Range
			} else if !loc.Range.Empty() {
				s.rng = loc.Range
			}
		}
	}
	done(nil)
}

// ResumeRequest returns range stepping while a range is known, otherwise
// single instructions; after a committed virtual inline entry it asks for
// one synthetic stop instead.
func (s *Step) ResumeRequest() ResumeRequest {
	if s.finish != nil {
		return s.finish.ResumeRequest()
	}
	if s.pendingSynthetic {
		return ResumeRequest{Op: OpSyntheticStop}
	}
	if !s.rng.Empty() {
		return ResumeRequest{Op: OpStepInRange, Range: s.rng}
	}
	return ResumeRequest{Op: OpStepInstruction}
}

// OnThreadStop implements the stepping algorithm.
func (s *Step) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	th, ok := s.h.Resolve()
	if !ok {
		return VerdictUnexpected
	}
	st := th.Stack()

	if s.finish != nil {
		switch v := s.finish.OnThreadStop(cause, hits); v {
		case VerdictDone:
			s.finish.Close()
			s.finish = nil
			// Back out of the unsymbolized callee; evaluate the landing
			// position without assuming a real event.
			cause = agent.StopCauseNone
		default:
			return v
		}
	}

	top, err := st.TopFrame()
	if err != nil {
		return VerdictUnexpected
	}
	ip := top.IP()

	if cause == agent.StopCauseSynthetic {
		s.pendingSynthetic = false
		fp, err := st.FingerprintAt(0)
		if err != nil {
			return VerdictUnexpected
		}
		if fp.Newer(s.start) {
			return VerdictDone
		}
	}

	// Still inside the step range: keep going. Synthetic stops skip this,
	// since the instruction pointer has not moved.
	if cause != agent.StopCauseSynthetic && !s.rng.Empty() && s.rng.Contains(ip) {
		return VerdictContinue
	}

	if s.byLine {
		entry, err := th.Resolver().LineAt(ip)
		switch {
		case err != nil:
			if !errors.Is(err, sym.ErrNoLineInfo) {
				return VerdictUnexpected
			}
			if th.Resolver().IsTrampoline(ip) {
				// A stub is never finished out of; the wrapper decides how to
				// cross it.
				return VerdictDone
			}
			if !s.policy.StepOverUnsymbolized {
				return VerdictDone
			}
			return s.startFinishOutOfUnsymbolized(th)
		case entry.IsZeroLine():
			// Compiler-generated code never terminates a source step.
			s.rng = entry.Range
			return VerdictContinue
		case entry.File == s.file && entry.Line == s.line:
			// Another range of the same line, including the boundary
			// between two ranges: adopt it and keep stepping.
			s.rng = entry.Range
			return VerdictContinue
		}
	}

	if v, decided := s.checkInlineEntry(th, cause); decided {
		return v
	}

	return VerdictDone
}

// startFinishOutOfUnsymbolized treats the unsymbolized function as a callee
// to skip: a nested finish runs it to completion while the step waits.
func (s *Step) startFinishOutOfUnsymbolized(th Thread) Verdict {
	fin := NewFinishPhysical(0)
	s.finish = fin
	h := s.h
	fin.Init(h, func(err error) {
		if err != nil {
			// Could not arrange the skip; fall back to stopping where we
			// are on the next evaluation.
			s.finish = nil
			s.policy.StepOverUnsymbolized = false
		}
		reevaluate(h)
	})
	return VerdictFuture
}

// checkInlineEntry looks for an "inline entry" opportunity: a hidden
// ambiguous inline frame called from the line being stepped, representing a
// strictly newer frame than the step started in. Fresh real stops commit
// the entry and request a synthetic stop; delegated evaluations report Done
// without committing.
func (s *Step) checkInlineEntry(th Thread, cause agent.StopCause) (Verdict, bool) {
	if !s.byLine {
		return 0, false
	}
	st := th.Stack()
	hidden := st.HiddenInlineCount()
	if hidden == 0 {
		return 0, false
	}

	// Expose the next hidden inline frame and inspect it.
	if err := st.SetHiddenInlineCount(hidden - 1); err != nil {
		return 0, false
	}
	rollback := func() { _ = st.SetHiddenInlineCount(hidden) }

	cand, err := st.TopFrame()
	if err != nil || !cand.IsInline() {
		rollback()
		return 0, false
	}
	callSite, err := st.FrameAt(1)
	if err != nil {
		rollback()
		return 0, false
	}
	if loc := callSite.Location(); loc.File != s.file || loc.Line != s.line {
		rollback()
		return 0, false
	}
	fp, err := st.FingerprintAt(0)
	if err != nil || !fp.Newer(s.start) {
		rollback()
		return 0, false
	}

	if cause.Real() {
		s.pendingSynthetic = true
		return VerdictContinue, true
	}
	rollback()
	return VerdictDone, true
}

// Close releases the nested finish, if any, and fires the on-done guard.
func (s *Step) Close() error {
	if s.finish != nil {
		s.finish.Close()
		s.finish = nil
	}
	s.onDone.Run()
	return nil
}
