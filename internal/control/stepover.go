package control

import (
	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/frame"
	"github.com/dshills/stormdbg/internal/sym"
)

// StepOver steps across a source line or address range without descending
// into calls. It wraps a Step; when the Step completes it compares the
// current fingerprint to the one recorded at start:
//
//   - equal, still on the stepped line: restart the Step (short-circuit
//     branches can revisit the line without that being a stop);
//   - older: the function returned, done;
//   - newer: a call was entered, run it to completion via Finish and
//     re-evaluate.
type StepOver struct {
	h      Handle
	policy Policy

	byLine bool
	rng    sym.AddressRange

	// file and line are the stepped source position, for the restart check.
	file string
	line int

	// start is the fingerprint of the frame the step-over began in.
	start frame.Fingerprint

	step   *Step
	finish *Finish

	// failed marks an unrecoverable sub-controller setup failure; the next
	// stop is surfaced raw.
	failed bool

	// stopInSubframe, when set, intercepts an entered call before it is
	// finished over. Used to implement "run until a function is entered".
	stopInSubframe func(th Thread) bool

	// onReturn fires when the stepped frame returns before the line
	// completes.
	onReturn func()

	onDone *Guard
}

// NewStepOverLine creates a step-over with source-line granularity.
func NewStepOverLine(policy Policy) *StepOver {
	return &StepOver{policy: policy, byLine: true}
}

// NewStepOverRange creates a step-over bounded by an explicit address
// range.
func NewStepOverRange(rng sym.AddressRange, policy Policy) *StepOver {
	return &StepOver{policy: policy, rng: rng}
}

// SetShouldStopInSubframe installs a predicate consulted when a call is
// entered; returning true stops there instead of finishing the call.
func (s *StepOver) SetShouldStopInSubframe(fn func(th Thread) bool) {
	s.stopInSubframe = fn
}

// SetOnReturn installs a callback fired when the stepped frame returns.
func (s *StepOver) SetOnReturn(fn func()) {
	s.onReturn = fn
}

// SetOnDone installs a callback run exactly once when the controller is
// closed.
func (s *StepOver) SetOnDone(fn func()) {
	s.onDone = NewGuard(fn)
}

// Name returns the operation name.
func (s *StepOver) Name() string { return "step-over" }

// StartFingerprint returns the fingerprint of the frame the step-over began
// in.
func (s *StepOver) StartFingerprint() frame.Fingerprint { return s.start }

// Init records the starting frame and creates the inner step.
func (s *StepOver) Init(h Handle, done func(error)) {
	s.h = h
	th, ok := h.Resolve()
	if !ok {
		done(ErrThreadGone)
		return
	}
	st := th.Stack()

	fp, err := st.FingerprintAt(0)
	if err != nil {
		done(ErrNoFrames)
		return
	}
	s.start = fp

	if s.byLine {
		top, err := st.TopFrame()
		if err != nil {
			done(ErrNoFrames)
			return
		}
		loc := top.Location()
		s.file = loc.File
		s.line = loc.Line
		s.step = NewStepLine(s.policy)
	} else {
		s.step = NewStepInRange(s.rng, s.policy)
	}
	s.step.Init(h, done)
}

// ResumeRequest delegates to the active sub-controller.
func (s *StepOver) ResumeRequest() ResumeRequest {
	if s.finish != nil {
		return s.finish.ResumeRequest()
	}
	return s.step.ResumeRequest()
}

// OnThreadStop advances the inner step and interprets its completion.
func (s *StepOver) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	th, ok := s.h.Resolve()
	if !ok {
		return VerdictUnexpected
	}
	st := th.Stack()

	if s.failed {
		return VerdictUnexpected
	}

	if s.finish != nil {
		v := s.finish.OnThreadStop(cause, hits)
		if v != VerdictDone {
			return v
		}
		s.finish.Close()
		s.finish = nil
		// The call completed; let the inner step judge the landing position
		// without assuming a real event.
		cause = agent.StopCauseNone
		hits = nil
	}

	v := s.step.OnThreadStop(cause, hits)
	if v != VerdictDone {
		return v
	}

	fp, err := st.FingerprintAt(0)
	if err != nil {
		return VerdictUnexpected
	}

	switch {
	case fp.Equal(s.start):
		if s.byLine && s.onSteppedLine(th) {
			return s.restartStep()
		}
		return VerdictDone

	case s.start.Newer(fp):
		// The stepped frame returned.
		if s.onReturn != nil {
			s.onReturn()
		}
		return VerdictDone

	default:
		// A call was entered.
		if s.stopInSubframe != nil && s.stopInSubframe(th) {
			return VerdictDone
		}
		return s.startFinish()
	}
}

// onSteppedLine reports whether the current top frame still sits on the
// source line being stepped over. The stack frame's location is used rather
// than the raw line table, matching the inner step's criterion.
func (s *StepOver) onSteppedLine(th Thread) bool {
	top, err := th.Stack().TopFrame()
	if err != nil {
		return false
	}
	loc := top.Location()
	return loc.File == s.file && loc.Line == s.line
}

// restartStep replaces the inner step with a fresh one bound to the current
// position. Line-mode step setup is synchronous.
func (s *StepOver) restartStep() Verdict {
	s.step.Close()
	next := NewStepLine(s.policy)
	var initErr error
	next.Init(s.h, func(err error) { initErr = err })
	if initErr != nil {
		return VerdictUnexpected
	}
	s.step = next
	return VerdictContinue
}

// startFinish runs the entered call to completion. Setup may be
// asynchronous; the thread stays stopped until it completes.
func (s *StepOver) startFinish() Verdict {
	fin := NewFinish(0, s.policy)
	s.finish = fin
	h := s.h
	fin.Init(h, func(err error) {
		if err != nil {
			s.finish = nil
			s.failed = true
		}
		reevaluate(h)
	})
	return VerdictFuture
}

// Close releases the sub-controllers and fires the on-done guard.
func (s *StepOver) Close() error {
	if s.finish != nil {
		s.finish.Close()
		s.finish = nil
	}
	if s.step != nil {
		s.step.Close()
		s.step = nil
	}
	s.onDone.Run()
	return nil
}
