package control

import (
	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/frame"
)

// StepInto steps one source line, descending into calls. It wraps a Step
// and accepts its completion wherever it lands, including the first
// instruction of an inline function; landing in a trampoline stub instead
// steps through to the stub's destination.
type StepInto struct {
	h      Handle
	policy Policy

	// start is the fingerprint of the frame the step began in.
	start frame.Fingerprint

	step  *Step
	tramp *StepThroughTrampoline

	// failed marks an unrecoverable trampoline setup failure.
	failed bool

	onDone *Guard
}

// NewStepInto creates a source-line step that descends into calls.
func NewStepInto(policy Policy) *StepInto {
	return &StepInto{policy: policy}
}

// SetOnDone installs a callback run exactly once when the controller is
// closed.
func (s *StepInto) SetOnDone(fn func()) {
	s.onDone = NewGuard(fn)
}

// Name returns the operation name.
func (s *StepInto) Name() string { return "step-into" }

// Init records the starting frame and creates the inner step.
func (s *StepInto) Init(h Handle, done func(error)) {
	s.h = h
	th, ok := h.Resolve()
	if !ok {
		done(ErrThreadGone)
		return
	}
	fp, err := th.Stack().FingerprintAt(0)
	if err != nil {
		done(ErrNoFrames)
		return
	}
	s.start = fp
	s.step = NewStepLine(s.policy)
	s.step.Init(h, done)
}

// ResumeRequest delegates to the active sub-controller.
func (s *StepInto) ResumeRequest() ResumeRequest {
	if s.tramp != nil {
		return s.tramp.ResumeRequest()
	}
	return s.step.ResumeRequest()
}

// OnThreadStop advances the inner step and stops wherever it lands, routing
// through trampoline stubs.
func (s *StepInto) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	th, ok := s.h.Resolve()
	if !ok {
		return VerdictUnexpected
	}

	if s.failed {
		return VerdictUnexpected
	}

	if s.tramp != nil {
		v := s.tramp.OnThreadStop(cause, hits)
		if v != VerdictDone {
			return v
		}
		s.tramp.Close()
		s.tramp = nil
		// Landed at the stub's destination.
		return VerdictDone
	}

	v := s.step.OnThreadStop(cause, hits)
	if v != VerdictDone {
		return v
	}

	top, err := th.Stack().TopFrame()
	if err != nil {
		return VerdictUnexpected
	}
	if th.Resolver().IsTrampoline(top.IP()) {
		return s.startTrampoline()
	}
	return VerdictDone
}

// startTrampoline steps through the stub the step landed in. Setup may be
// asynchronous.
func (s *StepInto) startTrampoline() Verdict {
	tramp := NewStepThroughTrampoline()
	s.tramp = tramp
	h := s.h
	tramp.Init(h, func(err error) {
		if err != nil {
			s.tramp = nil
			s.failed = true
		}
		reevaluate(h)
	})
	return VerdictFuture
}

// Close releases the sub-controllers and fires the on-done guard.
func (s *StepInto) Close() error {
	if s.tramp != nil {
		s.tramp.Close()
		s.tramp = nil
	}
	if s.step != nil {
		s.step.Close()
		s.step = nil
	}
	s.onDone.Run()
	return nil
}
