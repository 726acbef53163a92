package control

import "github.com/dshills/stormdbg/internal/agent"

// Func is a closure-based controller for one-off compositions: each phase
// of the contract dispatches to an optional function field. Nil fields get
// neutral defaults.
type Func struct {
	// OpName is returned by Name; empty defaults to "func".
	OpName string

	// InitFunc binds the controller to a thread. Nil completes immediately.
	InitFunc func(h Handle, done func(error))

	// ResumeFunc returns the resume request. Nil continues unconditionally.
	ResumeFunc func() ResumeRequest

	// StopFunc evaluates a stop. Nil votes Unexpected.
	StopFunc func(cause agent.StopCause, hits []string) Verdict

	// CloseFunc releases resources. Nil is a no-op.
	CloseFunc func()
}

// Name returns the operation name.
func (f *Func) Name() string {
	if f.OpName == "" {
		return "func"
	}
	return f.OpName
}

// Init dispatches to InitFunc.
func (f *Func) Init(h Handle, done func(error)) {
	if f.InitFunc == nil {
		done(nil)
		return
	}
	f.InitFunc(h, done)
}

// ResumeRequest dispatches to ResumeFunc.
func (f *Func) ResumeRequest() ResumeRequest {
	if f.ResumeFunc == nil {
		return ResumeRequest{Op: OpContinue}
	}
	return f.ResumeFunc()
}

// OnThreadStop dispatches to StopFunc.
func (f *Func) OnThreadStop(cause agent.StopCause, hits []string) Verdict {
	if f.StopFunc == nil {
		return VerdictUnexpected
	}
	return f.StopFunc(cause, hits)
}

// Close dispatches to CloseFunc.
func (f *Func) Close() error {
	if f.CloseFunc != nil {
		f.CloseFunc()
	}
	return nil
}
