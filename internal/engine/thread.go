package engine

import (
	"context"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/control"
	"github.com/dshills/stormdbg/internal/event"
	"github.com/dshills/stormdbg/internal/frame"
	"github.com/dshills/stormdbg/internal/stack"
	"github.com/dshills/stormdbg/internal/sym"
)

// Thread is one thread of the debugged process. The engine's dispatch
// goroutine exclusively owns it; controllers reach it through weak handles.
type Thread struct {
	eng *Engine
	id  int

	// stack is valid while stopped is true and cleared on resume.
	stack *stack.Stack

	// controller is the attached top-level step controller, nil when the
	// thread just runs or stops raw.
	controller control.Controller

	stopped bool
}

// newThread creates a tracked thread.
func newThread(eng *Engine, id int) *Thread {
	return &Thread{
		eng:   eng,
		id:    id,
		stack: stack.New(eng.resolver),
	}
}

// ID returns the thread identifier.
func (t *Thread) ID() int { return t.id }

// Stack returns the thread's call stack.
func (t *Thread) Stack() *stack.Stack { return t.stack }

// Unwinder returns the thread's full-unwind source.
func (t *Thread) Unwinder() stack.Unwinder { return t }

// Resolver returns the symbol resolver.
func (t *Thread) Resolver() sym.Resolver { return t.eng.resolver }

// Breakpoints returns the breakpoint collaborator.
func (t *Thread) Breakpoints() control.Breakpoints { return t.eng.bps }

// Reevaluate schedules a controller re-run with a "none" cause. Controllers
// call it after asynchronous work completes to leave the Future state.
func (t *Thread) Reevaluate() {
	eng := t.eng
	id := t.id
	eng.post(func() {
		th, ok := eng.threads[id]
		if !ok || th != t || !t.stopped {
			return
		}
		t.evaluateStop(agent.StopCauseNone, nil)
	})
}

// RequestFullUnwind fetches a full unwind from the agent. The request runs
// off the dispatch goroutine; the callback is posted back and becomes a
// no-op if the thread is gone by then.
func (t *Thread) RequestFullUnwind(done func(frames []frame.Raw, err error)) {
	eng := t.eng
	id := t.id
	go func() {
		raws, err := eng.client.Unwind(context.Background(), id)
		eng.post(func() {
			th, ok := eng.threads[id]
			if !ok || th != t {
				return
			}
			done(raws, err)
		})
	}()
}

// evaluateStop routes a stop to the attached controller and acts on its
// verdict.
func (t *Thread) evaluateStop(cause agent.StopCause, hits []string) {
	if !t.stopped {
		return
	}
	if t.controller == nil {
		t.report(cause)
		return
	}

	v := t.controller.OnThreadStop(cause, hits)
	t.eng.log.Debug("controller verdict",
		"thread", t.id, "op", t.controller.Name(), "cause", cause.String(), "verdict", v.String())

	switch v {
	case control.VerdictContinue:
		t.resume()

	case control.VerdictDone:
		name := t.controller.Name()
		t.detachController()
		t.eng.publish(event.TopicStepCompleted, event.StepPayload{ThreadID: t.id, Op: name})
		t.report(cause)

	case control.VerdictUnexpected:
		// The controller has no opinion on this stop: surface it raw.
		t.detachController()
		t.report(cause)

	case control.VerdictFuture:
		// Async work in flight; the thread stays stopped until the
		// controller re-triggers evaluation.
	}
}

// resume issues the controller's requested resume. A synthetic-stop request
// never touches the process: the controller is re-invoked with a synthetic
// cause and the stack kept intact.
func (t *Thread) resume() {
	req := control.ResumeRequest{Op: control.OpContinue}
	if t.controller != nil {
		req = t.controller.ResumeRequest()
	}

	if req.Op == control.OpSyntheticStop {
		t.eng.post(func() {
			th, ok := t.eng.threads[t.id]
			if !ok || th != t {
				return
			}
			t.evaluateStop(agent.StopCauseSynthetic, nil)
		})
		return
	}

	args := agent.ResumeArguments{ThreadID: t.id}
	switch req.Op {
	case control.OpStepInstruction:
		args.Mode = agent.ResumeStepInstruction.String()
	case control.OpStepInRange:
		args.Mode = agent.ResumeStepInRange.String()
		args.RangeLow = req.Range.Low
		args.RangeHigh = req.Range.High
	default:
		args.Mode = agent.ResumeContinue.String()
	}

	t.stopped = false
	t.stack.Clear()
	t.eng.publish(event.TopicThreadResumed, event.ResumedPayload{ThreadID: t.id, Mode: args.Mode})

	eng := t.eng
	id := t.id
	go func() {
		if err := eng.client.Resume(context.Background(), args); err != nil {
			eng.post(func() {
				th, ok := eng.threads[id]
				if !ok || th != t {
					return
				}
				eng.log.Error("resume failed", "thread", id, "error", err)
				th.stopped = true
				name := "continue"
				if th.controller != nil {
					name = th.controller.Name()
				}
				th.detachController()
				eng.publish(event.TopicStepFailed, event.StepPayload{
					ThreadID: id, Op: name, Err: err.Error(),
				})
			})
		}
	}()
}

// report surfaces a stop to the user.
func (t *Thread) report(cause agent.StopCause) {
	t.eng.publish(event.TopicThreadStopped, event.StoppedPayload{
		ThreadID: t.id,
		Cause:    cause.String(),
		Trace:    t.stack.FormatTrace(),
	})
}

// detachController closes and drops the attached controller.
func (t *Thread) detachController() {
	if t.controller == nil {
		return
	}
	c := t.controller
	t.controller = nil
	c.Close()
}
