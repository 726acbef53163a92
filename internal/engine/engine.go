package engine

import (
	"log/slog"
	"sync"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/control"
	"github.com/dshills/stormdbg/internal/event"
	"github.com/dshills/stormdbg/internal/stack"
	"github.com/dshills/stormdbg/internal/sym"
)

// taskQueueSize bounds the dispatch queue. Posting never blocks the
// dispatch goroutine itself; a full queue drops the task and logs.
const taskQueueSize = 1024

// Engine owns the thread table and serializes all stepping state on one
// dispatch goroutine.
type Engine struct {
	client   *agent.Client
	resolver sym.Resolver
	policy   control.Policy
	bus      *event.Bus
	log      *slog.Logger

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Dispatch-goroutine state. Never touched from outside the loop.
	threads map[int]*Thread
	bps     *BreakpointManager
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithBus sets the bus debugger events are published on.
func WithBus(bus *event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithPolicy sets the stepping policy.
func WithPolicy(policy control.Policy) Option {
	return func(e *Engine) { e.policy = policy }
}

// New creates an engine over an agent connection. Call Start to begin
// processing.
func New(client *agent.Client, resolver sym.Resolver, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		resolver: resolver,
		log:      slog.Default(),
		tasks:    make(chan func(), taskQueueSize),
		done:     make(chan struct{}),
		threads:  make(map[int]*Thread),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	e.bps = newBreakpointManager(e)
	return e
}

// Start registers the agent event handlers and starts the dispatch
// goroutine.
func (e *Engine) Start() {
	e.client.OnStopped(func(ev agent.StopEvent) {
		e.post(func() { e.handleStopped(ev) })
	})
	e.client.OnThread(func(body agent.ThreadEventBody) {
		e.post(func() { e.handleThread(body) })
	})
	e.client.OnExited(func(body agent.ExitedEventBody) {
		e.post(func() { e.handleExited(body) })
	})

	e.wg.Add(1)
	go e.run()
}

// Close stops the dispatch goroutine. Pending tasks are dropped.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

// run is the dispatch loop.
func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.tasks:
			fn()
		}
	}
}

// post enqueues a task for the dispatch goroutine.
func (e *Engine) post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	default:
		e.log.Error("dispatch queue full, dropping task")
	}
}

// publish emits a debugger event if a bus is attached.
func (e *Engine) publish(topic event.Topic, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(event.New(topic, payload, "engine")); err != nil {
		e.log.Warn("publish failed", "topic", topic, "error", err)
	}
}

// thread returns the tracked thread, creating it on first sight.
func (e *Engine) thread(id int) *Thread {
	th, ok := e.threads[id]
	if !ok {
		th = newThread(e, id)
		e.threads[id] = th
		e.publish(event.TopicThreadCreated, event.ThreadPayload{ThreadID: id})
	}
	return th
}

// handleStopped rebuilds the stopped thread's stack from the notification's
// partial unwind and routes the stop to its controller. Ambiguous inline
// frames at the top start hidden: they are not entered until a controller
// commits the entry.
func (e *Engine) handleStopped(ev agent.StopEvent) {
	th := e.thread(ev.ThreadID)
	th.stopped = true

	th.stack.Clear()
	for _, raw := range ev.Frames {
		if err := th.stack.AppendPhysicalFrame(raw); err != nil {
			e.log.Warn("frame symbolization failed", "thread", ev.ThreadID, "error", err)
		}
	}
	if err := th.stack.SetHiddenInlineCount(th.stack.AmbiguousInlineCount()); err != nil {
		e.log.Warn("hide ambiguous inline frames", "thread", ev.ThreadID, "error", err)
	}

	for _, handle := range ev.Breakpoints {
		count := e.bps.recordHit(handle)
		e.publish(event.TopicBreakpointHit, event.BreakpointHitPayload{
			ThreadID: ev.ThreadID,
			Handle:   handle,
			HitCount: count,
		})
	}

	th.evaluateStop(ev.Cause, ev.Breakpoints)
}

// handleThread tracks thread lifetime. A destroyed thread's controller is
// closed; its pending callbacks find the thread gone and become no-ops.
func (e *Engine) handleThread(body agent.ThreadEventBody) {
	switch body.Reason {
	case "started":
		e.thread(body.ThreadID)
	case "exited":
		th, ok := e.threads[body.ThreadID]
		if !ok {
			return
		}
		th.detachController()
		delete(e.threads, body.ThreadID)
		e.publish(event.TopicThreadExited, event.ThreadPayload{ThreadID: body.ThreadID})
	}
}

// handleExited surfaces process exit.
func (e *Engine) handleExited(body agent.ExitedEventBody) {
	e.publish(event.TopicProcessExited, event.ExitedPayload{ExitCode: body.ExitCode})
}

// runCommand attaches a controller to a stopped thread and resumes once its
// setup completes. Setup failure abandons the command without touching
// thread state.
func (e *Engine) runCommand(threadID int, c control.Controller) {
	th, ok := e.threads[threadID]
	if !ok {
		c.Close()
		e.publish(event.TopicStepFailed, event.StepPayload{
			ThreadID: threadID, Op: c.Name(), Err: ErrUnknownThread.Error(),
		})
		return
	}
	if !th.stopped {
		c.Close()
		e.publish(event.TopicStepFailed, event.StepPayload{
			ThreadID: threadID, Op: c.Name(), Err: ErrThreadRunning.Error(),
		})
		return
	}

	th.detachController()
	th.controller = c
	c.Init(threadHandle{eng: e, id: threadID}, func(err error) {
		cur, ok := e.threads[threadID]
		if !ok || cur != th || th.controller != c {
			// The thread went away or the command was superseded.
			c.Close()
			return
		}
		if err != nil {
			th.controller = nil
			c.Close()
			e.log.Warn("command setup failed", "thread", threadID, "op", c.Name(), "error", err)
			e.publish(event.TopicStepFailed, event.StepPayload{
				ThreadID: threadID, Op: c.Name(), Err: err.Error(),
			})
			return
		}
		th.resume()
	})
}

// Continue resumes a stopped thread with no controller attached.
func (e *Engine) Continue(threadID int) {
	e.post(func() {
		th, ok := e.threads[threadID]
		if !ok || !th.stopped {
			return
		}
		th.detachController()
		th.resume()
	})
}

// Step executes one source line, descending into calls.
func (e *Engine) Step(threadID int) {
	e.post(func() {
		e.runCommand(threadID, control.NewStepInto(e.policy))
	})
}

// StepInstruction executes a single machine instruction.
func (e *Engine) StepInstruction(threadID int) {
	e.post(func() {
		e.runCommand(threadID, control.NewStepInstruction(e.policy))
	})
}

// StepOver executes one source line without descending into calls.
func (e *Engine) StepOver(threadID int) {
	e.post(func() {
		e.runCommand(threadID, control.NewStepOverLine(e.policy))
	})
}

// Finish runs the visible frame at frameIndex to its return.
func (e *Engine) Finish(threadID, frameIndex int) {
	e.post(func() {
		e.runCommand(threadID, control.NewFinish(frameIndex, e.policy))
	})
}

// Until runs the thread to a named or file:line location. With olderFrame
// set, recursive hits in frames newer than the current one are skipped.
func (e *Engine) Until(threadID int, spec string, olderFrame bool) {
	e.post(func() {
		u := control.NewUntilLocation(spec)
		if olderFrame {
			th, ok := e.threads[threadID]
			if ok && th.stopped {
				if fp, err := th.stack.FingerprintAt(0); err == nil {
					u.SetThreshold(fp, control.CompareOlderOrEqual)
				}
			}
		}
		e.runCommand(threadID, u)
	})
}

// SetBreakpointAt resolves a location and places a user breakpoint. done
// runs on the dispatch goroutine.
func (e *Engine) SetBreakpointAt(spec string, done func(handle string, err error)) {
	e.post(func() {
		addrs, err := e.resolver.ResolveLocation(spec)
		if err != nil {
			done("", err)
			return
		}
		e.bps.Set(addrs, done)
	})
}

// RemoveBreakpoint removes a breakpoint group by handle.
func (e *Engine) RemoveBreakpoint(handle string) {
	e.post(func() {
		e.bps.Remove(handle)
	})
}

// threadHandle is the weak thread reference handed to controllers. Resolve
// runs on the dispatch goroutine and reports absence once the thread is
// destroyed.
type threadHandle struct {
	eng *Engine
	id  int
}

// Resolve looks the thread up in the engine's table.
func (h threadHandle) Resolve() (control.Thread, bool) {
	th, ok := h.eng.threads[h.id]
	if !ok {
		return nil, false
	}
	return th, true
}

// compile-time interface checks
var (
	_ control.Handle      = threadHandle{}
	_ control.Thread      = (*Thread)(nil)
	_ stack.Unwinder      = (*Thread)(nil)
	_ control.Breakpoints = (*BreakpointManager)(nil)
)
