package engine

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/event"
	"github.com/dshills/stormdbg/internal/sym"
)

func testIndex() *sym.Index {
	return sym.NewIndex(sym.Tables{
		Functions: []sym.FuncRecord{
			{Name: "main.fm", Range: sym.AddressRange{Low: 0x100, High: 0x200}},
			{Name: "main.main", Range: sym.AddressRange{Low: 0x200, High: 0x300}},
		},
		Lines: []sym.LineEntry{
			{File: "fm.go", Line: 10, Range: sym.AddressRange{Low: 0x100, High: 0x110}},
			{File: "fm.go", Line: 11, Range: sym.AddressRange{Low: 0x110, High: 0x120}},
			{File: "main.go", Line: 5, Range: sym.AddressRange{Low: 0x200, High: 0x210}},
		},
	})
}

// fakeAgent answers the wire protocol on the agent side of an in-memory
// pipe. Each resume request pops the next scripted stop and sends it back
// as a "stopped" event.
type fakeAgent struct {
	t  *testing.T
	tr *agent.RawTransport

	mu    sync.Mutex
	stops []agent.StoppedEventBody

	resumes chan agent.ResumeArguments
	sets    chan agent.SetBreakpointsArguments
	removes chan string
}

func startEngine(t *testing.T, opts ...Option) (*Engine, *fakeAgent, *event.Bus) {
	t.Helper()
	clientConn, agentConn := net.Pipe()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := agent.NewClient(agent.NewRawTransport(clientConn), log)

	fa := &fakeAgent{
		t:       t,
		tr:      agent.NewRawTransport(agentConn),
		resumes: make(chan agent.ResumeArguments, 16),
		sets:    make(chan agent.SetBreakpointsArguments, 16),
		removes: make(chan string, 16),
	}
	go fa.serve()

	bus := event.NewBus()
	opts = append([]Option{WithLogger(log), WithBus(bus)}, opts...)
	eng := New(client, testIndex(), opts...)
	eng.Start()

	t.Cleanup(func() {
		eng.Close()
		client.Close()
		fa.tr.Close()
	})
	return eng, fa, bus
}

// script queues stop events popped one per resume request.
func (a *fakeAgent) script(stops ...agent.StoppedEventBody) {
	a.mu.Lock()
	a.stops = append(a.stops, stops...)
	a.mu.Unlock()
}

func (a *fakeAgent) serve() {
	for {
		msg, err := a.tr.Receive()
		if err != nil {
			return
		}
		var req agent.Request
		if err := json.Unmarshal(msg.Content, &req); err != nil {
			a.t.Errorf("undecodable request: %v", err)
			return
		}

		var body any
		switch req.Command {
		case "resume":
			var args agent.ResumeArguments
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				a.t.Errorf("decode resume: %v", err)
			}
			a.resumes <- args
			a.respond(req, nil)
			a.mu.Lock()
			var next *agent.StoppedEventBody
			if len(a.stops) > 0 {
				next = &a.stops[0]
				a.stops = a.stops[1:]
			}
			a.mu.Unlock()
			if next != nil {
				a.event("stopped", *next)
			}
			continue
		case "setBreakpoints":
			var args agent.SetBreakpointsArguments
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				a.t.Errorf("decode setBreakpoints: %v", err)
			}
			a.sets <- args
		case "removeBreakpoint":
			var args agent.RemoveBreakpointArguments
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				a.t.Errorf("decode removeBreakpoint: %v", err)
			}
			a.removes <- args.Handle
		case "unwind":
			body = agent.UnwindResponseBody{}
		}
		a.respond(req, body)
	}
}

func (a *fakeAgent) respond(req agent.Request, body any) {
	resp := agent.Response{
		ProtocolMessage: agent.ProtocolMessage{Seq: req.Seq, Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			a.t.Errorf("marshal body: %v", err)
			return
		}
		resp.Body = data
	}
	a.send(resp)
}

func (a *fakeAgent) event(name string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		a.t.Errorf("marshal event: %v", err)
		return
	}
	a.send(agent.Event{
		ProtocolMessage: agent.ProtocolMessage{Type: "event"},
		Event:           name,
		Body:            data,
	})
}

func (a *fakeAgent) send(v any) {
	content, err := json.Marshal(v)
	if err != nil {
		a.t.Errorf("marshal message: %v", err)
		return
	}
	if err := a.tr.Send(&agent.Message{Content: content}); err != nil {
		a.t.Errorf("send: %v", err)
	}
}

// subscribe collects events for a topic pattern into a channel.
func subscribe(t *testing.T, bus *event.Bus, pattern event.Topic) chan event.Event {
	t.Helper()
	ch := make(chan event.Event, 16)
	if _, err := bus.Subscribe(pattern, func(evt event.Event) { ch <- evt }); err != nil {
		t.Fatalf("Subscribe %s: %v", pattern, err)
	}
	return ch
}

func awaitEvent(t *testing.T, ch chan event.Event, what string) event.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return event.Event{}
	}
}

func TestEngineReportsRawStop(t *testing.T) {
	_, fa, bus := startEngine(t)
	stopped := subscribe(t, bus, event.TopicThreadStopped)
	created := subscribe(t, bus, event.TopicThreadCreated)

	fa.event("stopped", agent.StoppedEventBody{
		ThreadID: 1,
		Reason:   "breakpoint",
		Frames:   []agent.WireFrame{{IP: 0x100, CFA: 0x5000}},
	})

	evt := awaitEvent(t, created, "thread.created")
	if payload := evt.Payload.(event.ThreadPayload); payload.ThreadID != 1 {
		t.Errorf("created thread = %d, want 1", payload.ThreadID)
	}

	evt = awaitEvent(t, stopped, "thread.stopped")
	payload := evt.Payload.(event.StoppedPayload)
	if payload.ThreadID != 1 || payload.Cause != "breakpoint" {
		t.Errorf("stopped payload = %+v", payload)
	}
	if !strings.Contains(payload.Trace, "main.fm") {
		t.Errorf("trace %q does not mention main.fm", payload.Trace)
	}
}

func TestEngineStepCompletes(t *testing.T) {
	eng, fa, bus := startEngine(t)
	stopped := subscribe(t, bus, event.TopicThreadStopped)
	completed := subscribe(t, bus, event.TopicStepCompleted)
	resumed := subscribe(t, bus, event.TopicThreadResumed)

	fa.event("stopped", agent.StoppedEventBody{
		ThreadID: 1,
		Reason:   "breakpoint",
		Frames:   []agent.WireFrame{{IP: 0x100, CFA: 0x5000}},
	})
	awaitEvent(t, stopped, "initial stop")

	// The next resume lands on the next line.
	fa.script(agent.StoppedEventBody{
		ThreadID: 1,
		Reason:   "step",
		Frames:   []agent.WireFrame{{IP: 0x110, CFA: 0x5000}},
	})
	eng.Step(1)

	evt := awaitEvent(t, resumed, "thread.resumed")
	if payload := evt.Payload.(event.ResumedPayload); payload.Mode != "stepInRange" {
		t.Errorf("resume mode = %s, want stepInRange", payload.Mode)
	}
	args := <-fa.resumes
	if args.ThreadID != 1 || args.RangeLow != 0x100 || args.RangeHigh != 0x110 {
		t.Errorf("resume args = %+v, want range [0x100,0x110)", args)
	}

	evt = awaitEvent(t, completed, "step.completed")
	if payload := evt.Payload.(event.StepPayload); payload.Op != "step-into" {
		t.Errorf("completed op = %s, want step-into", payload.Op)
	}
	evt = awaitEvent(t, stopped, "final stop")
	if payload := evt.Payload.(event.StoppedPayload); !strings.Contains(payload.Trace, "fm.go:11") {
		t.Errorf("trace %q does not show fm.go:11", payload.Trace)
	}
}

func TestEngineContinue(t *testing.T) {
	eng, fa, bus := startEngine(t)
	stopped := subscribe(t, bus, event.TopicThreadStopped)

	fa.event("stopped", agent.StoppedEventBody{
		ThreadID: 1,
		Reason:   "breakpoint",
		Frames:   []agent.WireFrame{{IP: 0x100, CFA: 0x5000}},
	})
	awaitEvent(t, stopped, "initial stop")

	eng.Continue(1)
	select {
	case args := <-fa.resumes:
		if args.Mode != "continue" {
			t.Errorf("resume mode = %s, want continue", args.Mode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("continue never reached the agent")
	}
}

func TestEngineStepWhileRunningFails(t *testing.T) {
	eng, fa, bus := startEngine(t)
	failed := subscribe(t, bus, event.TopicStepFailed)
	created := subscribe(t, bus, event.TopicThreadCreated)

	// Thread exists but is running.
	fa.event("thread", agent.ThreadEventBody{ThreadID: 1, Reason: "started"})
	awaitEvent(t, created, "thread.created")
	eng.Step(1)

	evt := awaitEvent(t, failed, "step.failed")
	payload := evt.Payload.(event.StepPayload)
	if payload.ThreadID != 1 || payload.Err != ErrThreadRunning.Error() {
		t.Errorf("failed payload = %+v, want thread running", payload)
	}
}

func TestEngineStepUnknownThreadFails(t *testing.T) {
	eng, _, bus := startEngine(t)
	failed := subscribe(t, bus, event.TopicStepFailed)

	eng.Step(42)

	evt := awaitEvent(t, failed, "step.failed")
	if payload := evt.Payload.(event.StepPayload); payload.Err != ErrUnknownThread.Error() {
		t.Errorf("failed payload = %+v, want unknown thread", payload)
	}
}

func TestEngineUserBreakpoints(t *testing.T) {
	eng, fa, bus := startEngine(t)
	hits := subscribe(t, bus, event.TopicBreakpointHit)
	stopped := subscribe(t, bus, event.TopicThreadStopped)

	handles := make(chan string, 1)
	eng.SetBreakpointAt("main.fm", func(handle string, err error) {
		if err != nil {
			t.Errorf("SetBreakpointAt: %v", err)
		}
		handles <- handle
	})

	args := <-fa.sets
	if len(args.Addresses) != 1 || args.Addresses[0] != 0x100 {
		t.Errorf("breakpoint addresses = %v, want [0x100]", args.Addresses)
	}
	var handle string
	select {
	case handle = <-handles:
	case <-time.After(2 * time.Second):
		t.Fatal("breakpoint handle never delivered")
	}
	if handle != args.Handle {
		t.Errorf("handle = %s, agent saw %s", handle, args.Handle)
	}

	fa.event("stopped", agent.StoppedEventBody{
		ThreadID:    1,
		Reason:      "breakpoint",
		Breakpoints: []string{handle},
		Frames:      []agent.WireFrame{{IP: 0x100, CFA: 0x5000}},
	})
	awaitEvent(t, stopped, "breakpoint stop")
	evt := awaitEvent(t, hits, "breakpoint.hit")
	payload := evt.Payload.(event.BreakpointHitPayload)
	if payload.Handle != handle || payload.HitCount != 1 {
		t.Errorf("hit payload = %+v, want handle %s count 1", payload, handle)
	}

	eng.RemoveBreakpoint(handle)
	select {
	case removed := <-fa.removes:
		if removed != handle {
			t.Errorf("removed = %s, want %s", removed, handle)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remove never reached the agent")
	}
}

func TestEngineThreadExitDetachesController(t *testing.T) {
	eng, fa, bus := startEngine(t)
	stopped := subscribe(t, bus, event.TopicThreadStopped)
	exited := subscribe(t, bus, event.TopicThreadExited)
	failed := subscribe(t, bus, event.TopicStepFailed)

	fa.event("stopped", agent.StoppedEventBody{
		ThreadID: 1,
		Reason:   "breakpoint",
		Frames:   []agent.WireFrame{{IP: 0x100, CFA: 0x5000}},
	})
	awaitEvent(t, stopped, "initial stop")

	fa.event("thread", agent.ThreadEventBody{ThreadID: 1, Reason: "exited"})
	evt := awaitEvent(t, exited, "thread.exited")
	if payload := evt.Payload.(event.ThreadPayload); payload.ThreadID != 1 {
		t.Errorf("exited thread = %d, want 1", payload.ThreadID)
	}

	// Commands against the destroyed thread fail cleanly.
	eng.Step(1)
	evt = awaitEvent(t, failed, "step.failed")
	if payload := evt.Payload.(event.StepPayload); payload.Err != ErrUnknownThread.Error() {
		t.Errorf("failed payload = %+v, want unknown thread", payload)
	}
}
