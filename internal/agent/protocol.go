package agent

import (
	"encoding/json"

	"github.com/dshills/stormdbg/internal/frame"
)

// ProtocolMessage is the base envelope for all agent messages.
type ProtocolMessage struct {
	// Seq is the message sequence number.
	Seq int `json:"seq"`

	// Type is "request", "response", or "event".
	Type string `json:"type"`
}

// Request is a request sent to the agent.
type Request struct {
	ProtocolMessage

	// Command is the request command name.
	Command string `json:"command"`

	// Arguments contains command-specific arguments.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response is the agent's reply to a request.
type Response struct {
	ProtocolMessage

	// RequestSeq is the sequence number of the request being answered.
	RequestSeq int `json:"request_seq"`

	// Success indicates whether the request succeeded.
	Success bool `json:"success"`

	// Message contains an error description when Success is false.
	Message string `json:"message,omitempty"`

	// Body contains command-specific response data.
	Body json.RawMessage `json:"body,omitempty"`
}

// Event is an unsolicited notification from the agent.
type Event struct {
	ProtocolMessage

	// Event is the event name.
	Event string `json:"event"`

	// Body contains event-specific data.
	Body json.RawMessage `json:"body,omitempty"`
}

// StopCause identifies why a thread stopped.
type StopCause int

const (
	// StopCauseNone means no particular real event: evaluate the current
	// position without assuming one. Internal only; never sent by an agent
	// and never interpreted as a breakpoint hit.
	StopCauseNone StopCause = iota

	// StopCauseStep is a completed real single-step.
	StopCauseStep

	// StopCauseBreakpoint is a software breakpoint hit.
	StopCauseBreakpoint

	// StopCauseException is a hardware exception.
	StopCauseException

	// StopCauseSynthetic is an internally generated re-evaluation after a
	// virtual inline transition. Internal only, like StopCauseNone.
	StopCauseSynthetic
)

// String returns the stop cause name.
func (c StopCause) String() string {
	switch c {
	case StopCauseNone:
		return "none"
	case StopCauseStep:
		return "step"
	case StopCauseBreakpoint:
		return "breakpoint"
	case StopCauseException:
		return "exception"
	case StopCauseSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Real reports whether the cause corresponds to a real execution event.
// None and synthetic causes mean "ignore the cause, just evaluate position".
func (c StopCause) Real() bool {
	return c == StopCauseStep || c == StopCauseBreakpoint || c == StopCauseException
}

// stopCauseFromWire maps a wire reason string to a stop cause.
func stopCauseFromWire(reason string) StopCause {
	switch reason {
	case "step":
		return StopCauseStep
	case "breakpoint":
		return StopCauseBreakpoint
	case "exception":
		return StopCauseException
	default:
		return StopCauseNone
	}
}

// ResumeMode selects how the agent resumes a thread.
type ResumeMode int

const (
	// ResumeContinue resumes unconditionally.
	ResumeContinue ResumeMode = iota

	// ResumeStepInstruction executes one instruction.
	ResumeStepInstruction

	// ResumeStepInRange executes instructions while the instruction pointer
	// stays inside an address range.
	ResumeStepInRange
)

// String returns the wire name of the resume mode.
func (m ResumeMode) String() string {
	switch m {
	case ResumeContinue:
		return "continue"
	case ResumeStepInstruction:
		return "stepInstruction"
	case ResumeStepInRange:
		return "stepInRange"
	default:
		return "unknown"
	}
}

// WireFrame is a raw stack frame as serialized by the agent.
type WireFrame struct {
	// IP is the instruction pointer.
	IP uint64 `json:"ip"`

	// SP is the stack pointer.
	SP uint64 `json:"sp"`

	// CFA is the canonical frame address.
	CFA uint64 `json:"cfa"`

	// BP is the base pointer, zero if unavailable.
	BP uint64 `json:"bp,omitempty"`

	// Regs holds additional register values by name.
	Regs map[string]uint64 `json:"regs,omitempty"`
}

// ToRaw converts a wire frame to the engine's raw frame type.
func (w WireFrame) ToRaw() frame.Raw {
	return frame.Raw{IP: w.IP, SP: w.SP, CFA: w.CFA, BP: w.BP, Regs: w.Regs}
}

// rawsFromWire converts wire frames to raw frames.
func rawsFromWire(wire []WireFrame) []frame.Raw {
	raws := make([]frame.Raw, len(wire))
	for i, w := range wire {
		raws[i] = w.ToRaw()
	}
	return raws
}

// ResumeArguments are the arguments for the "resume" request.
type ResumeArguments struct {
	// ThreadID is the thread to resume.
	ThreadID int `json:"threadId"`

	// Mode is the resume mode wire name.
	Mode string `json:"mode"`

	// RangeLow and RangeHigh bound a stepInRange resume.
	RangeLow  uint64 `json:"rangeLow,omitempty"`
	RangeHigh uint64 `json:"rangeHigh,omitempty"`
}

// SetBreakpointsArguments are the arguments for the "setBreakpoints" request.
type SetBreakpointsArguments struct {
	// Handle is the client-chosen identifier correlating future hits.
	Handle string `json:"handle"`

	// Addresses are the instruction addresses to trap.
	Addresses []uint64 `json:"addresses"`
}

// RemoveBreakpointArguments are the arguments for the "removeBreakpoint"
// request.
type RemoveBreakpointArguments struct {
	// Handle identifies the breakpoint group to remove.
	Handle string `json:"handle"`
}

// UnwindArguments are the arguments for the "unwind" request.
type UnwindArguments struct {
	// ThreadID is the thread to unwind.
	ThreadID int `json:"threadId"`
}

// UnwindResponseBody is the body of a successful "unwind" response.
type UnwindResponseBody struct {
	// Frames is the full unwind, innermost first.
	Frames []WireFrame `json:"frames"`
}

// StoppedEventBody is the body of the "stopped" event.
type StoppedEventBody struct {
	// ThreadID is the thread that stopped.
	ThreadID int `json:"threadId"`

	// Reason is the wire stop reason ("step", "breakpoint", "exception").
	Reason string `json:"reason"`

	// Breakpoints holds the handles of any breakpoints hit.
	Breakpoints []string `json:"breakpoints,omitempty"`

	// Frames is a partial unwind included with the notification,
	// innermost first.
	Frames []WireFrame `json:"frames,omitempty"`
}

// ThreadEventBody is the body of the "thread" event.
type ThreadEventBody struct {
	// ThreadID is the affected thread.
	ThreadID int `json:"threadId"`

	// Reason is "started" or "exited".
	Reason string `json:"reason"`
}

// ExitedEventBody is the body of the "exited" event.
type ExitedEventBody struct {
	// ExitCode is the process exit code.
	ExitCode int `json:"exitCode"`
}

// StopEvent is a decoded stop notification delivered to the engine.
type StopEvent struct {
	// ThreadID is the thread that stopped.
	ThreadID int

	// Cause is the decoded stop cause.
	Cause StopCause

	// Breakpoints holds the handles of any breakpoints hit.
	Breakpoints []string

	// Frames is the partial unwind shipped with the stop, innermost first.
	Frames []frame.Raw
}
