package event

// Topics published by the stepping engine.
const (
	// TopicThreadStopped fires when a thread stop is surfaced to the user.
	TopicThreadStopped Topic = "thread.stopped"

	// TopicThreadResumed fires when a thread resumes execution.
	TopicThreadResumed Topic = "thread.resumed"

	// TopicThreadCreated and TopicThreadExited track thread lifetime.
	TopicThreadCreated Topic = "thread.created"
	TopicThreadExited  Topic = "thread.exited"

	// TopicStepCompleted fires when a stepping operation reports done.
	TopicStepCompleted Topic = "step.completed"

	// TopicStepFailed fires when a stepping operation could not be set up.
	TopicStepFailed Topic = "step.failed"

	// TopicBreakpointHit fires for each breakpoint handle hit at a stop.
	TopicBreakpointHit Topic = "breakpoint.hit"

	// TopicProcessExited fires when the debugged process exits.
	TopicProcessExited Topic = "process.exited"
)

// StoppedPayload accompanies TopicThreadStopped.
type StoppedPayload struct {
	// ThreadID is the stopped thread.
	ThreadID int

	// Cause is the stop cause name.
	Cause string

	// Trace is the formatted visible stack.
	Trace string
}

// ResumedPayload accompanies TopicThreadResumed.
type ResumedPayload struct {
	// ThreadID is the resumed thread.
	ThreadID int

	// Mode is the resume mode name.
	Mode string
}

// ThreadPayload accompanies TopicThreadCreated and TopicThreadExited.
type ThreadPayload struct {
	// ThreadID is the affected thread.
	ThreadID int
}

// StepPayload accompanies TopicStepCompleted and TopicStepFailed.
type StepPayload struct {
	// ThreadID is the stepped thread.
	ThreadID int

	// Op is the operation name, for example "step-over".
	Op string

	// Err is the setup failure message; empty on completion.
	Err string
}

// BreakpointHitPayload accompanies TopicBreakpointHit.
type BreakpointHitPayload struct {
	// ThreadID is the thread that hit the breakpoint.
	ThreadID int

	// Handle identifies the breakpoint group.
	Handle string

	// HitCount is the cumulative hit count for the handle.
	HitCount int
}

// ExitedPayload accompanies TopicProcessExited.
type ExitedPayload struct {
	// ExitCode is the process exit code.
	ExitCode int
}
