package control

import "errors"

// Setup errors reported through a controller's Init callback.
var (
	// ErrNoFrames indicates the thread has no frames to step from.
	ErrNoFrames = errors.New("no frames to step from")

	// ErrThreadGone indicates the thread was destroyed before setup
	// finished.
	ErrThreadGone = errors.New("thread no longer exists")

	// ErrFrameNotFound indicates the requested frame is not on the stack.
	ErrFrameNotFound = errors.New("frame not found on stack")

	// ErrTrampolineDestination indicates a trampoline's destination symbol
	// could not be resolved. There is no safe fallback continuation.
	ErrTrampolineDestination = errors.New("cannot resolve trampoline destination")

	// ErrNoLocations indicates an until target resolved to no addresses.
	ErrNoLocations = errors.New("no addresses for until target")
)
