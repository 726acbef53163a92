package engine

import "errors"

var (
	// ErrUnknownThread indicates the thread is not in the thread table.
	ErrUnknownThread = errors.New("unknown thread")

	// ErrThreadRunning indicates a command that requires a stopped thread.
	ErrThreadRunning = errors.New("thread is running")

	// ErrEngineClosed indicates the engine has been shut down.
	ErrEngineClosed = errors.New("engine closed")
)
