package stack

import "errors"

// Errors returned by stack operations.
var (
	// ErrFrameIndexOutOfRange indicates a visible frame index is invalid.
	ErrFrameIndexOutOfRange = errors.New("frame index out of range")

	// ErrHiddenCountOutOfRange indicates an attempt to hide more inline
	// frames than are ambiguous at the top of the stack.
	ErrHiddenCountOutOfRange = errors.New("hidden inline count out of range")

	// ErrNoPhysicalFrame indicates the stack has inline frames with no
	// physical frame below them, which should never happen.
	ErrNoPhysicalFrame = errors.New("no physical frame below inline frames")
)
