package sym

import "errors"

// Errors returned by symbol resolution.
var (
	// ErrNoSymbol indicates the address has no symbol coverage.
	ErrNoSymbol = errors.New("no symbol at address")

	// ErrNoLineInfo indicates no line table covers the address.
	ErrNoLineInfo = errors.New("no line information at address")

	// ErrLocationNotFound indicates a location spec resolved to nothing.
	ErrLocationNotFound = errors.New("location not found")
)
