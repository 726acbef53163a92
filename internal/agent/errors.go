package agent

import "errors"

// Errors returned by agent operations.
var (
	// ErrRequestFailed indicates the agent rejected a request.
	ErrRequestFailed = errors.New("agent request failed")

	// ErrNoAddresses indicates a breakpoint request with no addresses.
	ErrNoAddresses = errors.New("no breakpoint addresses")
)
