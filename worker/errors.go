package worker

import "errors"

var (
	// ErrJobInFlight is returned when a second Process is sent before the
	// first result was delivered.
	ErrJobInFlight = errors.New("detection job already in flight")

	// ErrNotRunning is returned when sending to a stopped boundary.
	ErrNotRunning = errors.New("worker boundary is not running")

	// ErrAlreadyRunning is returned by Start on a running boundary.
	ErrAlreadyRunning = errors.New("worker boundary is already running")

	// ErrNoSession is returned for jobs sent before Init.
	ErrNoSession = errors.New("no detector session")

	// ErrDimensionMismatch is returned for frames whose size differs from
	// the session resolution.
	ErrDimensionMismatch = errors.New("frame dimensions do not match session")

	// ErrEnginePanic wraps a recovered engine panic.
	ErrEnginePanic = errors.New("detection engine panicked")

	// ErrInvalidMessage is returned for unknown or malformed messages.
	ErrInvalidMessage = errors.New("invalid worker message")

	// ErrInvalidCode is returned for a zero code.
	ErrInvalidCode = errors.New("code must be non-zero")
)
