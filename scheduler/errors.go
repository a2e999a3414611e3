package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the timer is already ticking.
	ErrAlreadyRunning = errors.New("timer is already running")

	// ErrInvalidInterval is returned when the tick interval is not positive.
	ErrInvalidInterval = errors.New("timer interval must be positive")

	// ErrNilCallback is returned by Start when no callback is given.
	ErrNilCallback = errors.New("timer callback cannot be nil")
)
