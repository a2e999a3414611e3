package engine

import "errors"

var (
	// ErrNotInitialized is returned when an engine is used before Init.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrInvalidCode is returned for the zero code.
	ErrInvalidCode = errors.New("code must be non-zero")

	// ErrBufferSize is returned when a buffer does not match the engine size.
	ErrBufferSize = errors.New("buffer size does not match engine dimensions")

	// ErrInvalidDecimate is returned for decimation factors below 1.
	ErrInvalidDecimate = errors.New("decimation factor must be >= 1")
)
