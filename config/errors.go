package config

import "errors"

var (
	// ErrInvalidConfig is returned when the resolved configuration is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownSource is returned for an unsupported source kind.
	ErrUnknownSource = errors.New("unknown source kind")
)
