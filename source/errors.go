package source

import "errors"

var (
	// ErrNoImages is returned when an image sequence is created without frames.
	ErrNoImages = errors.New("image sequence has no frames")

	// ErrMixedDimensions is returned when sequence frames differ in size.
	ErrMixedDimensions = errors.New("image sequence frames have different dimensions")

	// ErrClosed is returned when acquiring a closed source.
	ErrClosed = errors.New("source is closed")

	// ErrInvalidDimensions is returned for non-positive source dimensions.
	ErrInvalidDimensions = errors.New("invalid source dimensions")
)
