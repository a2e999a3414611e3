package preprocess

import "errors"

var (
	// ErrNilSource is returned when attaching a nil source.
	ErrNilSource = errors.New("source cannot be nil")

	// ErrInvalidDecimate is returned for decimation factors below 1.
	ErrInvalidDecimate = errors.New("decimation factor must be >= 1")

	// ErrUnsupportedImage is returned when a frame has an empty bounds rectangle.
	ErrUnsupportedImage = errors.New("unsupported source image")
)
