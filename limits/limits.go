// Package limits provides centralized frame size constants and validation functions
// for the glitter pipeline. This ensures the preprocessor and the worker boundary
// agree on what a well-formed grayscale buffer looks like.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MinFrameDimension is the smallest working width or height accepted.
	// Decimating below this leaves too few pixels for a quad to survive.
	MinFrameDimension = 8

	// MaxFrameDimension is the largest source width or height accepted (8K).
	MaxFrameDimension = 8192

	// MaxFrameBuffer is the absolute maximum grayscale buffer size in bytes
	// (one byte per pixel at MaxFrameDimension x MaxFrameDimension / 4).
	// This prevents a misconfigured source from exhausting memory.
	MaxFrameBuffer = MaxFrameDimension * MaxFrameDimension / 4

	// MinDecimate is the lower bound of the decimation factor (native resolution).
	MinDecimate = 1.0
)

var (
	// ErrFrameEmpty indicates an empty or nil frame buffer was provided
	ErrFrameEmpty = errors.New("empty frame buffer")

	// ErrFrameTooLarge indicates a frame buffer exceeds MaxFrameBuffer
	ErrFrameTooLarge = errors.New("frame buffer too large")

	// ErrDimensionOutOfRange indicates a width or height outside the accepted range
	ErrDimensionOutOfRange = errors.New("frame dimension out of range")

	// ErrBufferSizeMismatch indicates len(buffer) != width*height
	ErrBufferSizeMismatch = errors.New("frame buffer size does not match dimensions")
)

// ValidateDimensions checks that width and height are within
// [MinFrameDimension, MaxFrameDimension] and that the pixel count fits MaxFrameBuffer.
func ValidateDimensions(width, height int) error {
	if width < MinFrameDimension || height < MinFrameDimension {
		return fmt.Errorf("%w: %dx%d below minimum %d", ErrDimensionOutOfRange, width, height, MinFrameDimension)
	}
	if width > MaxFrameDimension || height > MaxFrameDimension {
		return fmt.Errorf("%w: %dx%d above maximum %d", ErrDimensionOutOfRange, width, height, MaxFrameDimension)
	}
	if width*height > MaxFrameBuffer {
		return fmt.Errorf("%w: %d pixels exceeds limit %d", ErrFrameTooLarge, width*height, MaxFrameBuffer)
	}
	return nil
}

// ValidateFrameBuffer validates a packed grayscale buffer against its declared dimensions.
// Returns an error with context if the buffer is empty, oversized or mis-sized.
func ValidateFrameBuffer(pix []byte, width, height int) error {
	if len(pix) == 0 {
		return ErrFrameEmpty
	}
	if len(pix) > MaxFrameBuffer {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(pix), MaxFrameBuffer)
	}
	if len(pix) != width*height {
		return fmt.Errorf("%w: got %d bytes for %dx%d", ErrBufferSizeMismatch, len(pix), width, height)
	}
	return nil
}
