package source

import (
	"context"
	"image"
)

// Source is a live frame producer such as a camera or a video file.
//
// Width and Height report the native resolution of the frames the source
// produces. Acquire binds the source and returns a Handle from which the
// current frame can be read.
type Source interface {
	Width() int
	Height() int
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is an acquired binding to a Source.
type Handle interface {
	// Frame returns the most recent frame. The boolean is false when the
	// source has not produced a frame yet.
	Frame() (image.Image, bool)
	// Close releases the binding.
	Close() error
}
