package engine

import "context"

// Engine is a fiducial detector operating on packed 8-bit grayscale buffers.
//
// Engines are driven from a single goroutine and need not be safe for
// concurrent use. Detect reports quads in the coordinate space of the
// buffer it was given, that is at working resolution; callers rescale by
// the decimation factor.
type Engine interface {
	// Init prepares the engine for frames of the given size and registers
	// the initial code set.
	Init(codes []uint32, width, height int, opts Options) error
	// Detect finds tags in pix, which holds width*height bytes.
	Detect(ctx context.Context, pix []byte) ([]Tag, error)
	// AddCode registers another code to look for.
	AddCode(code uint32) error
	// Resize changes the expected frame size.
	Resize(width, height int) error
	// SetDecimate records the decimation factor of subsequent frames.
	SetDecimate(factor float64) error
}
