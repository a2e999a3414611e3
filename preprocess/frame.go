package preprocess

import (
	"image"
	"math"
	"time"
)

// FrameBuffer is a packed 8-bit grayscale frame at working resolution.
//
// A FrameBuffer is never modified after Capture returns it. Ownership moves
// from the preprocessor to the controller and then to the worker.
type FrameBuffer struct {
	Pix        []byte // Width*Height bytes, row-major, one byte per pixel
	Width      int
	Height     int
	Seq        uint64    // capture sequence number, starting at 1
	CapturedAt time.Time // when the source frame was read
	Decimate   float64   // decimation factor the frame was captured at
}

// Len returns the number of pixels in the frame.
func (f *FrameBuffer) Len() int {
	return f.Width * f.Height
}

// Gray returns an image.Gray view sharing the frame's pixels.
func (f *FrameBuffer) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Pix,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// WorkingSize returns the working resolution for a source at the given
// decimation factor: floor(src / decimate) per axis. Factors below 1 are
// treated as 1.
func WorkingSize(srcWidth, srcHeight int, decimate float64) (int, int) {
	if decimate < 1 {
		decimate = 1
	}
	// The epsilon keeps exact quotients such as 1920/1.2 from flooring to 1599.
	w := int(math.Floor(float64(srcWidth)/decimate + 1e-9))
	h := int(math.Floor(float64(srcHeight)/decimate + 1e-9))
	return w, h
}
