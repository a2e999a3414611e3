package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Synthetic produces RGBA frames containing a bright square that moves
// across a dark background. It stands in for a camera in demos and tests.
type Synthetic struct {
	width, height int
	squareSize    int
	warmup        uint64

	mu     sync.Mutex
	closed bool
}

// SyntheticOption configures a Synthetic source.
type SyntheticOption func(*Synthetic)

// WithSquareSize sets the edge length of the moving square in pixels.
func WithSquareSize(size int) SyntheticOption {
	return func(s *Synthetic) {
		if size > 0 {
			s.squareSize = size
		}
	}
}

// WithWarmupFrames makes the first n reads report no frame, like a camera
// that is still starting up.
func WithWarmupFrames(n int) SyntheticOption {
	return func(s *Synthetic) {
		if n > 0 {
			s.warmup = uint64(n)
		}
	}
}

// NewSynthetic creates a synthetic source with the given native resolution.
func NewSynthetic(width, height int, opts ...SyntheticOption) (*Synthetic, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	s := &Synthetic{
		width:      width,
		height:     height,
		squareSize: min(width, height) / 4,
	}
	for _, opt := range opts {
		opt(s)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSynthetic",
		"width":    width,
		"height":   height,
		"square":   s.squareSize,
	}).Debug("Created synthetic source")

	return s, nil
}

// Width returns the native frame width.
func (s *Synthetic) Width() int { return s.width }

// Height returns the native frame height.
func (s *Synthetic) Height() int { return s.height }

// Acquire returns a new handle. Each handle keeps its own frame counter.
func (s *Synthetic) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &syntheticHandle{src: s}, nil
}

// Close marks the source closed; further Acquire calls fail.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type syntheticHandle struct {
	src    *Synthetic
	reads  uint64 // atomic
	closed atomic.Bool
}

func (h *syntheticHandle) Frame() (image.Image, bool) {
	if h.closed.Load() {
		return nil, false
	}
	n := atomic.AddUint64(&h.reads, 1)
	if n <= h.src.warmup {
		return nil, false
	}
	return h.src.render(n - h.src.warmup - 1), true
}

func (h *syntheticHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// render draws frame n. The square advances 4 pixels per frame and wraps.
func (s *Synthetic) render(n uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 16, G: 16, B: 16, A: 255}}, image.Point{}, draw.Src)

	draw.Draw(img, s.SquareAt(n), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	return img
}

// SquareAt returns the rectangle covered by the square in frame n, counting
// from the first frame after warmup.
func (s *Synthetic) SquareAt(n uint64) image.Rectangle {
	span := s.width - s.squareSize
	x := 0
	if span > 0 {
		x = int((n * 4) % uint64(span))
	}
	y := (s.height - s.squareSize) / 2
	return image.Rect(x, y, x+s.squareSize, y+s.squareSize)
}
