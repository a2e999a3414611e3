package source

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// ImageSequence replays a fixed list of still images as a looping video.
type ImageSequence struct {
	frames        []image.Image
	width, height int
}

// NewImageSequence decodes the given image files. All files must share the
// same dimensions.
func NewImageSequence(paths []string) (*ImageSequence, error) {
	if len(paths) == 0 {
		return nil, ErrNoImages
	}

	frames := make([]image.Image, 0, len(paths))
	for _, path := range paths {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to open frame %s: %w", path, err)
		}
		frames = append(frames, img)
	}

	seq, err := NewImageSequenceFromImages(frames)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewImageSequence",
		"frames":   len(frames),
		"width":    seq.width,
		"height":   seq.height,
	}).Info("Loaded image sequence")

	return seq, nil
}

// NewImageSequenceFromImages builds a sequence from decoded images.
func NewImageSequenceFromImages(frames []image.Image) (*ImageSequence, error) {
	if len(frames) == 0 {
		return nil, ErrNoImages
	}

	b := frames[0].Bounds()
	for i, f := range frames[1:] {
		if f.Bounds().Dx() != b.Dx() || f.Bounds().Dy() != b.Dy() {
			return nil, fmt.Errorf("%w: frame %d is %dx%d, want %dx%d",
				ErrMixedDimensions, i+1, f.Bounds().Dx(), f.Bounds().Dy(), b.Dx(), b.Dy())
		}
	}

	return &ImageSequence{
		frames: frames,
		width:  b.Dx(),
		height: b.Dy(),
	}, nil
}

// Width returns the frame width.
func (s *ImageSequence) Width() int { return s.width }

// Height returns the frame height.
func (s *ImageSequence) Height() int { return s.height }

// Len returns the number of frames in one loop.
func (s *ImageSequence) Len() int { return len(s.frames) }

// Acquire returns a handle that starts at the first frame.
func (s *ImageSequence) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sequenceHandle{seq: s}, nil
}

type sequenceHandle struct {
	seq    *ImageSequence
	mu     sync.Mutex
	next   int
	closed atomic.Bool
}

func (h *sequenceHandle) Frame() (image.Image, bool) {
	if h.closed.Load() {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	img := h.seq.frames[h.next]
	h.next = (h.next + 1) % len(h.seq.frames)
	return img, true
}

func (h *sequenceHandle) Close() error {
	h.closed.Store(true)
	return nil
}
