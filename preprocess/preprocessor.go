package preprocess

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/opd-ai/glitter/limits"
	"github.com/opd-ai/glitter/scheduler"
	"github.com/opd-ai/glitter/source"
	"github.com/sirupsen/logrus"
)

// Preprocessor turns source frames into grayscale buffers at the working
// resolution.
//
// The preprocessor keeps a working-size scratch surface that is reused
// between captures. Resize and Capture are serialized so a capture never
// runs against a surface of the wrong size.
type Preprocessor struct {
	mu sync.Mutex

	src    source.Source
	handle source.Handle

	width    int
	height   int
	decimate float64
	scratch  *image.Gray

	sigma   float64
	filters *FilterChain

	seq uint64

	timeProvider scheduler.TimeProvider
}

// NewPreprocessor creates a preprocessor that smooths captured frames with
// a Gaussian kernel of the given sigma.
func NewPreprocessor(sigma float64) *Preprocessor {
	p := &Preprocessor{decimate: 1}
	p.setSigmaLocked(sigma)
	return p
}

// SetTimeProvider sets the clock used for FrameBuffer.CapturedAt.
func (p *Preprocessor) SetTimeProvider(tp scheduler.TimeProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeProvider = tp
}

func (p *Preprocessor) now() time.Time {
	return scheduler.GetTimeProvider(p.timeProvider).Now()
}

// Attach binds src as the live frame source. Any previous binding is
// released. When no working size has been set yet, the working size becomes
// the native size of src.
func (p *Preprocessor) Attach(ctx context.Context, src source.Source) error {
	if src == nil {
		return ErrNilSource
	}
	if err := limits.ValidateDimensions(src.Width(), src.Height()); err != nil {
		return fmt.Errorf("source dimensions: %w", err)
	}

	handle, err := src.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire source: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil {
		if err := p.handle.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Preprocessor.Attach",
				"error":    err.Error(),
			}).Warn("Failed to release previous source binding")
		}
	}
	p.src = src
	p.handle = handle

	if p.scratch == nil {
		p.resizeLocked(src.Width(), src.Height(), 1)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Preprocessor.Attach",
		"source_width":  src.Width(),
		"source_height": src.Height(),
		"width":         p.width,
		"height":        p.height,
	}).Info("Source attached")

	return nil
}

// Detach releases the current source binding.
func (p *Preprocessor) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return nil
	}
	err := p.handle.Close()
	p.handle = nil
	p.src = nil
	return err
}

// Resize sets the working resolution and the decimation factor recorded on
// subsequent frames. The scratch surface is reallocated only when the size
// changes.
func (p *Preprocessor) Resize(width, height int, decimate float64) error {
	if err := limits.ValidateDimensions(width, height); err != nil {
		return err
	}
	if decimate < limits.MinDecimate {
		return fmt.Errorf("%w: %v", ErrInvalidDecimate, decimate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.resizeLocked(width, height, decimate)

	logrus.WithFields(logrus.Fields{
		"function": "Preprocessor.Resize",
		"width":    width,
		"height":   height,
		"decimate": decimate,
	}).Debug("Working resolution changed")

	return nil
}

func (p *Preprocessor) resizeLocked(width, height int, decimate float64) {
	p.decimate = decimate
	if p.scratch != nil && p.width == width && p.height == height {
		return
	}
	p.width = width
	p.height = height
	p.scratch = image.NewGray(image.Rect(0, 0, width, height))
}

// SetKernelSigma replaces the smoothing filter used by later captures.
func (p *Preprocessor) SetKernelSigma(sigma float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setSigmaLocked(sigma)
}

func (p *Preprocessor) setSigmaLocked(sigma float64) {
	p.sigma = sigma
	p.filters = NewFilterChain(NewGaussianFilter(sigma))
}

// KernelSigma returns the current smoothing sigma.
func (p *Preprocessor) KernelSigma() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sigma
}

// Dimensions returns the working resolution.
func (p *Preprocessor) Dimensions() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Capture reads the current source frame and converts it to a freshly
// allocated grayscale buffer. It returns false when no source is attached
// or the source has no frame yet; neither case is an error.
func (p *Preprocessor) Capture(ctx context.Context) (*FrameBuffer, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil || p.scratch == nil {
		return nil, false
	}

	img, ok := p.handle.Frame()
	if !ok || img == nil {
		return nil, false
	}
	capturedAt := p.now()

	if err := toGray(img, p.scratch); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Preprocessor.Capture",
			"error":    err.Error(),
		}).Warn("Frame conversion failed")
		return nil, false
	}

	out, err := p.filters.Apply(p.scratch)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Preprocessor.Capture",
			"error":    err.Error(),
		}).Warn("Filter chain failed")
		return nil, false
	}

	p.seq++
	fb := &FrameBuffer{
		Pix:        make([]byte, p.width*p.height),
		Width:      p.width,
		Height:     p.height,
		Seq:        p.seq,
		CapturedAt: capturedAt,
		Decimate:   p.decimate,
	}
	copyPlane(out, fb.Pix, p.width, p.height)

	return fb, true
}

func copyPlane(src *image.Gray, dst []byte, width, height int) {
	for y := 0; y < height; y++ {
		copy(dst[y*width:(y+1)*width], src.Pix[y*src.Stride:y*src.Stride+width])
	}
}
