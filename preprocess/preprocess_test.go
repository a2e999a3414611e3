package preprocess

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/opd-ai/glitter/limits"
	"github.com/opd-ai/glitter/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource serves a fixed image, optionally withholding frames.
type stubSource struct {
	img      image.Image
	ready    bool
	acquired int
	closed   int
	mu       sync.Mutex
	err      error
}

func (s *stubSource) Width() int  { return s.img.Bounds().Dx() }
func (s *stubSource) Height() int { return s.img.Bounds().Dy() }

func (s *stubSource) Acquire(ctx context.Context) (source.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	return &stubHandle{src: s}, nil
}

type stubHandle struct{ src *stubSource }

func (h *stubHandle) Frame() (image.Image, bool) {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	return h.src.img, h.src.ready
}

func (h *stubHandle) Close() error {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	h.src.closed++
	return nil
}

func TestWorkingSize(t *testing.T) {
	tests := []struct {
		decimate   float64
		wantWidth  int
		wantHeight int
	}{
		{1.0, 1920, 1080},
		{1.2, 1600, 900},
		{1.4, 1371, 771},
		{2.0, 960, 540},
		{3.0, 640, 360},
		{0.5, 1920, 1080},
	}

	for _, tt := range tests {
		w, h := WorkingSize(1920, 1080, tt.decimate)
		assert.Equal(t, tt.wantWidth, w, "width at decimate %v", tt.decimate)
		assert.Equal(t, tt.wantHeight, h, "height at decimate %v", tt.decimate)
	}
}

func TestAttachUsesNativeSize(t *testing.T) {
	src := &stubSource{img: imaging.New(64, 48, color.White), ready: true}
	p := NewPreprocessor(0)

	require.NoError(t, p.Attach(context.Background(), src))
	w, h := p.Dimensions()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
}

func TestAttachErrors(t *testing.T) {
	p := NewPreprocessor(0)
	assert.ErrorIs(t, p.Attach(context.Background(), nil), ErrNilSource)

	tiny := &stubSource{img: imaging.New(4, 4, color.White)}
	assert.ErrorIs(t, p.Attach(context.Background(), tiny), limits.ErrDimensionOutOfRange)

	failing := &stubSource{img: imaging.New(64, 48, color.White), err: errors.New("camera busy")}
	assert.Error(t, p.Attach(context.Background(), failing))
}

func TestReattachReleasesPreviousBinding(t *testing.T) {
	first := &stubSource{img: imaging.New(64, 48, color.White), ready: true}
	second := &stubSource{img: imaging.New(64, 48, color.Black), ready: true}
	p := NewPreprocessor(0)

	require.NoError(t, p.Attach(context.Background(), first))
	require.NoError(t, p.Resize(32, 24, 2))
	require.NoError(t, p.Attach(context.Background(), second))

	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 0, second.closed)

	// The working size survives re-binding.
	w, h := p.Dimensions()
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)

	fb, ok := p.Capture(context.Background())
	require.True(t, ok)
	assert.Equal(t, byte(0), fb.Pix[0])

	require.NoError(t, p.Detach())
	assert.Equal(t, 1, second.closed)
	_, ok = p.Capture(context.Background())
	assert.False(t, ok)
}

func TestCaptureNotReady(t *testing.T) {
	p := NewPreprocessor(0)

	_, ok := p.Capture(context.Background())
	assert.False(t, ok, "no source attached")

	src := &stubSource{img: imaging.New(64, 48, color.White)}
	require.NoError(t, p.Attach(context.Background(), src))
	_, ok = p.Capture(context.Background())
	assert.False(t, ok, "source has no frame yet")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src.ready = true
	_, ok = p.Capture(ctx)
	assert.False(t, ok, "canceled context")
}

func TestCaptureProducesWorkingSizeBuffer(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{"nrgba", imaging.New(120, 90, color.NRGBA{R: 200, G: 200, B: 200, A: 255})},
		{"rgba", image.NewRGBA(image.Rect(0, 0, 120, 90))},
		{"gray", image.NewGray(image.Rect(0, 0, 120, 90))},
		{"ycbcr", image.NewYCbCr(image.Rect(0, 0, 120, 90), image.YCbCrSubsampleRatio420)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{img: tt.img, ready: true}
			p := NewPreprocessor(0.5)
			require.NoError(t, p.Attach(context.Background(), src))

			for _, decimate := range []float64{1.0, 1.2, 2.0} {
				w, h := WorkingSize(120, 90, decimate)
				require.NoError(t, p.Resize(w, h, decimate))

				fb, ok := p.Capture(context.Background())
				require.True(t, ok)
				assert.Equal(t, w, fb.Width)
				assert.Equal(t, h, fb.Height)
				assert.Len(t, fb.Pix, w*h)
				assert.Equal(t, decimate, fb.Decimate)
			}
		})
	}
}

func TestCaptureGrayscaleValues(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			if x < 20 {
				img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{A: 255})
			}
		}
	}

	p := NewPreprocessor(0)
	require.NoError(t, p.Attach(context.Background(), &stubSource{img: img, ready: true}))

	fb, ok := p.Capture(context.Background())
	require.True(t, ok)
	assert.Equal(t, byte(255), fb.Pix[5*40+5])
	assert.Equal(t, byte(0), fb.Pix[5*40+35])
}

func TestCaptureGrayFastPath(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}

	p := NewPreprocessor(0)
	require.NoError(t, p.Attach(context.Background(), &stubSource{img: img, ready: true}))

	fb, ok := p.Capture(context.Background())
	require.True(t, ok)
	assert.Equal(t, img.Pix, fb.Pix)
}

func TestCaptureReturnsFreshBuffers(t *testing.T) {
	p := NewPreprocessor(0)
	require.NoError(t, p.Attach(context.Background(), &stubSource{img: imaging.New(32, 32, color.White), ready: true}))

	a, ok := p.Capture(context.Background())
	require.True(t, ok)
	b, ok := p.Capture(context.Background())
	require.True(t, ok)

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	a.Pix[0] = 7
	assert.NotEqual(t, a.Pix[0], b.Pix[0])
}

func TestCaptureTimestamp(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPreprocessor(0)
	p.SetTimeProvider(fixedClock{t: at})
	require.NoError(t, p.Attach(context.Background(), &stubSource{img: imaging.New(32, 32, color.White), ready: true}))

	fb, ok := p.Capture(context.Background())
	require.True(t, ok)
	assert.Equal(t, at, fb.CapturedAt)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func (c fixedClock) NewTimer(d time.Duration) *time.Timer { return time.NewTimer(d) }

func TestResizeValidation(t *testing.T) {
	p := NewPreprocessor(0)
	assert.ErrorIs(t, p.Resize(4, 100, 1), limits.ErrDimensionOutOfRange)
	assert.ErrorIs(t, p.Resize(100, 100, 0.9), ErrInvalidDecimate)
}

func TestSetKernelSigma(t *testing.T) {
	// A single bright pixel spreads to its neighbours once smoothing is enabled.
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	img.Pix[8*16+8] = 255

	p := NewPreprocessor(0)
	require.NoError(t, p.Attach(context.Background(), &stubSource{img: img, ready: true}))

	sharp, ok := p.Capture(context.Background())
	require.True(t, ok)
	assert.Equal(t, byte(0), sharp.Pix[8*16+9])

	p.SetKernelSigma(1.0)
	assert.Equal(t, 1.0, p.KernelSigma())

	smooth, ok := p.Capture(context.Background())
	require.True(t, ok)
	assert.Greater(t, smooth.Pix[8*16+9], byte(0))
	assert.Less(t, smooth.Pix[8*16+8], byte(255))
}

func TestConcurrentResizeAndCapture(t *testing.T) {
	p := NewPreprocessor(0.2)
	require.NoError(t, p.Attach(context.Background(), &stubSource{img: imaging.New(200, 100, color.White), ready: true}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, d := range []float64{1.2, 1.4, 1.6, 1.8, 2.0} {
			w, h := WorkingSize(200, 100, d)
			assert.NoError(t, p.Resize(w, h, d))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			fb, ok := p.Capture(context.Background())
			if !assert.True(t, ok) {
				return
			}
			w, h := WorkingSize(200, 100, fb.Decimate)
			assert.Equal(t, w, fb.Width)
			assert.Equal(t, h, fb.Height)
			assert.Len(t, fb.Pix, fb.Width*fb.Height)
		}
	}()
	wg.Wait()
}

func TestFingerprint(t *testing.T) {
	a := &FrameBuffer{Pix: make([]byte, 64), Width: 8, Height: 8}
	b := &FrameBuffer{Pix: make([]byte, 64), Width: 8, Height: 8}
	assert.Equal(t, FingerprintOf(a), FingerprintOf(b))

	b.Pix[10] = 1
	assert.NotEqual(t, FingerprintOf(a), FingerprintOf(b))

	// Same bytes, transposed dimensions.
	c := &FrameBuffer{Pix: make([]byte, 64), Width: 4, Height: 16}
	assert.NotEqual(t, FingerprintOf(a), FingerprintOf(c))
}

func TestFilterChain(t *testing.T) {
	chain := NewFilterChain()
	assert.Equal(t, 0, chain.Len())

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	out, err := chain.Apply(img)
	require.NoError(t, err)
	assert.Same(t, img, out)

	chain.Add(NewGaussianFilter(0))
	chain.Add(failingFilter{})
	_, err = chain.Apply(img)
	assert.ErrorContains(t, err, "filter 1 (failing)")
}

type failingFilter struct{}

func (failingFilter) Apply(*image.Gray) (*image.Gray, error) { return nil, errors.New("boom") }
func (failingFilter) Name() string                           { return "failing" }

func TestGaussianFilter(t *testing.T) {
	assert.Equal(t, 0.0, NewGaussianFilter(-1).Sigma)
	assert.Equal(t, "gaussian", NewGaussianFilter(1).Name())

	_, err := NewGaussianFilter(1).Apply(nil)
	assert.Error(t, err)
}

func TestScalePlane(t *testing.T) {
	src := []byte{
		0, 100,
		100, 200,
	}
	dst := make([]byte, 4*4)
	require.NoError(t, scalePlane(src, 2, 2, 2, dst, 4, 4, 4))
	assert.Equal(t, byte(0), dst[0])
	assert.Equal(t, byte(50), dst[1])

	assert.Error(t, scalePlane(src[:2], 2, 2, 2, dst, 4, 4, 4))
	assert.Error(t, scalePlane(src, 2, 2, 2, dst[:3], 4, 4, 4))
}
