package source

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyntheticValidation(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantErr       bool
	}{
		{"valid", 64, 48, false},
		{"zero width", 0, 48, true},
		{"negative height", 64, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSynthetic(tt.width, tt.height)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDimensions)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.width, s.Width())
			assert.Equal(t, tt.height, s.Height())
		})
	}
}

func TestSyntheticWarmup(t *testing.T) {
	s, err := NewSynthetic(64, 48, WithWarmupFrames(2))
	require.NoError(t, err)

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)

	_, ok := h.Frame()
	assert.False(t, ok)
	_, ok = h.Frame()
	assert.False(t, ok)

	img, ok := h.Frame()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
}

func TestSyntheticSquarePosition(t *testing.T) {
	s, err := NewSynthetic(64, 48, WithSquareSize(8))
	require.NoError(t, err)

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)

	for n := uint64(0); n < 3; n++ {
		img, ok := h.Frame()
		require.True(t, ok)

		sq := s.SquareAt(n)
		inside := img.At(sq.Min.X+1, sq.Min.Y+1)
		assert.Equal(t, color.RGBAModel.Convert(color.White), color.RGBAModel.Convert(inside))

		outside := img.At(sq.Max.X+1, sq.Min.Y+1)
		r, _, _, _ := outside.RGBA()
		assert.Less(t, r>>8, uint32(32))
	}
}

func TestSyntheticClose(t *testing.T) {
	s, err := NewSynthetic(16, 16)
	require.NoError(t, err)

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())
	_, ok := h.Frame()
	assert.False(t, ok)

	require.NoError(t, s.Close())
	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcquireCanceledContext(t *testing.T) {
	s, err := NewSynthetic(16, 16)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImageSequenceFromImages(t *testing.T) {
	a := imaging.New(32, 24, color.Black)
	b := imaging.New(32, 24, color.White)

	seq, err := NewImageSequenceFromImages([]image.Image{a, b})
	require.NoError(t, err)
	assert.Equal(t, 32, seq.Width())
	assert.Equal(t, 24, seq.Height())
	assert.Equal(t, 2, seq.Len())

	h, err := seq.Acquire(context.Background())
	require.NoError(t, err)

	for _, want := range []image.Image{a, b, a} {
		got, ok := h.Frame()
		require.True(t, ok)
		assert.Same(t, want, got)
	}
}

func TestImageSequenceErrors(t *testing.T) {
	_, err := NewImageSequenceFromImages(nil)
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = NewImageSequence(nil)
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = NewImageSequenceFromImages([]image.Image{
		imaging.New(32, 24, color.Black),
		imaging.New(16, 24, color.Black),
	})
	assert.ErrorIs(t, err, ErrMixedDimensions)

	_, err = NewImageSequence([]string{filepath.Join(t.TempDir(), "missing.png")})
	assert.Error(t, err)
}

func TestImageSequenceFromFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}
	for _, p := range paths {
		require.NoError(t, imaging.Save(imaging.New(20, 10, color.Gray{Y: 128}), p))
	}

	seq, err := NewImageSequence(paths)
	require.NoError(t, err)
	assert.Equal(t, 20, seq.Width())
	assert.Equal(t, 10, seq.Height())
}
