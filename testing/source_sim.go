package testing

import (
	"context"
	"image"
	"sync"

	"github.com/opd-ai/glitter/source"
)

// SimulatedSource is a source.Source serving a uniform gray frame whose
// brightness changes on every read, so consecutive frames always differ.
type SimulatedSource struct {
	width, height int

	mu         sync.Mutex
	ready      bool
	frozen     bool
	acquireErr error
	reads      int
	acquired   int
	released   int
}

// NewSimulatedSource creates a ready source of the given size.
func NewSimulatedSource(width, height int) *SimulatedSource {
	return &SimulatedSource{width: width, height: height, ready: true}
}

// Width implements source.Source.
func (s *SimulatedSource) Width() int { return s.width }

// Height implements source.Source.
func (s *SimulatedSource) Height() int { return s.height }

// SetReady controls whether frames are available.
func (s *SimulatedSource) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetFrozen makes every read return the same frame.
func (s *SimulatedSource) SetFrozen(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = frozen
}

// SetAcquireError makes Acquire fail with err.
func (s *SimulatedSource) SetAcquireError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireErr = err
}

// Reads returns how many frames were served.
func (s *SimulatedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Released returns how many handles were closed.
func (s *SimulatedSource) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Acquire implements source.Source.
func (s *SimulatedSource) Acquire(ctx context.Context) (source.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	s.acquired++
	return &simulatedHandle{src: s}, nil
}

type simulatedHandle struct {
	src *SimulatedSource
}

func (h *simulatedHandle) Frame() (image.Image, bool) {
	s := h.src
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, false
	}
	level := uint8(0)
	if !s.frozen {
		level = uint8(s.reads % 256)
	}
	s.reads++

	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	if level != 0 {
		for i := range img.Pix {
			img.Pix[i] = level
		}
	}
	return img, true
}

func (h *simulatedHandle) Close() error {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	h.src.released++
	return nil
}
