package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/glitter/engine"
	"github.com/sirupsen/logrus"
)

// DetectRecord describes one Detect call observed by SimulatedEngine.
type DetectRecord struct {
	Width    int
	Height   int
	Bytes    int
	Decimate float64
	Started  time.Time
	Err      error
}

// SimulatedEngine is a scripted engine.Engine for tests.
//
// Detect returns the configured tags after the configured delay, or fails
// with the configured error. A Detect can also be made to block until
// Release is called, or to panic. All calls are logged for verification.
type SimulatedEngine struct {
	mu sync.Mutex

	tags      []engine.Tag
	tagsFn    func(call int, pix []byte) []engine.Tag
	delay     time.Duration
	err       error
	panicOn   map[int]bool
	blockCh   chan struct{}
	detecting chan struct{}

	codes    []uint32
	width    int
	height   int
	opts     engine.Options
	decimate float64
	ready    bool

	initErr  error
	inits    int
	resizes  []engine.Point
	detects  []DetectRecord
	detectCh chan DetectRecord
}

// NewSimulatedEngine creates a simulated engine that finds nothing.
func NewSimulatedEngine() *SimulatedEngine {
	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedEngine",
	}).Debug("Creating simulated detection engine for testing")

	return &SimulatedEngine{
		panicOn:  make(map[int]bool),
		decimate: 1,
	}
}

// SetTags sets the tags every Detect returns.
func (s *SimulatedEngine) SetTags(tags []engine.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = append([]engine.Tag(nil), tags...)
	s.tagsFn = nil
}

// SetTagsFunc computes tags per call. call counts from 1.
func (s *SimulatedEngine) SetTagsFunc(fn func(call int, pix []byte) []engine.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagsFn = fn
}

// SetDelay makes each Detect take at least d.
func (s *SimulatedEngine) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetError makes Detect fail with err. Nil restores success.
func (s *SimulatedEngine) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetInitError makes Init fail with err.
func (s *SimulatedEngine) SetInitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
}

// PanicOnCall makes the n-th Detect call panic.
func (s *SimulatedEngine) PanicOnCall(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicOn[n] = true
}

// Block makes subsequent Detect calls wait until Release or until their
// context is canceled. The returned channel receives a value each time a
// Detect starts waiting.
func (s *SimulatedEngine) Block() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockCh = make(chan struct{})
	s.detecting = make(chan struct{}, 16)
	return s.detecting
}

// Release unblocks waiting and future Detect calls.
func (s *SimulatedEngine) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockCh != nil {
		close(s.blockCh)
		s.blockCh = nil
	}
}

// Notify returns a channel receiving a record after every Detect call.
func (s *SimulatedEngine) Notify() <-chan DetectRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detectCh == nil {
		s.detectCh = make(chan DetectRecord, 256)
	}
	return s.detectCh
}

// Init implements engine.Engine.
func (s *SimulatedEngine) Init(codes []uint32, width, height int, opts engine.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	if s.initErr != nil {
		return s.initErr
	}
	s.codes = append([]uint32(nil), codes...)
	s.width = width
	s.height = height
	s.opts = opts
	if opts.Decimate >= 1 {
		s.decimate = opts.Decimate
	}
	s.ready = true
	return nil
}

// Detect implements engine.Engine.
func (s *SimulatedEngine) Detect(ctx context.Context, pix []byte) ([]engine.Tag, error) {
	s.mu.Lock()
	call := len(s.detects) + 1
	rec := DetectRecord{
		Width:    s.width,
		Height:   s.height,
		Bytes:    len(pix),
		Decimate: s.decimate,
		Started:  time.Now(),
	}
	ready := s.ready
	delay := s.delay
	block, detecting := s.blockCh, s.detecting
	shouldPanic := s.panicOn[call]
	tags := s.tags
	if s.tagsFn != nil {
		tags = s.tagsFn(call, pix)
	}
	detectErr := s.err
	s.mu.Unlock()

	var err error
	defer func() {
		rec.Err = err
		s.mu.Lock()
		s.detects = append(s.detects, rec)
		ch := s.detectCh
		s.mu.Unlock()
		if ch != nil {
			select {
			case ch <- rec:
			default:
			}
		}
	}()

	if !ready {
		err = engine.ErrNotInitialized
		return nil, err
	}
	if len(pix) != rec.Width*rec.Height {
		err = fmt.Errorf("%w: got %d bytes for %dx%d", engine.ErrBufferSize, len(pix), rec.Width, rec.Height)
		return nil, err
	}
	if shouldPanic {
		err = fmt.Errorf("simulated panic")
		panic(fmt.Sprintf("simulated engine panic on call %d", call))
	}

	if block != nil {
		select {
		case detecting <- struct{}{}:
		default:
		}
		select {
		case <-block:
		case <-ctx.Done():
			err = ctx.Err()
			return nil, err
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
			return nil, err
		}
	}

	if detectErr != nil {
		err = detectErr
		return nil, err
	}
	return append([]engine.Tag(nil), tags...), nil
}

// AddCode implements engine.Engine.
func (s *SimulatedEngine) AddCode(code uint32) error {
	if code == 0 {
		return engine.ErrInvalidCode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	return nil
}

// Resize implements engine.Engine.
func (s *SimulatedEngine) Resize(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return engine.ErrNotInitialized
	}
	s.width = width
	s.height = height
	s.resizes = append(s.resizes, engine.Point{X: float64(width), Y: float64(height)})
	return nil
}

// SetDecimate implements engine.Engine.
func (s *SimulatedEngine) SetDecimate(factor float64) error {
	if factor < 1 {
		return engine.ErrInvalidDecimate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decimate = factor
	return nil
}

// Codes returns the registered codes.
func (s *SimulatedEngine) Codes() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.codes...)
}

// Dimensions returns the current engine resolution.
func (s *SimulatedEngine) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Options returns the options passed to the last Init.
func (s *SimulatedEngine) Options() engine.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Decimate returns the current decimation factor.
func (s *SimulatedEngine) Decimate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decimate
}

// InitCount returns how many times Init was called.
func (s *SimulatedEngine) InitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

// ResizeCount returns how many times Resize was called.
func (s *SimulatedEngine) ResizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resizes)
}

// DetectLog returns a copy of all Detect records.
func (s *SimulatedEngine) DetectLog() []DetectRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DetectRecord(nil), s.detects...)
}
