package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/glitter/engine"
	"github.com/opd-ai/glitter/limits"
	"github.com/opd-ai/glitter/scheduler"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAdvisoryThreshold is the number of consecutive over-budget
	// detections tolerated before ResizeNeeded is sent.
	DefaultAdvisoryThreshold = 30

	defaultInboxSize  = 16
	defaultOutboxSize = 16
)

// Boundary runs a detection engine on its own goroutine and talks to it by
// message passing.
//
// Messages are handled strictly in arrival order, so a Resize or AddCode sent
// while a job runs takes effect for the next job only. At most one Process
// may be outstanding; a second one is rejected with ErrJobInFlight until the
// first Result has been emitted. Replies are buffered without bound, so the
// boundary never waits on a slow consumer and a consumer may Send from the
// goroutine that reads Events. Engine panics are recovered and reported in
// the reply.
type Boundary struct {
	engine            engine.Engine
	advisoryThreshold int

	mu        sync.Mutex
	running   bool
	inbox     chan Message
	outbox    chan Message
	stopCh    chan struct{}
	doneCh    chan struct{}
	cancelJob context.CancelFunc

	busy atomic.Bool

	sessionMu sync.RWMutex
	session   *Session

	timeProvider scheduler.TimeProvider
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithAdvisoryThreshold sets how many consecutive over-budget detections
// trigger ResizeNeeded. Zero or less disables the advisory.
func WithAdvisoryThreshold(n int) Option {
	return func(b *Boundary) {
		b.advisoryThreshold = n
	}
}

// NewBoundary creates a stopped boundary around eng.
func NewBoundary(eng engine.Engine, opts ...Option) *Boundary {
	b := &Boundary{
		engine:            eng,
		advisoryThreshold: DefaultAdvisoryThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetTimeProvider sets the clock used to measure detection time.
// Must be called before Start.
func (b *Boundary) SetTimeProvider(tp scheduler.TimeProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeProvider = tp
}

// Start launches the boundary goroutine.
func (b *Boundary) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrAlreadyRunning
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	b.running = true
	b.inbox = make(chan Message, defaultInboxSize)
	b.outbox = make(chan Message, defaultOutboxSize)
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.cancelJob = cancel
	b.busy.Store(false)

	go b.run(jobCtx, scheduler.GetTimeProvider(b.timeProvider), b.inbox, b.outbox, b.stopCh, b.doneCh)

	logrus.WithFields(logrus.Fields{
		"function":           "Boundary.Start",
		"advisory_threshold": b.advisoryThreshold,
	}).Debug("Worker boundary started")

	return nil
}

// Events returns the channel of outbound messages. It is closed when the
// boundary goroutine exits.
func (b *Boundary) Events() <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outbox
}

// Busy reports whether a Process job is outstanding.
func (b *Boundary) Busy() bool {
	return b.busy.Load()
}

// Session returns a copy of the current session, if any.
func (b *Boundary) Session() (Session, bool) {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()
	if b.session == nil {
		return Session{}, false
	}
	return b.session.snapshot(), true
}

// Send delivers msg to the boundary goroutine. Ownership of a Process frame
// passes to the boundary when Send returns nil.
func (b *Boundary) Send(msg Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrNotRunning
	}
	inbox, stopCh := b.inbox, b.stopCh
	b.mu.Unlock()

	isJob := msg.Kind() == KindProcess
	if isJob && !b.busy.CompareAndSwap(false, true) {
		return ErrJobInFlight
	}

	select {
	case inbox <- msg:
		return nil
	case <-stopCh:
		if isJob {
			b.busy.Store(false)
		}
		return ErrNotRunning
	}
}

// Stop asks the boundary goroutine to exit once its current message is
// handled and waits for it. If ctx expires first the in-flight job's context
// is canceled and ctx's error is returned; the goroutine then exits as soon
// as the engine returns.
func (b *Boundary) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stopCh)
	doneCh, cancel := b.doneCh, b.cancelJob
	b.mu.Unlock()

	defer cancel()

	select {
	case <-doneCh:
		logrus.WithFields(logrus.Fields{
			"function": "Boundary.Stop",
		}).Debug("Worker boundary stopped")
		return nil
	case <-ctx.Done():
		logrus.WithFields(logrus.Fields{
			"function": "Boundary.Stop",
			"error":    ctx.Err().Error(),
		}).Warn("Worker boundary did not stop in time, abandoning current job")
		return ctx.Err()
	}
}

func (b *Boundary) run(ctx context.Context, tp scheduler.TimeProvider, inbox <-chan Message, outbox chan<- Message, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer close(outbox)

	// Replies wait in pending rather than blocking on outbox, so the inbox
	// keeps draining while the consumer is itself blocked in Send.
	var pending []Message
	for {
		var out chan<- Message
		var head Message
		if len(pending) > 0 {
			out, head = outbox, pending[0]
		}

		select {
		case <-stopCh:
			return
		case out <- head:
			pending[0] = nil
			pending = pending[1:]
		case msg := <-inbox:
			pending = append(pending, b.handle(ctx, tp, msg)...)
		}
	}
}

func (b *Boundary) handle(ctx context.Context, tp scheduler.TimeProvider, msg Message) []Message {
	switch m := msg.(type) {
	case Init:
		return []Message{b.handleInit(tp, m)}
	case Process:
		result, advisory := b.handleProcess(ctx, tp, m)
		b.busy.Store(false)
		if advisory != nil {
			return []Message{result, *advisory}
		}
		return []Message{result}
	case Resize:
		return []Message{Ack{For: KindResize, Err: b.handleResize(m)}}
	case AddCode:
		return []Message{Ack{For: KindAddCode, Err: b.handleAddCode(m)}}
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Boundary.handle",
			"kind":     msg.Kind().String(),
		}).Warn("Ignoring unexpected message")
		return []Message{Ack{For: msg.Kind(), Err: ErrInvalidMessage}}
	}
}

func (b *Boundary) handleInit(tp scheduler.TimeProvider, m Init) Loaded {
	if err := limits.ValidateDimensions(m.Width, m.Height); err != nil {
		return Loaded{Width: m.Width, Height: m.Height, Err: err}
	}

	s := newSession(m, tp.Now())
	err := guard("init", func() error {
		return b.engine.Init(s.Codes, s.Width, s.Height, s.Options)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Boundary.handleInit",
			"error":    err.Error(),
		}).Error("Engine initialization failed")
		return Loaded{Width: m.Width, Height: m.Height, Err: err}
	}

	b.sessionMu.Lock()
	b.session = s
	b.sessionMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Boundary.handleInit",
		"session_id": s.ID.String(),
		"width":      s.Width,
		"height":     s.Height,
		"codes":      len(s.Codes),
	}).Info("Detector session loaded")

	return Loaded{SessionID: s.ID, Width: s.Width, Height: s.Height}
}

func (b *Boundary) handleProcess(ctx context.Context, tp scheduler.TimeProvider, m Process) (Result, *ResizeNeeded) {
	if m.Frame == nil {
		return Result{Err: ErrInvalidMessage}, nil
	}

	f := m.Frame
	res := Result{
		Seq:        f.Seq,
		Width:      f.Width,
		Height:     f.Height,
		Decimate:   f.Decimate,
		CapturedAt: f.CapturedAt,
	}

	// Only this goroutine writes the session, so it may read it unlocked.
	s := b.session
	if s == nil {
		res.Err = ErrNoSession
		return res, nil
	}
	res.SessionID = s.ID

	if f.Width != s.Width || f.Height != s.Height {
		res.Err = fmt.Errorf("%w: frame %dx%d, session %dx%d",
			ErrDimensionMismatch, f.Width, f.Height, s.Width, s.Height)
		return res, nil
	}
	if err := limits.ValidateFrameBuffer(f.Pix, f.Width, f.Height); err != nil {
		res.Err = err
		return res, nil
	}

	start := tp.Now()
	err := guard("detect", func() error {
		tags, err := b.engine.Detect(ctx, f.Pix)
		res.Tags = tags
		return err
	})
	res.Detection = tp.Now().Sub(start)

	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	s.Jobs++

	if err != nil {
		s.Failures++
		res.Err = err
		res.Tags = nil
		logrus.WithFields(logrus.Fields{
			"function": "Boundary.handleProcess",
			"seq":      f.Seq,
			"error":    err.Error(),
		}).Warn("Detection failed")
		return res, nil
	}

	return res, b.adviseLocked(s, res.Detection)
}

// adviseLocked updates the session's over-budget counter and returns a
// ResizeNeeded once the counter passes the threshold.
func (b *Boundary) adviseLocked(s *Session, detection time.Duration) *ResizeNeeded {
	budget := s.frameBudget()
	if b.advisoryThreshold <= 0 || budget <= 0 {
		return nil
	}
	if detection <= budget {
		s.BadFrames = 0
		return nil
	}

	s.BadFrames++
	if s.BadFrames <= b.advisoryThreshold {
		return nil
	}

	advisory := &ResizeNeeded{SessionID: s.ID, BadFrames: s.BadFrames, Detection: detection}
	s.BadFrames = 0

	logrus.WithFields(logrus.Fields{
		"function":   "Boundary.adviseLocked",
		"session_id": s.ID.String(),
		"detection":  detection,
		"budget":     budget,
	}).Debug("Detection over budget, advising resize")

	return advisory
}

func (b *Boundary) handleResize(m Resize) error {
	if err := limits.ValidateDimensions(m.Width, m.Height); err != nil {
		return err
	}
	if m.Decimate < limits.MinDecimate {
		return fmt.Errorf("%w: decimate %v", ErrInvalidMessage, m.Decimate)
	}

	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	s := b.session
	if s == nil {
		return ErrNoSession
	}

	err := guard("resize", func() error {
		if err := b.engine.Resize(m.Width, m.Height); err != nil {
			return err
		}
		return b.engine.SetDecimate(m.Decimate)
	})
	if err != nil {
		return err
	}

	s.Width = m.Width
	s.Height = m.Height
	s.Decimate = m.Decimate
	s.Options.Decimate = m.Decimate
	s.BadFrames = 0

	logrus.WithFields(logrus.Fields{
		"function":   "Boundary.handleResize",
		"session_id": s.ID.String(),
		"width":      m.Width,
		"height":     m.Height,
		"decimate":   m.Decimate,
	}).Debug("Session resized")

	return nil
}

func (b *Boundary) handleAddCode(m AddCode) error {
	if m.Code == 0 {
		return ErrInvalidCode
	}

	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	s := b.session
	if s == nil {
		return ErrNoSession
	}

	if err := guard("add code", func() error { return b.engine.AddCode(m.Code) }); err != nil {
		return err
	}
	s.Codes = append(s.Codes, m.Code)
	return nil
}

// guard runs an engine call and converts a panic into ErrEnginePanic.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w during %s: %v", ErrEnginePanic, op, r)
		}
	}()
	return fn()
}
