package glitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/glitter/engine"
	"github.com/opd-ai/glitter/metrics"
	"github.com/opd-ai/glitter/perf"
	"github.com/opd-ai/glitter/preprocess"
	"github.com/opd-ai/glitter/queue"
	"github.com/opd-ai/glitter/scheduler"
	"github.com/opd-ai/glitter/source"
	"github.com/opd-ai/glitter/worker"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultStopTimeout bounds how long Stop waits for the current detection.
const DefaultStopTimeout = 2 * time.Second

// Detector is the pipeline controller. It drives the tick loop, captures
// frames through the preprocessor, hands them to the worker one at a time
// and reports results to observers.
//
// At most one detection job is in flight. Frames captured while the worker
// is busy wait in a queue whose discipline is set by ImBufQueueLength.
// When ticks keep running over budget the working resolution is lowered
// in steps; resolution never goes back up while the detector runs.
type Detector struct {
	id  uuid.UUID
	src source.Source
	eng engine.Engine

	optsMu sync.RWMutex
	opts   Options
	codes  []uint32

	pre       *preprocess.Preprocessor
	frames    *queue.Queue[*preprocess.FrameBuffer]
	decimator *Decimator
	boundary  atomic.Pointer[worker.Boundary]

	tickPerf   *perf.Recorder
	detectPerf *perf.Recorder
	metrics    atomic.Pointer[metrics.Collector]
	perfLog    rate.Sometimes

	timeProvider scheduler.TimeProvider

	lifecycleMu sync.Mutex
	running     bool
	timer       *scheduler.Timer
	runCtx      context.Context
	cancelRun   context.CancelFunc
	eventsDone  chan struct{}
	stopTimeout time.Duration

	// manualTicks leaves the timer unstarted so ticks are driven by tick().
	manualTicks bool

	// dispatchMu serializes queue transitions, dispatch and reconfiguration.
	dispatchMu      sync.Mutex
	inFlightSince   time.Time
	lastFingerprint preprocess.Fingerprint
	haveFingerprint bool

	// stepMu serializes decimation steps with option changes.
	stepMu sync.Mutex

	// budget is the tick interval fixed at Start, in nanoseconds.
	budget atomic.Int64

	advisoryPending atomic.Bool
	fatal           atomic.Bool

	ticks             atomic.Uint64
	badTicks          atomic.Uint64
	skippedNotReady   atomic.Uint64
	skippedDuplicates atomic.Uint64
	results           atomic.Uint64
	failures          atomic.Uint64
	tagsFound         atomic.Uint64
	advisories        atomic.Uint64

	callbackMu   sync.RWMutex
	initCbs      []InitFunc
	tagsCbs      []TagsFoundFunc
	calibrateCbs []CalibrateFunc
	tickCbs      []TickFunc
	errorCbs     []ErrorFunc
}

// New creates a stopped detector reading from src and detecting with eng.
func New(src source.Source, eng engine.Engine, opts Options) (*Detector, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if eng == nil {
		return nil, ErrNilEngine
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		id:          uuid.New(),
		src:         src,
		eng:         eng,
		opts:        opts,
		pre:         preprocess.NewPreprocessor(opts.QuadSigma),
		frames:      queue.New[*preprocess.FrameBuffer](opts.ImBufQueueLength),
		decimator:   NewDecimator(opts.MaxImageDecimationFactor, opts.ImageDecimationDelta, opts.BadFramesBeforeDecimate),
		tickPerf:    perf.NewRecorder(perf.DefaultWindow, scheduler.IntervalForFPS(opts.TargetFPS)),
		detectPerf:  perf.NewRecorder(perf.DefaultWindow, scheduler.IntervalForFPS(opts.TargetFPS)),
		perfLog:     rate.Sometimes{Interval: time.Second},
		stopTimeout: DefaultStopTimeout,
	}

	logrus.WithFields(logrus.Fields{
		"function":      "New",
		"detector_id":   d.id.String(),
		"source_width":  src.Width(),
		"source_height": src.Height(),
		"target_fps":    opts.TargetFPS,
		"queue_length":  opts.ImBufQueueLength,
		"decimate":      opts.DecimateImage,
	}).Info("Detector created")

	return d, nil
}

// ID returns the detector instance ID.
func (d *Detector) ID() uuid.UUID {
	return d.id
}

// SetMetrics attaches a Prometheus collector. Nil detaches it.
func (d *Detector) SetMetrics(c *metrics.Collector) {
	d.metrics.Store(c)
	if c != nil {
		w, h := d.pre.Dimensions()
		c.SetResolution(d.decimator.Factor(), w, h)
	}
}

// SetTimeProvider sets the clock used to measure tick duration.
// Must be called before Start.
func (d *Detector) SetTimeProvider(tp scheduler.TimeProvider) {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	d.timeProvider = tp
}

// SetStopTimeout sets how long Stop waits for an in-flight detection.
func (d *Detector) SetStopTimeout(timeout time.Duration) {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	d.stopTimeout = timeout
}

// Options returns the current options.
func (d *Detector) Options() Options {
	d.optsMu.RLock()
	defer d.optsMu.RUnlock()
	return d.opts
}

// SetOptions merges p into the current options. Fields left nil in p keep
// their values. Smoothing, queue discipline and decimation parameters apply
// immediately; TargetFPS and engine options apply at the next Start.
//
// The decimation factor never shrinks while running, so a
// MaxImageDecimationFactor below the current factor is rejected.
func (d *Detector) SetOptions(p Patch) error {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	d.optsMu.Lock()
	merged := d.opts.Merge(p)
	if err := merged.Validate(); err != nil {
		d.optsMu.Unlock()
		return err
	}
	err := d.decimator.Configure(merged.MaxImageDecimationFactor, merged.ImageDecimationDelta, merged.BadFramesBeforeDecimate)
	if err != nil {
		d.optsMu.Unlock()
		return err
	}
	d.opts = merged
	d.optsMu.Unlock()

	d.pre.SetKernelSigma(merged.QuadSigma)

	d.dispatchMu.Lock()
	before := d.frames.Stats().Dropped
	d.frames.SetCapacity(merged.ImBufQueueLength)
	dropped := d.frames.Stats().Dropped - before
	d.dispatchMu.Unlock()
	d.collector().Dropped(int(dropped))

	logrus.WithFields(logrus.Fields{
		"function":     "Detector.SetOptions",
		"detector_id":  d.id.String(),
		"quad_sigma":   merged.QuadSigma,
		"queue_length": merged.ImBufQueueLength,
	}).Debug("Options updated")

	return nil
}

// AddCode registers a code. Before Start it is queued for the worker
// session; afterwards it is forwarded to the running worker.
func (d *Detector) AddCode(code uint32) error {
	if code == 0 {
		return ErrInvalidCode
	}

	d.optsMu.Lock()
	d.codes = append(d.codes, code)
	d.optsMu.Unlock()

	if b := d.boundary.Load(); b != nil {
		if err := b.Send(worker.AddCode{Code: code}); err != nil && !errors.Is(err, worker.ErrNotRunning) {
			return fmt.Errorf("forward code %d: %w", code, err)
		}
	}
	return nil
}

// IsRunning reports whether the detector is started.
func (d *Detector) IsRunning() bool {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	return d.running
}

// Decimate returns the current decimation factor.
func (d *Detector) Decimate() float64 {
	return d.decimator.Factor()
}

// Dimensions returns the current working resolution.
func (d *Detector) Dimensions() (int, int) {
	return d.pre.Dimensions()
}

// Start attaches the source, loads the worker session at native
// resolution, notifies init observers and starts ticking.
func (d *Detector) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.running {
		return ErrAlreadyRunning
	}

	opts := d.Options()
	d.optsMu.RLock()
	codes := append([]uint32(nil), d.codes...)
	d.optsMu.RUnlock()

	if err := d.pre.Attach(ctx, d.src); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Detector.Start",
			"detector_id": d.id.String(),
			"error":       err.Error(),
		}).Error("Frame source unavailable")
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	width, height := d.src.Width(), d.src.Height()
	d.decimator.Reset()
	if err := d.pre.Resize(width, height, 1); err != nil {
		_ = d.pre.Detach()
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	d.frames.Reset()
	d.frames.SetCapacity(opts.ImBufQueueLength)
	d.resetDispatchState()
	d.advisoryPending.Store(false)
	d.fatal.Store(false)

	b := worker.NewBoundary(d.eng, worker.WithAdvisoryThreshold(opts.WorkerBadFramesBeforeResize))
	if err := b.Start(); err != nil {
		_ = d.pre.Detach()
		return fmt.Errorf("%w: %w", ErrWorkerInit, err)
	}
	events := b.Events()

	loaded, err := d.loadSession(ctx, b, events, worker.Init{
		Codes:     codes,
		Width:     width,
		Height:    height,
		Decimate:  1,
		TargetFPS: opts.TargetFPS,
		Options:   opts.engineOptions(1),
	})
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), d.stopTimeout)
		_ = b.Stop(stopCtx)
		cancel()
		_ = d.pre.Detach()
		return err
	}
	d.boundary.Store(b)
	d.collector().SetResolution(1, width, height)

	d.runCtx, d.cancelRun = context.WithCancel(context.Background())
	d.eventsDone = make(chan struct{})
	go d.eventLoop(events, d.eventsDone)

	interval := scheduler.IntervalForFPS(opts.TargetFPS)
	d.budget.Store(int64(interval))
	d.tickPerf.SetBudget(interval)
	d.detectPerf.SetBudget(interval)
	d.timer = scheduler.NewTimer(interval)
	d.running = true

	logrus.WithFields(logrus.Fields{
		"function":    "Detector.Start",
		"detector_id": d.id.String(),
		"session_id":  loaded.SessionID.String(),
		"width":       width,
		"height":      height,
		"interval":    interval,
	}).Info("Detector started")

	d.emitInit(d.src)

	if d.manualTicks {
		return nil
	}
	if err := d.timer.Start(d.tick); err != nil {
		d.running = false
		d.shutdownLocked()
		return err
	}
	return nil
}

func (d *Detector) loadSession(ctx context.Context, b *worker.Boundary, events <-chan worker.Message, init worker.Init) (worker.Loaded, error) {
	if err := b.Send(init); err != nil {
		return worker.Loaded{}, fmt.Errorf("%w: %w", ErrWorkerInit, err)
	}
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return worker.Loaded{}, fmt.Errorf("%w: worker exited", ErrWorkerInit)
			}
			loaded, isLoaded := msg.(worker.Loaded)
			if !isLoaded {
				continue
			}
			if loaded.Err != nil {
				return loaded, fmt.Errorf("%w: %w", ErrWorkerInit, loaded.Err)
			}
			return loaded, nil
		case <-ctx.Done():
			return worker.Loaded{}, ctx.Err()
		}
	}
}

// Stop stops ticking, waits for the in-flight detection up to the stop
// timeout and releases the source. It must not be called from an observer
// callback.
func (d *Detector) Stop() error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false
	err := d.shutdownLocked()

	logrus.WithFields(logrus.Fields{
		"function":    "Detector.Stop",
		"detector_id": d.id.String(),
		"ticks":       d.ticks.Load(),
	}).Info("Detector stopped")

	return err
}

func (d *Detector) shutdownLocked() error {
	d.timer.Stop()
	d.cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), d.stopTimeout)
	defer cancel()

	var err error
	if b := d.boundary.Load(); b != nil {
		err = b.Stop(ctx)
	}

	drain := time.NewTimer(d.stopTimeout)
	defer drain.Stop()
	select {
	case <-d.eventsDone:
	case <-drain.C:
		logrus.WithFields(logrus.Fields{
			"function":    "Detector.Stop",
			"detector_id": d.id.String(),
		}).Warn("Result loop still draining after stop timeout")
	}

	if detachErr := d.pre.Detach(); detachErr != nil && err == nil {
		err = detachErr
	}
	d.dispatchMu.Lock()
	d.frames.Reset()
	d.dispatchMu.Unlock()
	d.collector().SetQueueDepth(0)
	return err
}

func (d *Detector) resetDispatchState() {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()
	d.inFlightSince = time.Time{}
	d.haveFingerprint = false
}

func (d *Detector) collector() *metrics.Collector {
	return d.metrics.Load()
}

// tick runs one capture and measures it against the frame budget.
func (d *Detector) tick() {
	if d.fatal.Load() {
		return
	}
	opts := d.Options()
	clock := scheduler.GetTimeProvider(d.timeProvider)
	start := clock.Now()

	if d.advisoryPending.CompareAndSwap(true, false) {
		d.stepDecimation("worker advisory")
	}
	if d.checkStall(opts) {
		return
	}

	if fb, ok := d.pre.Capture(d.runCtx); ok {
		d.submit(fb, opts)
	} else {
		d.skippedNotReady.Add(1)
		d.collector().SkipCapture("not_ready")
	}

	d.emitTick()

	elapsed := clock.Now().Sub(start)
	budget := time.Duration(d.budget.Load())
	over := elapsed > budget
	d.ticks.Add(1)
	if over {
		d.badTicks.Add(1)
	}
	d.tickPerf.Observe(elapsed)
	d.collector().ObserveTick(elapsed, over)

	if opts.DecimateImage {
		if _, trigger := d.decimator.Observe(over); trigger {
			d.stepDecimation("tick budget")
		}
	}

	if opts.PrintPerformance {
		d.perfLog.Do(func() { d.logPerformance(elapsed, budget) })
	}
}

func (d *Detector) logPerformance(elapsed, budget time.Duration) {
	tick := d.tickPerf.Report()
	detect := d.detectPerf.Report()
	w, h := d.pre.Dimensions()
	logrus.WithFields(logrus.Fields{
		"function":       "Detector.tick",
		"detector_id":    d.id.String(),
		"tick_ms":        float64(elapsed) / float64(time.Millisecond),
		"budget_ms":      float64(budget) / float64(time.Millisecond),
		"tick_ema_ms":    float64(tick.EMA) / float64(time.Millisecond),
		"detect_ema_ms":  float64(detect.EMA) / float64(time.Millisecond),
		"detect_p95_ms":  float64(detect.P95) / float64(time.Millisecond),
		"bad_frames":     d.decimator.BadFrames(),
		"decimate":       d.decimator.Factor(),
		"working_width":  w,
		"working_height": h,
	}).Info("Performance")
}

// checkStall reports whether the in-flight job has exceeded DetectTimeout.
// The first time it does, observers get ErrWorkerUnresponsive and the
// detector stops asynchronously.
func (d *Detector) checkStall(opts Options) bool {
	if opts.DetectTimeout <= 0 {
		return false
	}
	d.dispatchMu.Lock()
	since := d.inFlightSince
	d.dispatchMu.Unlock()
	if since.IsZero() {
		return false
	}
	running := time.Since(since)
	if running < opts.DetectTimeout {
		return false
	}
	if !d.fatal.CompareAndSwap(false, true) {
		return true
	}

	err := fmt.Errorf("%w: job running for %v", ErrWorkerUnresponsive, running.Round(time.Millisecond))
	logrus.WithFields(logrus.Fields{
		"function":    "Detector.tick",
		"detector_id": d.id.String(),
		"timeout":     opts.DetectTimeout,
		"error":       err.Error(),
	}).Error("Detection timed out, stopping detector")

	d.emitError(err)
	go func() { _ = d.Stop() }()
	return true
}

// submit hands a captured frame to the queue and dispatches it if the
// worker is idle.
func (d *Detector) submit(fb *preprocess.FrameBuffer, opts Options) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	if opts.SkipDuplicateFrames {
		fp := preprocess.FingerprintOf(fb)
		if d.haveFingerprint && fp == d.lastFingerprint {
			d.skippedDuplicates.Add(1)
			d.collector().SkipCapture("duplicate")
			return
		}
		d.lastFingerprint, d.haveFingerprint = fp, true
	}

	before := d.frames.Stats().Dropped
	next, ok := d.frames.Enqueue(fb)
	d.collector().Dropped(int(d.frames.Stats().Dropped - before))
	if ok {
		d.dispatchLocked(next)
	}
	d.collector().SetQueueDepth(d.frames.Len())
}

// dispatchLocked sends the queue's in-flight frame to the worker.
func (d *Detector) dispatchLocked(fb *preprocess.FrameBuffer) {
	b := d.boundary.Load()
	if b == nil || d.fatal.Load() {
		d.frames.Reset()
		return
	}

	d.inFlightSince = time.Now()
	if err := b.Send(worker.Process{Frame: fb}); err != nil {
		d.inFlightSince = time.Time{}
		d.frames.Reset()
		if errors.Is(err, worker.ErrNotRunning) {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":    "Detector.dispatch",
			"detector_id": d.id.String(),
			"seq":         fb.Seq,
			"error":       err.Error(),
		}).Warn("Failed to dispatch frame")
		d.emitError(fmt.Errorf("dispatch frame %d: %w", fb.Seq, err))
		return
	}
	d.collector().Dispatched()

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function": "Detector.dispatch",
			"seq":      fb.Seq,
			"width":    fb.Width,
			"height":   fb.Height,
		}).Trace("Frame dispatched")
	}
}

// stepDecimation lowers the working resolution by one step.
func (d *Detector) stepDecimation(reason string) {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	next, ok := d.decimator.Next()
	if !ok {
		return
	}

	width, height := preprocess.WorkingSize(d.src.Width(), d.src.Height(), next)

	d.dispatchMu.Lock()
	err := d.reconfigureLocked(width, height, next)
	d.dispatchMu.Unlock()

	if err != nil {
		d.decimator.Hold()
		logrus.WithFields(logrus.Fields{
			"function":    "Detector.stepDecimation",
			"detector_id": d.id.String(),
			"decimate":    next,
			"error":       err.Error(),
		}).Error("Failed to change working resolution")
		d.emitError(err)
		return
	}
	d.decimator.Commit(next)

	c := d.collector()
	c.Calibrated()
	c.SetResolution(next, width, height)
	c.SetQueueDepth(0)

	logrus.WithFields(logrus.Fields{
		"function":    "Detector.stepDecimation",
		"detector_id": d.id.String(),
		"reason":      reason,
		"decimate":    next,
		"width":       width,
		"height":      height,
	}).Info("Working resolution lowered")

	d.emitCalibrate(next)
}

// reconfigureLocked resizes the preprocessor and the worker together and
// drops frames captured at the old size.
func (d *Detector) reconfigureLocked(width, height int, decimate float64) error {
	if err := d.pre.Resize(width, height, decimate); err != nil {
		return fmt.Errorf("resize preprocessor: %w", err)
	}
	if flushed := d.frames.Flush(); len(flushed) > 0 {
		d.collector().Dropped(len(flushed))
	}
	d.haveFingerprint = false

	if b := d.boundary.Load(); b != nil {
		if err := b.Send(worker.Resize{Width: width, Height: height, Decimate: decimate}); err != nil {
			return fmt.Errorf("resize worker: %w", err)
		}
	}
	return nil
}

// eventLoop consumes worker messages until the boundary closes its outbox.
func (d *Detector) eventLoop(events <-chan worker.Message, done chan struct{}) {
	defer close(done)
	for msg := range events {
		switch m := msg.(type) {
		case worker.Result:
			d.handleResult(m)
		case worker.ResizeNeeded:
			d.handleAdvisory(m)
		case worker.Ack:
			if m.Err != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "Detector.eventLoop",
					"detector_id": d.id.String(),
					"kind":        m.For.String(),
					"error":       m.Err.Error(),
				}).Warn("Worker rejected request")
				d.emitError(fmt.Errorf("worker %s: %w", m.For, m.Err))
			}
		case worker.Loaded:
			if m.Err != nil {
				d.emitError(fmt.Errorf("%w: %w", ErrWorkerInit, m.Err))
			}
		}
	}
}

func (d *Detector) handleResult(res worker.Result) {
	d.dispatchMu.Lock()
	d.inFlightSince = time.Time{}
	if next, ok := d.frames.Complete(); ok && !d.fatal.Load() {
		d.dispatchLocked(next)
	}
	d.collector().SetQueueDepth(d.frames.Len())
	d.dispatchMu.Unlock()

	d.results.Add(1)
	d.collector().ObserveResult(res.Detection, len(res.Tags), res.Err)

	if res.Err != nil {
		d.failures.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":    "Detector.handleResult",
			"detector_id": d.id.String(),
			"seq":         res.Seq,
			"error":       res.Err.Error(),
		}).Warn("Detection failed")
		d.emitError(fmt.Errorf("detect frame %d: %w", res.Seq, res.Err))
		return
	}

	d.detectPerf.Observe(res.Detection)
	d.tagsFound.Add(uint64(len(res.Tags)))

	d.emitTagsFound(TagsEvent{
		Seq:        res.Seq,
		Tags:       engine.ScaleTags(res.Tags, res.Decimate),
		Decimate:   res.Decimate,
		Width:      res.Width,
		Height:     res.Height,
		CapturedAt: res.CapturedAt,
		Detection:  res.Detection,
	})
}

func (d *Detector) handleAdvisory(m worker.ResizeNeeded) {
	d.advisories.Add(1)
	d.collector().Advised()

	opts := d.Options()
	act := opts.WorkerAdvisory && opts.DecimateImage
	logrus.WithFields(logrus.Fields{
		"function":     "Detector.handleAdvisory",
		"detector_id":  d.id.String(),
		"bad_frames":   m.BadFrames,
		"detection_ms": float64(m.Detection) / float64(time.Millisecond),
		"acting":       act,
	}).Info("Worker reports detection over budget")

	if act {
		d.advisoryPending.Store(true)
	}
}
