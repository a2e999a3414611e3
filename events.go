package glitter

import (
	"time"

	"github.com/opd-ai/glitter/engine"
	"github.com/opd-ai/glitter/source"
)

// TagsEvent reports the tags detected in one frame. Tag coordinates are in
// source resolution.
type TagsEvent struct {
	Seq        uint64
	Tags       []engine.Tag
	Decimate   float64
	Width      int // working width of the frame
	Height     int // working height of the frame
	CapturedAt time.Time
	Detection  time.Duration
}

// InitFunc is called once the worker has loaded, before the first tick.
type InitFunc func(src source.Source)

// TagsFoundFunc is called for every successful detection, including those
// that found nothing.
type TagsFoundFunc func(ev TagsEvent)

// CalibrateFunc is called after each decimation step with the new factor.
type CalibrateFunc func(factor float64)

// TickFunc is called once per tick.
type TickFunc func()

// ErrorFunc is called for detection failures and fatal pipeline errors.
type ErrorFunc func(err error)

// OnInit registers an init observer.
func (d *Detector) OnInit(fn InitFunc) {
	d.callbackMu.Lock()
	defer d.callbackMu.Unlock()
	d.initCbs = append(d.initCbs, fn)
}

// OnTagsFound registers a detection observer.
func (d *Detector) OnTagsFound(fn TagsFoundFunc) {
	d.callbackMu.Lock()
	defer d.callbackMu.Unlock()
	d.tagsCbs = append(d.tagsCbs, fn)
}

// OnCalibrate registers a decimation observer.
func (d *Detector) OnCalibrate(fn CalibrateFunc) {
	d.callbackMu.Lock()
	defer d.callbackMu.Unlock()
	d.calibrateCbs = append(d.calibrateCbs, fn)
}

// OnTick registers a tick observer. It runs on the tick goroutine and
// delays the tick while it runs.
func (d *Detector) OnTick(fn TickFunc) {
	d.callbackMu.Lock()
	defer d.callbackMu.Unlock()
	d.tickCbs = append(d.tickCbs, fn)
}

// OnError registers an error observer.
func (d *Detector) OnError(fn ErrorFunc) {
	d.callbackMu.Lock()
	defer d.callbackMu.Unlock()
	d.errorCbs = append(d.errorCbs, fn)
}

func (d *Detector) emitInit(src source.Source) {
	d.callbackMu.RLock()
	cbs := d.initCbs
	d.callbackMu.RUnlock()
	for _, fn := range cbs {
		fn(src)
	}
}

func (d *Detector) emitTagsFound(ev TagsEvent) {
	d.callbackMu.RLock()
	cbs := d.tagsCbs
	d.callbackMu.RUnlock()
	for _, fn := range cbs {
		fn(ev)
	}
}

func (d *Detector) emitCalibrate(factor float64) {
	d.callbackMu.RLock()
	cbs := d.calibrateCbs
	d.callbackMu.RUnlock()
	for _, fn := range cbs {
		fn(factor)
	}
}

func (d *Detector) emitTick() {
	d.callbackMu.RLock()
	cbs := d.tickCbs
	d.callbackMu.RUnlock()
	for _, fn := range cbs {
		fn()
	}
}

func (d *Detector) emitError(err error) {
	d.callbackMu.RLock()
	cbs := d.errorCbs
	d.callbackMu.RUnlock()
	for _, fn := range cbs {
		fn(err)
	}
}
