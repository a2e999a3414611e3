package glitter

import (
	"github.com/google/uuid"
	"github.com/opd-ai/glitter/perf"
)

// Stats is a point-in-time snapshot of detector counters.
type Stats struct {
	ID      uuid.UUID `json:"id"`
	Running bool      `json:"running"`

	Ticks             uint64 `json:"ticks"`
	BadTicks          uint64 `json:"bad_ticks"`
	SkippedNotReady   uint64 `json:"skipped_not_ready"`
	SkippedDuplicates uint64 `json:"skipped_duplicates"`

	FramesEnqueued   uint64 `json:"frames_enqueued"`
	FramesDispatched uint64 `json:"frames_dispatched"`
	FramesDropped    uint64 `json:"frames_dropped"`
	QueueDepth       int    `json:"queue_depth"`
	InFlight         bool   `json:"in_flight"`

	Results    uint64 `json:"results"`
	Failures   uint64 `json:"failures"`
	TagsFound  uint64 `json:"tags_found"`
	Advisories uint64 `json:"advisories"`

	Decimate        float64 `json:"decimate"`
	DecimationSteps int     `json:"decimation_steps"`
	BadFrames       int     `json:"bad_frames"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`

	Tick      perf.Report `json:"tick"`
	Detection perf.Report `json:"detection"`
}

// Stats returns a snapshot of the detector's counters.
func (d *Detector) Stats() Stats {
	q := d.frames.Stats()
	w, h := d.pre.Dimensions()
	return Stats{
		ID:                d.id,
		Running:           d.IsRunning(),
		Ticks:             d.ticks.Load(),
		BadTicks:          d.badTicks.Load(),
		SkippedNotReady:   d.skippedNotReady.Load(),
		SkippedDuplicates: d.skippedDuplicates.Load(),
		FramesEnqueued:    q.Enqueued,
		FramesDispatched:  q.Dispatched,
		FramesDropped:     q.Dropped,
		QueueDepth:        q.Pending,
		InFlight:          q.InFlight,
		Results:           d.results.Load(),
		Failures:          d.failures.Load(),
		TagsFound:         d.tagsFound.Load(),
		Advisories:        d.advisories.Load(),
		Decimate:          d.decimator.Factor(),
		DecimationSteps:   d.decimator.Steps(),
		BadFrames:         d.decimator.BadFrames(),
		Width:             w,
		Height:            h,
		Tick:              d.tickPerf.Report(),
		Detection:         d.detectPerf.Report(),
	}
}
