package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "glitter"

// Collector holds the Prometheus metrics of one detector. All methods are
// safe on a nil Collector, which records nothing.
type Collector struct {
	Ticks            prometheus.Counter
	BadTicks         prometheus.Counter
	SkippedCaptures  *prometheus.CounterVec
	FramesDispatched prometheus.Counter
	FramesDropped    prometheus.Counter
	Results          *prometheus.CounterVec
	TagsFound        prometheus.Counter
	Calibrations     prometheus.Counter
	Advisories       prometheus.Counter

	QueueDepth     prometheus.Gauge
	DecimateFactor prometheus.Gauge
	WorkingPixels  prometheus.Gauge

	TickDuration      prometheus.Histogram
	DetectionDuration prometheus.Histogram

	registry *prometheus.Registry
}

var latencyBuckets = []float64{.001, .0025, .005, .01, .02, .033, .05, .1, .25, .5, 1}

// New registers the detector metrics on reg. A nil reg gets a fresh
// registry, available from Registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks",
		}),
		BadTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bad_ticks_total",
			Help:      "Ticks that exceeded the frame budget",
		}),
		SkippedCaptures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_captures_total",
			Help:      "Ticks that produced no frame, by reason",
		}, []string{"reason"}),
		FramesDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dispatched_total",
			Help:      "Frames sent to the detector worker",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames discarded by the queue discipline",
		}),
		Results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Detection results received, by outcome",
		}, []string{"outcome"}),
		TagsFound: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tags_found_total",
			Help:      "Tags reported to observers",
		}),
		Calibrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Decimation steps taken",
		}),
		Advisories: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_advisories_total",
			Help:      "Resize advisories received from the worker",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Frames waiting behind the in-flight job",
		}),
		DecimateFactor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decimate_factor",
			Help:      "Current image decimation factor",
		}),
		WorkingPixels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "working_pixels",
			Help:      "Pixels per frame at the working resolution",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Capture and dispatch time per tick",
			Buckets:   latencyBuckets,
		}),
		DetectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_duration_seconds",
			Help:      "Engine detection time per frame",
			Buckets:   latencyBuckets,
		}),
	}
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveTick records one tick and whether it ran over budget.
func (c *Collector) ObserveTick(d time.Duration, overBudget bool) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	if overBudget {
		c.BadTicks.Inc()
	}
}

// SkipCapture records a tick without a frame.
func (c *Collector) SkipCapture(reason string) {
	if c == nil {
		return
	}
	c.SkippedCaptures.WithLabelValues(reason).Inc()
}

// Dispatched records a frame sent to the worker.
func (c *Collector) Dispatched() {
	if c == nil {
		return
	}
	c.FramesDispatched.Inc()
}

// Dropped records frames discarded by the queue.
func (c *Collector) Dropped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.FramesDropped.Add(float64(n))
}

// ObserveResult records a detection result.
func (c *Collector) ObserveResult(detection time.Duration, tags int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.Results.WithLabelValues("error").Inc()
		return
	}
	c.Results.WithLabelValues("ok").Inc()
	c.DetectionDuration.Observe(detection.Seconds())
	c.TagsFound.Add(float64(tags))
}

// SetQueueDepth records the current backlog length.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

// SetResolution records the decimation factor and working size.
func (c *Collector) SetResolution(decimate float64, width, height int) {
	if c == nil {
		return
	}
	c.DecimateFactor.Set(decimate)
	c.WorkingPixels.Set(float64(width * height))
}

// Calibrated records a decimation step.
func (c *Collector) Calibrated() {
	if c == nil {
		return
	}
	c.Calibrations.Inc()
}

// Advised records a worker ResizeNeeded.
func (c *Collector) Advised() {
	if c == nil {
		return
	}
	c.Advisories.Inc()
}
