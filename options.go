package glitter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opd-ai/glitter/engine"
	"github.com/opd-ai/glitter/queue"
)

// Options configures a Detector.
type Options struct {
	// TargetFPS is the tick rate. Its reciprocal is the per-tick budget.
	TargetFPS float64
	// PrintPerformance logs tick and detection timing at Info level.
	PrintPerformance bool

	// DecimateImage enables adaptive resolution.
	DecimateImage bool
	// MaxImageDecimationFactor bounds the decimation factor.
	MaxImageDecimationFactor float64
	// ImageDecimationDelta is added to the factor on each decimation step.
	ImageDecimationDelta float64
	// BadFramesBeforeDecimate is how many consecutive over-budget ticks are
	// tolerated; the next one triggers a decimation step.
	BadFramesBeforeDecimate int

	// RangeThreshold, MinWhiteBlackDiff and RefineEdges are passed to the
	// engine when the worker session is created.
	RangeThreshold    int
	MinWhiteBlackDiff int
	RefineEdges       bool
	// QuadSigma is the Gaussian smoothing applied to captured frames.
	QuadSigma float64

	// ImBufQueueLength selects the backlog discipline: 0 drops to the
	// latest frame, K > 0 keeps the K most recent frames, -1 is unbounded.
	ImBufQueueLength int

	// WorkerAdvisory lets the worker's ResizeNeeded trigger a decimation step.
	WorkerAdvisory bool
	// WorkerBadFramesBeforeResize is the worker's over-budget tolerance.
	WorkerBadFramesBeforeResize int

	// SkipDuplicateFrames suppresses frames identical to the previous one.
	SkipDuplicateFrames bool

	// DetectTimeout stops the pipeline when a single detection runs longer.
	// Zero waits forever.
	DetectTimeout time.Duration
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		TargetFPS:                   30,
		PrintPerformance:            false,
		DecimateImage:               true,
		MaxImageDecimationFactor:    3,
		ImageDecimationDelta:        0.2,
		BadFramesBeforeDecimate:     20,
		RangeThreshold:              15,
		QuadSigma:                   0.2,
		MinWhiteBlackDiff:           50,
		RefineEdges:                 true,
		ImBufQueueLength:            queue.DropToLatest,
		WorkerAdvisory:              true,
		WorkerBadFramesBeforeResize: 30,
		SkipDuplicateFrames:         false,
		DetectTimeout:               0,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	switch {
	case o.TargetFPS <= 0 || o.TargetFPS > 1000:
		return fmt.Errorf("%w: TargetFPS %v must be in (0, 1000]", ErrInvalidOptions, o.TargetFPS)
	case o.MaxImageDecimationFactor < 1:
		return fmt.Errorf("%w: MaxImageDecimationFactor %v must be >= 1", ErrInvalidOptions, o.MaxImageDecimationFactor)
	case o.ImageDecimationDelta <= 0:
		return fmt.Errorf("%w: ImageDecimationDelta %v must be positive", ErrInvalidOptions, o.ImageDecimationDelta)
	case o.BadFramesBeforeDecimate < 0:
		return fmt.Errorf("%w: BadFramesBeforeDecimate %d must not be negative", ErrInvalidOptions, o.BadFramesBeforeDecimate)
	case o.RangeThreshold < 0 || o.RangeThreshold > 255:
		return fmt.Errorf("%w: RangeThreshold %d must be in [0, 255]", ErrInvalidOptions, o.RangeThreshold)
	case o.MinWhiteBlackDiff < 0 || o.MinWhiteBlackDiff > 255:
		return fmt.Errorf("%w: MinWhiteBlackDiff %d must be in [0, 255]", ErrInvalidOptions, o.MinWhiteBlackDiff)
	case o.QuadSigma < 0:
		return fmt.Errorf("%w: QuadSigma %v must not be negative", ErrInvalidOptions, o.QuadSigma)
	case o.ImBufQueueLength < queue.Unbounded:
		return fmt.Errorf("%w: ImBufQueueLength %d must be >= -1", ErrInvalidOptions, o.ImBufQueueLength)
	case o.WorkerBadFramesBeforeResize < 0:
		return fmt.Errorf("%w: WorkerBadFramesBeforeResize %d must not be negative", ErrInvalidOptions, o.WorkerBadFramesBeforeResize)
	case o.DetectTimeout < 0:
		return fmt.Errorf("%w: DetectTimeout %v must not be negative", ErrInvalidOptions, o.DetectTimeout)
	}
	return nil
}

func (o Options) engineOptions(decimate float64) engine.Options {
	return engine.Options{
		RangeThreshold:    o.RangeThreshold,
		QuadSigma:         o.QuadSigma,
		MinWhiteBlackDiff: o.MinWhiteBlackDiff,
		RefineEdges:       o.RefineEdges,
		Decimate:          decimate,
	}
}

// Patch is a partial update of Options. Nil fields keep their current value.
// It is also the shape of the configuration file and environment overrides.
type Patch struct {
	TargetFPS                   *float64       `yaml:"targetFps,omitempty" json:"targetFps,omitempty" envconfig:"TARGET_FPS"`
	PrintPerformance            *bool          `yaml:"printPerformance,omitempty" json:"printPerformance,omitempty" envconfig:"PRINT_PERFORMANCE"`
	DecimateImage               *bool          `yaml:"decimateImage,omitempty" json:"decimateImage,omitempty" envconfig:"DECIMATE_IMAGE"`
	MaxImageDecimationFactor    *float64       `yaml:"maxImageDecimationFactor,omitempty" json:"maxImageDecimationFactor,omitempty" envconfig:"MAX_IMAGE_DECIMATION_FACTOR"`
	ImageDecimationDelta        *float64       `yaml:"imageDecimationDelta,omitempty" json:"imageDecimationDelta,omitempty" envconfig:"IMAGE_DECIMATION_DELTA"`
	BadFramesBeforeDecimate     *int           `yaml:"badFramesBeforeDecimate,omitempty" json:"badFramesBeforeDecimate,omitempty" envconfig:"BAD_FRAMES_BEFORE_DECIMATE"`
	RangeThreshold              *int           `yaml:"rangeThreshold,omitempty" json:"rangeThreshold,omitempty" envconfig:"RANGE_THRESHOLD"`
	QuadSigma                   *float64       `yaml:"quadSigma,omitempty" json:"quadSigma,omitempty" envconfig:"QUAD_SIGMA"`
	MinWhiteBlackDiff           *int           `yaml:"minWhiteBlackDiff,omitempty" json:"minWhiteBlackDiff,omitempty" envconfig:"MIN_WHITE_BLACK_DIFF"`
	RefineEdges                 *bool          `yaml:"refineEdges,omitempty" json:"refineEdges,omitempty" envconfig:"REFINE_EDGES"`
	ImBufQueueLength            *int           `yaml:"imBufQueueLength,omitempty" json:"imBufQueueLength,omitempty" envconfig:"IM_BUF_QUEUE_LENGTH"`
	WorkerAdvisory              *bool          `yaml:"workerAdvisory,omitempty" json:"workerAdvisory,omitempty" envconfig:"WORKER_ADVISORY"`
	WorkerBadFramesBeforeResize *int           `yaml:"workerBadFramesBeforeResize,omitempty" json:"workerBadFramesBeforeResize,omitempty" envconfig:"WORKER_BAD_FRAMES_BEFORE_RESIZE"`
	SkipDuplicateFrames         *bool          `yaml:"skipDuplicateFrames,omitempty" json:"skipDuplicateFrames,omitempty" envconfig:"SKIP_DUPLICATE_FRAMES"`
	DetectTimeout               *time.Duration `yaml:"detectTimeout,omitempty" json:"detectTimeout,omitempty" envconfig:"DETECT_TIMEOUT"`
}

// UnmarshalJSON decodes a patch. detectTimeout may be a duration string
// ("250ms"), as in YAML and the environment, or integer nanoseconds.
func (p *Patch) UnmarshalJSON(data []byte) error {
	type plain Patch
	aux := struct {
		*plain
		DetectTimeout json.RawMessage `json:"detectTimeout,omitempty"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := aux.DetectTimeout
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		d, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("%w: detectTimeout %q: %v", ErrInvalidOptions, text, err)
		}
		p.DetectTimeout = &d
		return nil
	}

	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return fmt.Errorf("%w: detectTimeout must be a duration string or nanoseconds", ErrInvalidOptions)
	}
	d := time.Duration(ns)
	p.DetectTimeout = &d
	return nil
}

// Merge returns o with every non-nil field of p applied.
func (o Options) Merge(p Patch) Options {
	setFloat(&o.TargetFPS, p.TargetFPS)
	setBool(&o.PrintPerformance, p.PrintPerformance)
	setBool(&o.DecimateImage, p.DecimateImage)
	setFloat(&o.MaxImageDecimationFactor, p.MaxImageDecimationFactor)
	setFloat(&o.ImageDecimationDelta, p.ImageDecimationDelta)
	setInt(&o.BadFramesBeforeDecimate, p.BadFramesBeforeDecimate)
	setInt(&o.RangeThreshold, p.RangeThreshold)
	setFloat(&o.QuadSigma, p.QuadSigma)
	setInt(&o.MinWhiteBlackDiff, p.MinWhiteBlackDiff)
	setBool(&o.RefineEdges, p.RefineEdges)
	setInt(&o.ImBufQueueLength, p.ImBufQueueLength)
	setBool(&o.WorkerAdvisory, p.WorkerAdvisory)
	setInt(&o.WorkerBadFramesBeforeResize, p.WorkerBadFramesBeforeResize)
	setBool(&o.SkipDuplicateFrames, p.SkipDuplicateFrames)
	if p.DetectTimeout != nil {
		o.DetectTimeout = *p.DetectTimeout
	}
	return o
}

// Merge overlays q on p; fields set in q win.
func (p Patch) Merge(q Patch) Patch {
	if q.TargetFPS != nil {
		p.TargetFPS = q.TargetFPS
	}
	if q.PrintPerformance != nil {
		p.PrintPerformance = q.PrintPerformance
	}
	if q.DecimateImage != nil {
		p.DecimateImage = q.DecimateImage
	}
	if q.MaxImageDecimationFactor != nil {
		p.MaxImageDecimationFactor = q.MaxImageDecimationFactor
	}
	if q.ImageDecimationDelta != nil {
		p.ImageDecimationDelta = q.ImageDecimationDelta
	}
	if q.BadFramesBeforeDecimate != nil {
		p.BadFramesBeforeDecimate = q.BadFramesBeforeDecimate
	}
	if q.RangeThreshold != nil {
		p.RangeThreshold = q.RangeThreshold
	}
	if q.QuadSigma != nil {
		p.QuadSigma = q.QuadSigma
	}
	if q.MinWhiteBlackDiff != nil {
		p.MinWhiteBlackDiff = q.MinWhiteBlackDiff
	}
	if q.RefineEdges != nil {
		p.RefineEdges = q.RefineEdges
	}
	if q.ImBufQueueLength != nil {
		p.ImBufQueueLength = q.ImBufQueueLength
	}
	if q.WorkerAdvisory != nil {
		p.WorkerAdvisory = q.WorkerAdvisory
	}
	if q.WorkerBadFramesBeforeResize != nil {
		p.WorkerBadFramesBeforeResize = q.WorkerBadFramesBeforeResize
	}
	if q.SkipDuplicateFrames != nil {
		p.SkipDuplicateFrames = q.SkipDuplicateFrames
	}
	if q.DetectTimeout != nil {
		p.DetectTimeout = q.DetectTimeout
	}
	return p
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// Float returns a pointer to v, for building a Patch.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building a Patch.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for building a Patch.
func Bool(v bool) *bool { return &v }

// Duration returns a pointer to v, for building a Patch.
func Duration(v time.Duration) *time.Duration { return &v }
