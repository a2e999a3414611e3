package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/opd-ai/glitter/limits"
	"github.com/sirupsen/logrus"
)

// minRegionPixels is the smallest connected region reported as a tag.
const minRegionPixels = 4

// Threshold is a reference engine that segments bright regions.
//
// Each frame is split at the midpoint between its darkest and brightest
// pixel. Connected bright regions become candidates, ranked by area. The
// k-th largest region is reported with the k-th registered code; regions
// beyond the registered code set are ignored. It suits scenes with one
// bright marker per registered code, such as the synthetic source.
type Threshold struct {
	codes    []uint32
	width    int
	height   int
	opts     Options
	decimate float64
	ready    bool

	labels []int32
	stack  []int32
}

// NewThreshold creates an uninitialized threshold engine.
func NewThreshold() *Threshold {
	return &Threshold{decimate: 1}
}

// Init implements Engine.
func (e *Threshold) Init(codes []uint32, width, height int, opts Options) error {
	for _, c := range codes {
		if c == 0 {
			return ErrInvalidCode
		}
	}
	if err := limits.ValidateDimensions(width, height); err != nil {
		return err
	}
	if opts.Decimate == 0 {
		opts.Decimate = 1
	}
	if opts.Decimate < 1 {
		return fmt.Errorf("%w: %v", ErrInvalidDecimate, opts.Decimate)
	}

	e.codes = append([]uint32(nil), codes...)
	e.opts = opts
	e.decimate = opts.Decimate
	e.allocate(width, height)
	e.ready = true

	logrus.WithFields(logrus.Fields{
		"function":     "Threshold.Init",
		"codes":        len(codes),
		"width":        width,
		"height":       height,
		"refine_edges": opts.RefineEdges,
	}).Debug("Threshold engine initialized")

	return nil
}

func (e *Threshold) allocate(width, height int) {
	e.width = width
	e.height = height
	e.labels = make([]int32, width*height)
	e.stack = e.stack[:0]
}

// AddCode implements Engine.
func (e *Threshold) AddCode(code uint32) error {
	if code == 0 {
		return ErrInvalidCode
	}
	e.codes = append(e.codes, code)
	return nil
}

// Codes returns a copy of the registered codes.
func (e *Threshold) Codes() []uint32 {
	return append([]uint32(nil), e.codes...)
}

// Resize implements Engine.
func (e *Threshold) Resize(width, height int) error {
	if !e.ready {
		return ErrNotInitialized
	}
	if err := limits.ValidateDimensions(width, height); err != nil {
		return err
	}
	e.allocate(width, height)
	return nil
}

// SetDecimate implements Engine.
func (e *Threshold) SetDecimate(factor float64) error {
	if factor < 1 {
		return fmt.Errorf("%w: %v", ErrInvalidDecimate, factor)
	}
	e.decimate = factor
	e.opts.Decimate = factor
	return nil
}

// Decimate returns the last recorded decimation factor.
func (e *Threshold) Decimate() float64 {
	return e.decimate
}

type region struct {
	minX, minY, maxX, maxY int
	area                   int
	sum                    int
}

// Detect implements Engine.
func (e *Threshold) Detect(ctx context.Context, pix []byte) ([]Tag, error) {
	if !e.ready {
		return nil, ErrNotInitialized
	}
	if len(pix) != e.width*e.height {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d", ErrBufferSize, len(pix), e.width, e.height)
	}
	if len(e.codes) == 0 {
		return nil, nil
	}

	lo, hi := byte(255), byte(0)
	for _, v := range pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if int(hi)-int(lo) <= e.opts.RangeThreshold {
		return nil, nil
	}
	threshold := byte((int(lo) + int(hi) + 1) / 2)

	regions, bgMean, err := e.segment(ctx, pix, threshold)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].area > regions[j].area
	})

	tags := make([]Tag, 0, len(e.codes))
	for _, r := range regions {
		if len(tags) == len(e.codes) {
			break
		}
		if r.area < minRegionPixels {
			continue
		}
		if float64(r.sum)/float64(r.area)-bgMean < float64(e.opts.MinWhiteBlackDiff) {
			continue
		}
		tags = append(tags, Tag{Code: e.codes[len(tags)], Quad: e.quadFor(r)})
	}

	return tags, nil
}

// segment labels 4-connected pixels at or above threshold.
func (e *Threshold) segment(ctx context.Context, pix []byte, threshold byte) ([]region, float64, error) {
	for i := range e.labels {
		e.labels[i] = 0
	}

	var regions []region
	var bgSum, bgCount int
	w, h := e.width, e.height

	for start := range pix {
		if pix[start] < threshold {
			bgSum += int(pix[start])
			bgCount++
			continue
		}
		if e.labels[start] != 0 {
			continue
		}
		if len(regions)%64 == 0 && ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		label := int32(len(regions) + 1)
		r := region{minX: w, minY: h, maxX: -1, maxY: -1}

		e.stack = append(e.stack[:0], int32(start))
		e.labels[start] = label
		for len(e.stack) > 0 {
			idx := int(e.stack[len(e.stack)-1])
			e.stack = e.stack[:len(e.stack)-1]

			x, y := idx%w, idx/w
			r.area++
			r.sum += int(pix[idx])
			r.minX = min(r.minX, x)
			r.maxX = max(r.maxX, x)
			r.minY = min(r.minY, y)
			r.maxY = max(r.maxY, y)

			if x > 0 {
				e.visit(pix, idx-1, threshold, label)
			}
			if x < w-1 {
				e.visit(pix, idx+1, threshold, label)
			}
			if y > 0 {
				e.visit(pix, idx-w, threshold, label)
			}
			if y < h-1 {
				e.visit(pix, idx+w, threshold, label)
			}
		}
		regions = append(regions, r)
	}

	bgMean := 0.0
	if bgCount > 0 {
		bgMean = float64(bgSum) / float64(bgCount)
	}
	return regions, bgMean, nil
}

func (e *Threshold) visit(pix []byte, idx int, threshold byte, label int32) {
	if pix[idx] >= threshold && e.labels[idx] == 0 {
		e.labels[idx] = label
		e.stack = append(e.stack, int32(idx))
	}
}

// quadFor converts a region bounding box into a quad. With RefineEdges the
// corners sit on the outer pixel boundaries, so a region spanning pixels
// [minX, maxX] covers [minX, maxX+1) in continuous coordinates.
func (e *Threshold) quadFor(r region) Quad {
	x0, y0 := float64(r.minX), float64(r.minY)
	x1, y1 := float64(r.maxX), float64(r.maxY)
	if e.opts.RefineEdges {
		x1++
		y1++
	}
	return NewQuad([4]Point{
		{X: x0, Y: y0},
		{X: x1, Y: y0},
		{X: x1, Y: y1},
		{X: x0, Y: y1},
	})
}
