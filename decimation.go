package glitter

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// Decimator tracks consecutive over-budget ticks and decides when the
// working resolution steps down.
//
// The factor only grows. A step is proposed by Observe or Next and takes
// effect only once Commit is called, so a reconfiguration that fails
// leaves the factor unchanged.
type Decimator struct {
	mu sync.Mutex

	factor    float64
	max       float64
	delta     float64
	threshold int

	badFrames int
	steps     int
}

// NewDecimator creates a decimator at factor 1.0.
//
// threshold is the number of consecutive bad ticks tolerated; the next bad
// tick triggers a step.
func NewDecimator(max, delta float64, threshold int) *Decimator {
	logrus.WithFields(logrus.Fields{
		"function":  "NewDecimator",
		"max":       max,
		"delta":     delta,
		"threshold": threshold,
	}).Debug("Creating decimator")

	return &Decimator{
		factor:    1,
		max:       max,
		delta:     delta,
		threshold: threshold,
	}
}

// Configure replaces the step parameters. The current factor is kept, so a
// maximum below it is rejected.
func (d *Decimator) Configure(max, delta float64, threshold int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if max < d.factor {
		return fmt.Errorf("%w: MaxImageDecimationFactor %v is below the current factor %v",
			ErrInvalidOptions, max, d.factor)
	}
	d.max = max
	d.delta = delta
	d.threshold = threshold
	return nil
}

// Observe records one tick. A tick within budget resets the bad-frame
// counter. It returns the proposed factor and true when the counter has
// passed the threshold and the factor is still below the maximum.
func (d *Decimator) Observe(overBudget bool) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !overBudget {
		d.badFrames = 0
		return d.factor, false
	}

	d.badFrames++
	if d.badFrames > d.threshold && d.factor < d.max {
		return d.nextLocked(), true
	}
	return d.factor, false
}

// Next returns the factor one step up, and false when already at the
// maximum.
func (d *Decimator) Next() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.factor >= d.max {
		return d.factor, false
	}
	return d.nextLocked(), true
}

func (d *Decimator) nextLocked() float64 {
	next := round3(d.factor + d.delta)
	if next > d.max {
		next = d.max
	}
	return next
}

// Commit adopts factor and resets the bad-frame counter. A factor below
// the current one is ignored.
func (d *Decimator) Commit(factor float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if factor < d.factor {
		return
	}
	d.factor = factor
	d.badFrames = 0
	d.steps++
}

// Hold resets the bad-frame counter without changing the factor.
func (d *Decimator) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.badFrames = 0
}

// Reset returns to factor 1.0.
func (d *Decimator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factor = 1
	d.badFrames = 0
	d.steps = 0
}

// Factor returns the current decimation factor.
func (d *Decimator) Factor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.factor
}

// BadFrames returns the consecutive bad-tick count.
func (d *Decimator) BadFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.badFrames
}

// Steps returns how many steps were committed since the last Reset.
func (d *Decimator) Steps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
