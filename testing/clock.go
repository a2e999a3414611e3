package testing

import (
	"sync"
	"time"
)

// StepClock is a scheduler.TimeProvider whose Now advances by a fixed step
// on every call. Code that reads the clock twice per operation therefore
// measures exactly one step, which makes latency-driven logic deterministic.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a clock starting at start that advances by step.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, step: step}
}

// Now returns the current time and then advances the clock by one step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// NewTimer returns a real timer; StepClock only controls measured time.
func (c *StepClock) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

// SetStep changes the step applied by later Now calls.
func (c *StepClock) SetStep(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

// Advance moves the clock forward without a Now call.
func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
