package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer invokes a callback periodically with drift correction.
//
// The timer tracks the time each tick was expected to fire. When a tick
// fires late by some error, the next tick is armed for the remaining part
// of the interval, so the long-run tick rate converges to 1/interval even
// when individual ticks jitter. Ticks never overlap: the next tick is armed
// only after the callback returns.
//
// Example usage:
//
//	timer := scheduler.NewTimer(time.Second / 30)
//	if err := timer.Start(tick); err != nil {
//	    return err
//	}
//	defer timer.Stop()
type Timer struct {
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	ticks     uint64 // atomic
	lastError int64  // atomic, nanoseconds

	timeProvider TimeProvider
}

// NewTimer creates a stopped timer firing every interval.
func NewTimer(interval time.Duration) *Timer {
	return &Timer{interval: interval}
}

// IntervalForFPS converts a target frame rate to a tick interval.
func IntervalForFPS(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// SetTimeProvider sets the time provider for deterministic testing.
// Must be called before Start.
func (t *Timer) SetTimeProvider(tp TimeProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeProvider = tp
}

// Start begins periodic invocation of callback on a dedicated goroutine.
// The first tick fires one interval after Start.
func (t *Timer) Start(callback func()) error {
	if callback == nil {
		return ErrNilCallback
	}
	if t.interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, t.interval)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	atomic.StoreUint64(&t.ticks, 0)
	atomic.StoreInt64(&t.lastError, 0)

	logrus.WithFields(logrus.Fields{
		"function": "Timer.Start",
		"interval": t.interval,
	}).Debug("Starting drift-corrected timer")

	go t.run(callback, GetTimeProvider(t.timeProvider), t.stopCh, t.doneCh)

	return nil
}

// Stop halts the timer. When Stop returns no further callback will fire,
// including one whose timer had already expired. A callback that is running
// when Stop is called finishes first.
//
// Stop must not be called from inside the callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	doneCh := t.doneCh
	t.mu.Unlock()

	<-doneCh

	logrus.WithFields(logrus.Fields{
		"function": "Timer.Stop",
		"ticks":    t.Ticks(),
	}).Debug("Timer stopped")
}

// IsRunning returns whether the timer is active.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Interval returns the configured tick interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Ticks returns the number of callbacks invoked since Start.
func (t *Timer) Ticks() uint64 {
	return atomic.LoadUint64(&t.ticks)
}

// Error returns the lateness of the most recent tick relative to its
// expected fire time. Positive values mean the tick fired late.
func (t *Timer) Error() time.Duration {
	return time.Duration(atomic.LoadInt64(&t.lastError))
}

func (t *Timer) run(callback func(), tp TimeProvider, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	expected := tp.Now().Add(t.interval)
	timer := tp.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		// A stop racing with an expired timer wins.
		select {
		case <-stopCh:
			return
		default:
		}

		fired := tp.Now()
		atomic.StoreInt64(&t.lastError, int64(fired.Sub(expected)))
		atomic.AddUint64(&t.ticks, 1)

		callback()

		var delay time.Duration
		delay, expected = NextDelay(t.interval, expected, tp.Now())
		timer.Reset(delay)
	}
}

// NextDelay computes the delay until the next tick and the new expected fire time.
//
// expected is the fire time of the tick that just ran and now is the time the
// callback returned. The next tick is due one interval after expected; the
// delay is what remains of that, clamped to zero. When the loop has fallen
// more than a full interval behind, the schedule is re-anchored at now so an
// overload does not turn into a burst of catch-up ticks.
func NextDelay(interval time.Duration, expected, now time.Time) (time.Duration, time.Time) {
	next := expected.Add(interval)
	delay := next.Sub(now)
	if delay >= 0 {
		return delay, next
	}
	if -delay > interval {
		return 0, now
	}
	return 0, next
}
