package scheduler

import "time"

// TimeProvider supplies the clock for ticks, captures and detection timing.
// Tests inject a stepping clock so every tick measures an exact duration.
type TimeProvider interface {
	Now() time.Time
	// NewTimer returns a timer that fires once after d.
	NewTimer(d time.Duration) *time.Timer
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time { return time.Now() }

// NewTimer wraps time.NewTimer.
func (RealTimeProvider) NewTimer(d time.Duration) *time.Timer { return time.NewTimer(d) }

// GetTimeProvider returns tp, or the system clock when tp is nil.
func GetTimeProvider(tp TimeProvider) TimeProvider {
	if tp == nil {
		return RealTimeProvider{}
	}
	return tp
}
