package scheduler

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay(t *testing.T) {
	base := time.Unix(1000, 0)
	interval := 10 * time.Millisecond

	tests := []struct {
		name         string
		now          time.Time
		wantDelay    time.Duration
		wantExpected time.Time
	}{
		{
			name:         "on time callback",
			now:          base.Add(3 * time.Millisecond),
			wantDelay:    7 * time.Millisecond,
			wantExpected: base.Add(interval),
		},
		{
			name:         "late tick shortens next delay",
			now:          base.Add(6 * time.Millisecond),
			wantDelay:    4 * time.Millisecond,
			wantExpected: base.Add(interval),
		},
		{
			name:         "past due clamps to zero",
			now:          base.Add(15 * time.Millisecond),
			wantDelay:    0,
			wantExpected: base.Add(interval),
		},
		{
			name:         "more than an interval behind re-anchors",
			now:          base.Add(35 * time.Millisecond),
			wantDelay:    0,
			wantExpected: base.Add(35 * time.Millisecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, expected := NextDelay(interval, base, tt.now)
			assert.Equal(t, tt.wantDelay, delay)
			assert.True(t, tt.wantExpected.Equal(expected), "expected %v, got %v", tt.wantExpected, expected)
		})
	}
}

func TestNextDelayConvergesUnderJitter(t *testing.T) {
	interval := 10 * time.Millisecond
	rng := rand.New(rand.NewSource(1))

	start := time.Unix(0, 0)
	expected := start.Add(interval)
	now := expected

	const ticks = 1000
	for i := 0; i < ticks; i++ {
		// Each fire lands 0-2ms late and the callback takes 3ms.
		fired := now.Add(time.Duration(rng.Int63n(int64(2 * time.Millisecond))))
		var delay time.Duration
		delay, expected = NextDelay(interval, expected, fired.Add(3*time.Millisecond))
		now = fired.Add(3 * time.Millisecond).Add(delay)
	}

	period := now.Sub(start) / ticks
	assert.InDelta(t, float64(interval), float64(period), float64(interval)/100)
}

func TestIntervalForFPS(t *testing.T) {
	assert.Equal(t, time.Second/30, IntervalForFPS(30))
	assert.Equal(t, 40*time.Millisecond, IntervalForFPS(25))
	assert.Equal(t, time.Duration(0), IntervalForFPS(0))
	assert.Equal(t, time.Duration(0), IntervalForFPS(-5))
}

func TestTimerStartValidation(t *testing.T) {
	timer := NewTimer(0)
	assert.ErrorIs(t, timer.Start(func() {}), ErrInvalidInterval)

	timer = NewTimer(time.Millisecond)
	assert.ErrorIs(t, timer.Start(nil), ErrNilCallback)

	require.NoError(t, timer.Start(func() {}))
	defer timer.Stop()
	assert.ErrorIs(t, timer.Start(func() {}), ErrAlreadyRunning)
	assert.True(t, timer.IsRunning())
}

func TestTimerDriftCorrection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real-time drift test in short mode")
	}

	interval := 10 * time.Millisecond
	const wantTicks = 100

	rng := rand.New(rand.NewSource(42))
	var rngMu sync.Mutex

	var count int64
	done := make(chan struct{})
	var first, last time.Time

	timer := NewTimer(interval)
	require.NoError(t, timer.Start(func() {
		n := atomic.AddInt64(&count, 1)
		now := time.Now()
		if n == 1 {
			first = now
		}
		if n == wantTicks {
			last = now
			close(done)
		}

		rngMu.Lock()
		jitter := time.Duration(rng.Int63n(int64(time.Millisecond)))
		rngMu.Unlock()
		time.Sleep(3*time.Millisecond + jitter)
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not reach the expected tick count")
	}
	timer.Stop()

	period := last.Sub(first) / (wantTicks - 1)
	assert.InDelta(t, float64(interval), float64(period), float64(interval)*0.1,
		"average period %v drifted from interval %v", period, interval)
}

func TestTimerStopPreventsFurtherCallbacks(t *testing.T) {
	var count int64
	timer := NewTimer(time.Millisecond)
	require.NoError(t, timer.Start(func() {
		atomic.AddInt64(&count, 1)
	}))

	time.Sleep(20 * time.Millisecond)
	timer.Stop()
	assert.False(t, timer.IsRunning())

	stopped := atomic.LoadInt64(&count)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt64(&count))
	assert.Equal(t, uint64(stopped), timer.Ticks())

	// Stop is idempotent.
	timer.Stop()
}

func TestTimerTicksDoNotOverlap(t *testing.T) {
	var active, overlaps int32
	timer := NewTimer(time.Millisecond)
	require.NoError(t, timer.Start(func() {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(3 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}))

	time.Sleep(50 * time.Millisecond)
	timer.Stop()
	assert.Zero(t, atomic.LoadInt32(&overlaps))
}

func TestTimerRestart(t *testing.T) {
	timer := NewTimer(time.Millisecond)
	fired := make(chan struct{}, 1)
	notify := func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, timer.Start(notify))
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}
		timer.Stop()
	}
}

type offsetTimeProvider struct {
	offset time.Duration
}

func (p offsetTimeProvider) Now() time.Time {
	return time.Now().Add(p.offset)
}

func (p offsetTimeProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

func TestTimerUsesTimeProvider(t *testing.T) {
	timer := NewTimer(time.Millisecond)
	timer.SetTimeProvider(offsetTimeProvider{offset: time.Hour})

	fired := make(chan struct{})
	var once sync.Once
	require.NoError(t, timer.Start(func() {
		once.Do(func() { close(fired) })
	}))
	<-fired
	timer.Stop()

	// The schedule is anchored in the provider's clock, so the error stays small.
	assert.Less(t, timer.Error(), 100*time.Millisecond)
}

func TestGetTimeProvider(t *testing.T) {
	custom := offsetTimeProvider{offset: time.Minute}
	assert.Equal(t, custom, GetTimeProvider(custom))
	assert.IsType(t, RealTimeProvider{}, GetTimeProvider(nil))

	before := time.Now()
	now := GetTimeProvider(nil).Now()
	assert.False(t, now.Before(before))
}
