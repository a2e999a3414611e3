// Package scheduler provides the drift-corrected periodic timer that drives the
// glitter capture loop.
//
// A Timer fires a callback every interval on its own goroutine. Each tick
// measures how late it fired against the expected schedule and shortens the
// next delay by that error, so the average period converges to the interval
// under jitter. Callbacks never overlap and Stop guarantees that no callback
// fires after it returns.
//
//	timer := scheduler.NewTimer(scheduler.IntervalForFPS(30))
//	timer.Start(func() {
//	    // capture, dispatch, measure
//	})
//	defer timer.Stop()
//
// TimeProvider allows tests to replace the clock.
package scheduler
