// Package queue implements the frame backpressure disciplines used between
// the capture loop and the detector worker.
//
// A Queue allows at most one item in flight. Items offered while one is in
// flight are kept according to the capacity: drop-to-latest, a bounded
// backlog of the most recent items, or an unbounded backlog. Counters record
// every dropped item so overload is visible in stats and metrics.
package queue
