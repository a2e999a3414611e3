package queue

import (
	"sync"
)

const (
	// DropToLatest keeps a single pending slot that newer items overwrite.
	DropToLatest = 0
	// Unbounded keeps every pending item.
	Unbounded = -1
)

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued   uint64 // items offered with Enqueue
	Dispatched uint64 // items handed out for processing
	Completed  uint64 // Complete calls
	Dropped    uint64 // pending items discarded by overwrite, overflow or Flush
	Flushed    uint64 // subset of Dropped discarded by Flush
	Pending    int    // backlog length at snapshot time
	InFlight   bool
}

// Queue is a single-consumer job queue with at most one item in flight.
//
// While nothing is in flight the queue is idle, and Enqueue hands the item
// straight back for dispatch. While an item is in flight new items wait in
// the backlog, whose discipline is set by the capacity:
//
//   - DropToLatest (0): one pending slot, a newer item replaces it
//   - K > 0: the K most recent items in submission order
//   - Unbounded (-1): every item; latency grows without limit under overload
//
// Complete ends the in-flight item and hands out the next pending one, if any.
type Queue[T any] struct {
	mu       sync.Mutex
	capacity int
	backlog  []T
	inFlight bool

	enqueued   uint64
	dispatched uint64
	completed  uint64
	dropped    uint64
	flushed    uint64
}

// New creates an idle queue with the given backlog capacity. Values below
// Unbounded are treated as Unbounded.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{capacity: normalize(capacity)}
}

func normalize(capacity int) int {
	if capacity < Unbounded {
		return Unbounded
	}
	return capacity
}

// Enqueue offers item. When the queue is idle the item becomes the in-flight
// item and is returned with ok set; the caller must dispatch it. Otherwise
// the item is stored according to the backlog discipline.
func (q *Queue[T]) Enqueue(item T) (dispatch T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.enqueued++

	if !q.inFlight {
		q.inFlight = true
		q.dispatched++
		return item, true
	}

	switch {
	case q.capacity == DropToLatest:
		if len(q.backlog) > 0 {
			q.dropped++
			q.backlog[0] = item
		} else {
			q.backlog = append(q.backlog, item)
		}
	case q.capacity > 0:
		q.backlog = append(q.backlog, item)
		q.trimLocked(q.capacity)
	default:
		q.backlog = append(q.backlog, item)
	}

	var zero T
	return zero, false
}

// Complete marks the in-flight item done. If a pending item exists it
// becomes in flight and is returned with ok set; otherwise the queue goes
// idle.
func (q *Queue[T]) Complete() (next T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if !q.inFlight {
		return zero, false
	}
	q.completed++

	if len(q.backlog) == 0 {
		q.inFlight = false
		return zero, false
	}

	next = q.backlog[0]
	q.backlog[0] = zero
	q.backlog = q.backlog[1:]
	q.dispatched++
	return next, true
}

// Flush discards the backlog and returns the discarded items. The in-flight
// item is not affected.
func (q *Queue[T]) Flush() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.backlog) == 0 {
		return nil
	}
	out := q.backlog
	q.backlog = nil
	q.dropped += uint64(len(out))
	q.flushed += uint64(len(out))
	return out
}

// SetCapacity changes the backlog discipline. A shrinking capacity keeps the
// most recent items.
func (q *Queue[T]) SetCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.capacity = normalize(capacity)
	switch {
	case q.capacity == DropToLatest:
		q.trimLocked(1)
	case q.capacity > 0:
		q.trimLocked(q.capacity)
	}
}

// trimLocked drops the oldest items until at most n remain.
func (q *Queue[T]) trimLocked(n int) {
	if len(q.backlog) <= n {
		return
	}
	excess := len(q.backlog) - n
	q.dropped += uint64(excess)
	var zero T
	for i := 0; i < excess; i++ {
		q.backlog[i] = zero
	}
	q.backlog = append(q.backlog[:0], q.backlog[excess:]...)
}

// Capacity returns the backlog discipline.
func (q *Queue[T]) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// InFlight reports whether an item is being processed.
func (q *Queue[T]) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Reset discards the backlog and returns the queue to idle. Counters are kept.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backlog = nil
	q.inFlight = false
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Enqueued:   q.enqueued,
		Dispatched: q.dispatched,
		Completed:  q.completed,
		Dropped:    q.dropped,
		Flushed:    q.flushed,
		Pending:    len(q.backlog),
		InFlight:   q.inFlight,
	}
}
