package perf

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultWindow is the number of recent samples kept for reports.
	DefaultWindow = 120

	// emaAlpha weights the newest sample in the moving average.
	emaAlpha = 0.1
)

// Recorder tracks a stream of latency samples.
//
// It keeps an exponential moving average and the peak over the recorder's
// lifetime, plus a fixed window of the most recent samples from which
// Report derives distribution statistics.
type Recorder struct {
	mu sync.Mutex

	window  []float64 // milliseconds, ring buffer
	next    int
	filled  bool
	count   uint64
	last    time.Duration
	ema     float64
	peak    time.Duration
	overrun uint64
	budget  time.Duration
}

// Report summarizes a Recorder.
type Report struct {
	Count   uint64        `json:"count"`
	Overrun uint64        `json:"overrun"`
	Last    time.Duration `json:"last"`
	EMA     time.Duration `json:"ema"`
	Peak    time.Duration `json:"peak"`
	Mean    time.Duration `json:"mean"`
	StdDev  time.Duration `json:"std_dev"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

// NewRecorder creates a recorder keeping the last window samples. budget is
// the duration above which a sample counts as an overrun; zero disables
// overrun counting.
func NewRecorder(window int, budget time.Duration) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Recorder{
		window: make([]float64, window),
		budget: budget,
	}
}

// Observe records one sample.
func (r *Recorder) Observe(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := float64(d) / float64(time.Millisecond)
	r.window[r.next] = ms
	r.next++
	if r.next == len(r.window) {
		r.next = 0
		r.filled = true
	}

	if r.count == 0 {
		r.ema = ms
	} else {
		r.ema = emaAlpha*ms + (1-emaAlpha)*r.ema
	}
	r.count++
	r.last = d
	if d > r.peak {
		r.peak = d
	}
	if r.budget > 0 && d > r.budget {
		r.overrun++
	}
}

// SetBudget changes the overrun threshold for later samples.
func (r *Recorder) SetBudget(budget time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget = budget
}

// Count returns the number of samples observed.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset clears all samples.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.window {
		r.window[i] = 0
	}
	r.next = 0
	r.filled = false
	r.count = 0
	r.last = 0
	r.ema = 0
	r.peak = 0
	r.overrun = 0
}

// Report computes statistics over the current window.
func (r *Recorder) Report() Report {
	r.mu.Lock()
	n := r.next
	if r.filled {
		n = len(r.window)
	}
	samples := make([]float64, n)
	copy(samples, r.window[:n])
	rep := Report{
		Count:   r.count,
		Overrun: r.overrun,
		Last:    r.last,
		EMA:     fromMillis(r.ema),
		Peak:    r.peak,
	}
	r.mu.Unlock()

	if n == 0 {
		return rep
	}

	sort.Float64s(samples)
	rep.Mean = fromMillis(stat.Mean(samples, nil))
	if n > 1 {
		rep.StdDev = fromMillis(stat.StdDev(samples, nil))
	}
	rep.P50 = fromMillis(stat.Quantile(0.50, stat.Empirical, samples, nil))
	rep.P95 = fromMillis(stat.Quantile(0.95, stat.Empirical, samples, nil))
	rep.P99 = fromMillis(stat.Quantile(0.99, stat.Empirical, samples, nil))
	return rep
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
