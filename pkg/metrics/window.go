package metrics

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultRetention  = 60 * time.Second
	DefaultMaxSamples = 1024
)

// Window retains samples bounded by age and by count. Samples are kept in
// timestamp order. It is safe for concurrent use.
type Window struct {
	mu         sync.RWMutex
	samples    []SystemMetricsSample
	retention  time.Duration
	maxSamples int
	nowFunc    func() time.Time
}

// NewWindow creates a window. Non-positive arguments fall back to the defaults.
func NewWindow(retention time.Duration, maxSamples int) *Window {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Window{
		samples:    make([]SystemMetricsSample, 0, min(maxSamples, 64)),
		retention:  retention,
		maxSamples: maxSamples,
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the time source used for pruning (tests only)
func (w *Window) SetNowFunc(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	w.nowFunc = now
}

// Retention returns the maximum sample age
func (w *Window) Retention() time.Duration {
	return w.retention
}

// Add inserts a sample and prunes what fell out of the window.
// A sample without a timestamp is stamped with the current time.
func (w *Window) Add(sample SystemMetricsSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sample.Timestamp.IsZero() {
		sample.Timestamp = w.nowFunc()
	}

	n := len(w.samples)
	if n == 0 || !sample.Timestamp.Before(w.samples[n-1].Timestamp) {
		w.samples = append(w.samples, sample)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return w.samples[i].Timestamp.After(sample.Timestamp)
		})
		w.samples = append(w.samples, SystemMetricsSample{})
		copy(w.samples[idx+1:], w.samples[idx:])
		w.samples[idx] = sample
	}

	w.pruneLocked()
}

func (w *Window) pruneLocked() {
	cutoff := w.nowFunc().Add(-w.retention)
	drop := sort.Search(len(w.samples), func(i int) bool {
		return !w.samples[i].Timestamp.Before(cutoff)
	})
	if over := len(w.samples) - drop - w.maxSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		w.samples = append(w.samples[:0], w.samples[drop:]...)
	}
}

// Samples returns a copy of every retained sample, oldest first
func (w *Window) Samples() []SystemMetricsSample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]SystemMetricsSample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Since returns the samples with Timestamp >= t, oldest first
func (w *Window) Since(t time.Time) []SystemMetricsSample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	idx := sort.Search(len(w.samples), func(i int) bool {
		return !w.samples[i].Timestamp.Before(t)
	})
	out := make([]SystemMetricsSample, len(w.samples)-idx)
	copy(out, w.samples[idx:])
	return out
}

// Latest returns the newest sample
func (w *Window) Latest() (SystemMetricsSample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.samples) == 0 {
		return SystemMetricsSample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// Oldest returns the oldest retained sample
func (w *Window) Oldest() (SystemMetricsSample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.samples) == 0 {
		return SystemMetricsSample{}, false
	}
	return w.samples[0], true
}

// Len returns the number of retained samples
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

// Average returns the mean of metric over samples at or after since
func (w *Window) Average(metric Metric, since time.Time) (float64, bool) {
	samples := w.Since(since)
	if len(samples) == 0 {
		return 0, false
	}
	var total float64
	for _, s := range samples {
		total += s.Value(metric)
	}
	return total / float64(len(samples)), true
}

// Percentile returns the p-th percentile (0-100) of metric over samples at
// or after since, interpolating linearly between closest ranks
func (w *Window) Percentile(metric Metric, p float64, since time.Time) (float64, bool) {
	samples := w.Since(since)
	if len(samples) == 0 {
		return 0, false
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value(metric)
	}
	sort.Float64s(values)
	return percentile(values, p), true
}

func percentile(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100.0 * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	fraction := rank - float64(lower)
	return sorted[lower] + fraction*(sorted[upper]-sorted[lower])
}

// Reset clears all samples
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = w.samples[:0]
}
