package metrics

import (
	"slices"
	"sync"
	"time"
)

// DefaultHistogramSize bounds the latencies kept per sample interval
const DefaultHistogramSize = 1000

// Histogram is a circular buffer of request latencies. Once full, new
// latencies overwrite the oldest ones.
type Histogram struct {
	mu       sync.Mutex
	samples  []time.Duration
	capacity int
	index    int
	count    int
}

// NewHistogram creates a histogram holding up to size latencies
func NewHistogram(size int) *Histogram {
	if size <= 0 {
		size = DefaultHistogramSize
	}
	return &Histogram{
		samples:  make([]time.Duration, size),
		capacity: size,
	}
}

// Add records one latency
func (h *Histogram) Add(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.index] = latency
	h.index = (h.index + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
}

// Len returns the number of retained latencies
func (h *Histogram) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Percentile returns the p-th percentile of the retained latencies, or 0
// when the histogram is empty
func (h *Histogram) Percentile(p float64) time.Duration {
	h.mu.Lock()
	sorted := slices.Clone(h.samples[:h.count])
	h.mu.Unlock()
	return durationPercentile(sorted, p)
}

// Drain returns the p-th percentile and empties the histogram
func (h *Histogram) Drain(p float64) time.Duration {
	h.mu.Lock()
	sorted := slices.Clone(h.samples[:h.count])
	h.index = 0
	h.count = 0
	h.mu.Unlock()
	return durationPercentile(sorted, p)
}

// durationPercentile sorts samples in place and interpolates linearly between the
// closest ranks
func durationPercentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	slices.Sort(samples)

	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}

	rank := p / 100.0 * float64(len(samples)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(samples) {
		return samples[len(samples)-1]
	}

	fraction := rank - float64(lower)
	return samples[lower] + time.Duration(fraction*float64(samples[upper]-samples[lower]))
}
