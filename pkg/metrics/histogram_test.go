package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistogramPercentile(t *testing.T) {
	h := NewHistogram(100)
	assert.Zero(t, h.Percentile(95))

	for i := 1; i <= 100; i++ {
		h.Add(time.Duration(i) * time.Millisecond)
	}

	assert.Equal(t, 100, h.Len())
	assert.Equal(t, time.Millisecond, h.Percentile(0))
	assert.Equal(t, 100*time.Millisecond, h.Percentile(100))
	assert.Equal(t, 50500*time.Microsecond, h.Percentile(50))
	assert.InDelta(t, float64(95050*time.Microsecond), float64(h.Percentile(95)), float64(time.Microsecond))
}

func TestHistogramOverwritesOldest(t *testing.T) {
	h := NewHistogram(3)
	h.Add(time.Second)
	h.Add(2 * time.Millisecond)
	h.Add(3 * time.Millisecond)
	h.Add(4 * time.Millisecond)

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 4*time.Millisecond, h.Percentile(100))
}

func TestHistogramDrain(t *testing.T) {
	h := NewHistogram(0)
	h.Add(10 * time.Millisecond)
	h.Add(30 * time.Millisecond)

	assert.Equal(t, 20*time.Millisecond, h.Drain(50))
	assert.Zero(t, h.Len())
	assert.Zero(t, h.Drain(50))
}
