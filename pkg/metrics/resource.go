package metrics

import (
	"runtime"
)

// ResourceUsage is a utilization reading in [0,1]
type ResourceUsage struct {
	Memory float64
	CPU    float64
}

// ResourceReader reports process resource pressure
type ResourceReader interface {
	ReadResources() (ResourceUsage, error)
}

// ResourceReaderFunc adapts a function to ResourceReader
type ResourceReaderFunc func() (ResourceUsage, error)

// ReadResources implements ResourceReader
func (f ResourceReaderFunc) ReadResources() (ResourceUsage, error) {
	return f()
}

// DefaultMemoryLimit is used when no explicit limit is configured (1 GiB)
const DefaultMemoryLimit uint64 = 1 << 30

// RuntimeResourceReader reports heap usage against a fixed limit. The Go
// runtime has no portable process CPU gauge, so CPU is always 0.
type RuntimeResourceReader struct {
	MemoryLimitBytes uint64
}

// NewRuntimeResourceReader creates a reader for the given memory limit
func NewRuntimeResourceReader(limitBytes uint64) *RuntimeResourceReader {
	if limitBytes == 0 {
		limitBytes = DefaultMemoryLimit
	}
	return &RuntimeResourceReader{MemoryLimitBytes: limitBytes}
}

// ReadResources implements ResourceReader
func (r *RuntimeResourceReader) ReadResources() (ResourceUsage, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	limit := r.MemoryLimitBytes
	if limit == 0 {
		limit = DefaultMemoryLimit
	}

	usage := float64(stats.HeapAlloc) / float64(limit)
	if usage > 1 {
		usage = 1
	}
	return ResourceUsage{Memory: usage}, nil
}
