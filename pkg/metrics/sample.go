// Package metrics holds the system-wide metrics samples shared by the health
// monitor and the degradation controller, the sliding window that retains
// them, and the sampler that builds them from live traffic.
package metrics

import (
	"fmt"
	"time"
)

// Metric names one field of a SystemMetricsSample
type Metric string

const (
	MetricResponseTime      Metric = "response_time"
	MetricResponseTimeP95   Metric = "response_time_p95"
	MetricErrorRate         Metric = "error_rate"
	MetricMemoryUtilization Metric = "memory_utilization"
	MetricCPUUtilization    Metric = "cpu_utilization"
	MetricRequestVolume     Metric = "request_volume"
)

// AllMetrics lists every known metric
func AllMetrics() []Metric {
	return []Metric{
		MetricResponseTime,
		MetricResponseTimeP95,
		MetricErrorRate,
		MetricMemoryUtilization,
		MetricCPUUtilization,
		MetricRequestVolume,
	}
}

// ParseMetric validates a metric name. "memory" and "cpu" are accepted as aliases.
func ParseMetric(name string) (Metric, error) {
	switch name {
	case "response_time", "latency":
		return MetricResponseTime, nil
	case "response_time_p95", "latency_p95":
		return MetricResponseTimeP95, nil
	case "error_rate":
		return MetricErrorRate, nil
	case "memory_utilization", "memory":
		return MetricMemoryUtilization, nil
	case "cpu_utilization", "cpu":
		return MetricCPUUtilization, nil
	case "request_volume":
		return MetricRequestVolume, nil
	}
	return "", fmt.Errorf("unknown metric %q", name)
}

// SystemMetricsSample is an immutable point-in-time snapshot of system load
type SystemMetricsSample struct {
	ResponseTimeMs    float64   `json:"response_time_ms"`
	ResponseTimeP95Ms float64   `json:"response_time_p95_ms"`
	ErrorRate         float64   `json:"error_rate"`
	MemoryUtilization float64   `json:"memory_utilization"`
	CPUUtilization    float64   `json:"cpu_utilization"`
	RequestVolume     float64   `json:"request_volume"`
	Timestamp         time.Time `json:"timestamp"`
}

// Value returns the field named by metric, or 0 for an unknown metric
func (s SystemMetricsSample) Value(metric Metric) float64 {
	switch metric {
	case MetricResponseTime:
		return s.ResponseTimeMs
	case MetricResponseTimeP95:
		return s.ResponseTimeP95Ms
	case MetricErrorRate:
		return s.ErrorRate
	case MetricMemoryUtilization:
		return s.MemoryUtilization
	case MetricCPUUtilization:
		return s.CPUUtilization
	case MetricRequestVolume:
		return s.RequestVolume
	}
	return 0
}
