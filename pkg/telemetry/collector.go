// Package telemetry exports pipeline component state as Prometheus metrics.
// Component snapshots are read at scrape time, so nothing here sits on the
// request path except the request counter and latency histogram.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/cache"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/degradation"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/health"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// Namespace prefixes every exported metric
const Namespace = "aipipe"

// Request outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeCached   = "cached"
	OutcomeDegraded = "degraded"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

var statuses = []types.HealthStatus{
	types.HealthStatusHealthy,
	types.HealthStatusDegraded,
	types.HealthStatusUnhealthy,
	types.HealthStatusOffline,
}

// CacheSource provides cache snapshots
type CacheSource interface {
	Stats() cache.Stats
}

// HealthSource provides provider health snapshots
type HealthSource interface {
	All() []health.ProviderHealth
}

// DegradationSource provides the degradation state and configured levels
type DegradationSource interface {
	State() degradation.State
	Levels() []degradation.Level
}

// Collector implements prometheus.Collector. Any source may be nil.
type Collector struct {
	cache       CacheSource
	health      HealthSource
	degradation DegradationSource

	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheEvictions *prometheus.Desc
	cacheSize      *prometheus.Desc
	cacheItems     *prometheus.Desc
	cacheHitRate   *prometheus.Desc

	providerStatus       *prometheus.Desc
	providerAvailability *prometheus.Desc
	providerErrorRate    *prometheus.Desc
	providerResponseTime *prometheus.Desc

	degradationLevel  *prometheus.Desc
	degradationActive *prometheus.Desc

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector creates a collector over the given sources
func NewCollector(c CacheSource, h HealthSource, d DegradationSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
	}
	return &Collector{
		cache:       c,
		health:      h,
		degradation: d,

		cacheHits:      desc("cache_hits_total", "Cache lookups that found a live item"),
		cacheMisses:    desc("cache_misses_total", "Cache lookups that found nothing"),
		cacheEvictions: desc("cache_evictions_total", "Items removed to make room or because they expired"),
		cacheSize:      desc("cache_size_bytes", "Stored bytes across all cache items"),
		cacheItems:     desc("cache_items", "Number of items in the cache"),
		cacheHitRate:   desc("cache_hit_rate", "Hits divided by lookups"),

		providerStatus:       desc("provider_status", "1 for the provider's current health status", "provider", "status"),
		providerAvailability: desc("provider_availability", "Rolling availability of the provider", "provider"),
		providerErrorRate:    desc("provider_error_rate", "Rolling error rate of the provider", "provider"),
		providerResponseTime: desc("provider_response_time_ms", "Rolling response time of the provider in milliseconds", "provider"),

		degradationLevel:  desc("degradation_level", "Priority of the active degradation level, 0 when none"),
		degradationActive: desc("degradation_active", "1 for the active degradation level", "level"),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Requests handled by the pipeline by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of handled requests",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
	}
}

// ObserveRequest records one handled request
func (c *Collector) ObserveRequest(outcome string, d time.Duration) {
	c.requests.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Requests exposes the request counter
func (c *Collector) Requests() *prometheus.CounterVec {
	return c.requests
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.cacheHits, c.cacheMisses, c.cacheEvictions, c.cacheSize, c.cacheItems, c.cacheHitRate,
		c.providerStatus, c.providerAvailability, c.providerErrorRate, c.providerResponseTime,
		c.degradationLevel, c.degradationActive,
	} {
		ch <- d
	}
	c.requests.Describe(ch)
	c.duration.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.cache != nil {
		s := c.cache.Stats()
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.Hits))
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.Misses))
		ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(s.Evictions))
		ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(s.TotalSize))
		ch <- prometheus.MustNewConstMetric(c.cacheItems, prometheus.GaugeValue, float64(s.Items))
		ch <- prometheus.MustNewConstMetric(c.cacheHitRate, prometheus.GaugeValue, s.HitRate)
	}

	if c.health != nil {
		for _, h := range c.health.All() {
			for _, status := range statuses {
				value := 0.0
				if h.Status == status {
					value = 1
				}
				ch <- prometheus.MustNewConstMetric(c.providerStatus, prometheus.GaugeValue, value, h.ProviderID, string(status))
			}
			ch <- prometheus.MustNewConstMetric(c.providerAvailability, prometheus.GaugeValue, h.Availability, h.ProviderID)
			ch <- prometheus.MustNewConstMetric(c.providerErrorRate, prometheus.GaugeValue, h.ErrorRate, h.ProviderID)
			ch <- prometheus.MustNewConstMetric(c.providerResponseTime, prometheus.GaugeValue, h.ResponseTimeMs, h.ProviderID)
		}
	}

	if c.degradation != nil {
		state := c.degradation.State()
		ch <- prometheus.MustNewConstMetric(c.degradationLevel, prometheus.GaugeValue, float64(state.Priority))
		for _, level := range c.degradation.Levels() {
			value := 0.0
			if level.ID == state.Level {
				value = 1
			}
			ch <- prometheus.MustNewConstMetric(c.degradationActive, prometheus.GaugeValue, value, level.ID)
		}
	}

	c.requests.Collect(ch)
	c.duration.Collect(ch)
}

// Register registers c with reg. When an equivalent collector is already
// registered, that one is returned instead so repeated wiring is harmless.
func Register(reg prometheus.Registerer, c *Collector) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*Collector); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}
