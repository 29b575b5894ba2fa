package health

import "time"

// Defaults for Config
const (
	DefaultInterval          = 30 * time.Second
	DefaultProbeTimeout      = 10 * time.Second
	DefaultFailureThreshold  = 3
	DefaultMinAvailability   = 0.5
	DefaultMaxErrorRate      = 0.5
	DefaultAvailabilityAlpha = 0.9
	DefaultErrorRateAlpha    = 0.9
	DefaultResponseTimeAlpha = 0.8
	DefaultStatusCacheTTL    = 5 * time.Second
	DefaultProbeConcurrency  = 8
)

// Config holds the health monitor settings. The alpha values weight the
// previous rolling average: new = old*alpha + sample*(1-alpha).
type Config struct {
	Interval               time.Duration `yaml:"interval" mapstructure:"interval"`
	ProbeTimeout           time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	FailureThreshold       int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	MinAvailability        float64       `yaml:"min_availability" mapstructure:"min_availability"`
	MaxErrorRate           float64       `yaml:"max_error_rate" mapstructure:"max_error_rate"`
	AvailabilityAlpha      float64       `yaml:"availability_alpha" mapstructure:"availability_alpha"`
	ErrorRateAlpha         float64       `yaml:"error_rate_alpha" mapstructure:"error_rate_alpha"`
	ResponseTimeAlpha      float64       `yaml:"response_time_alpha" mapstructure:"response_time_alpha"`
	StatusCacheTTL         time.Duration `yaml:"status_cache_ttl" mapstructure:"status_cache_ttl"`
	OptimisticRegistration bool          `yaml:"optimistic_registration" mapstructure:"optimistic_registration"`
	ProbeConcurrency       int           `yaml:"probe_concurrency" mapstructure:"probe_concurrency"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		Interval:               DefaultInterval,
		ProbeTimeout:           DefaultProbeTimeout,
		FailureThreshold:       DefaultFailureThreshold,
		MinAvailability:        DefaultMinAvailability,
		MaxErrorRate:           DefaultMaxErrorRate,
		AvailabilityAlpha:      DefaultAvailabilityAlpha,
		ErrorRateAlpha:         DefaultErrorRateAlpha,
		ResponseTimeAlpha:      DefaultResponseTimeAlpha,
		StatusCacheTTL:         DefaultStatusCacheTTL,
		OptimisticRegistration: true,
		ProbeConcurrency:       DefaultProbeConcurrency,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.StatusCacheTTL < 0 {
		c.StatusCacheTTL = 0
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = d.ProbeConcurrency
	}
	return c
}
