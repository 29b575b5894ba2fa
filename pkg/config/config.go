// Package config assembles the settings of every pipeline component into a
// single tree that can be parsed from YAML or loaded from a file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/cache"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/capability"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/degradation"
	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/health"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/metrics"
)

// EnvPrefix prefixes environment overrides, e.g. AIPIPE_CACHE_MAX_CACHE_SIZE
const EnvPrefix = "AIPIPE"

// Config is the top-level pipeline configuration
type Config struct {
	Logging     logging.Config     `yaml:"logging" mapstructure:"logging"`
	Metrics     metrics.Config     `yaml:"metrics" mapstructure:"metrics"`
	Health      health.Config      `yaml:"health" mapstructure:"health"`
	Capability  capability.Config  `yaml:"capability" mapstructure:"capability"`
	Cache       cache.Config       `yaml:"cache" mapstructure:"cache"`
	Degradation degradation.Config `yaml:"degradation" mapstructure:"degradation"`
}

// Default returns a configuration holding every documented default
func Default() *Config {
	return &Config{
		Logging:     logging.DefaultConfig(),
		Metrics:     metrics.DefaultConfig(),
		Health:      health.DefaultConfig(),
		Capability:  capability.DefaultConfig(),
		Cache:       cache.DefaultConfig(),
		Degradation: degradation.DefaultConfig(),
	}
}

// Parse overlays YAML data on the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, pipeerr.Wrap(err, pipeerr.CodeConfigParseInvalidFormat, "parsing config")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, pipeerr.Wrap(pipeerr.Join(errs...), pipeerr.CodeConfigValidateInvalidValue, "validating config")
	}
	return cfg, nil
}

// Load reads configuration from path (or defaults only when path is empty)
// with environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults, err := defaultSettings()
	if err != nil {
		return nil, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, pipeerr.Wrap(err, pipeerr.CodeConfigLoadReadFailure, "reading config",
				pipeerr.Field("path", path))
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pipeerr.Wrap(err, pipeerr.CodeConfigParseInvalidFormat, "parsing config",
				pipeerr.Field("path", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pipeerr.Wrap(err, pipeerr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, pipeerr.Wrap(pipeerr.Join(errs...), pipeerr.CodeConfigValidateInvalidValue, "validating config")
	}
	return &cfg, nil
}

// defaultSettings flattens Default into dotted viper keys. Lists stay whole.
func defaultSettings() (map[string]interface{}, error) {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return nil, pipeerr.Wrap(err, pipeerr.CodeConfigParseInvalidFormat, "encoding defaults")
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, pipeerr.Wrap(err, pipeerr.CodeConfigParseInvalidFormat, "decoding defaults")
	}
	out := make(map[string]interface{})
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, tree map[string]interface{}, out map[string]interface{}) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = value
	}
}

// Validate checks the configuration for logical errors. It returns every
// problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error
	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateHealth()...)
	errs = append(errs, c.validateCapability()...)
	errs = append(errs, c.Cache.Validate()...)
	errs = append(errs, c.Degradation.Validate(c.Metrics.Retention)...)
	return errs
}

func (c *Config) validateMetrics() []error {
	var errs []error
	if c.Metrics.Retention <= 0 {
		errs = append(errs, fmt.Errorf("metrics.retention must be positive, got %s", c.Metrics.Retention))
	}
	if c.Metrics.MaxSamples <= 0 {
		errs = append(errs, fmt.Errorf("metrics.max_samples must be positive, got %d", c.Metrics.MaxSamples))
	}
	if c.Metrics.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.sample_interval must be positive, got %s", c.Metrics.SampleInterval))
	}
	return errs
}

func (c *Config) validateHealth() []error {
	h := c.Health
	var errs []error
	if h.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("health.failure_threshold must be at least 1, got %d", h.FailureThreshold))
	}
	for name, alpha := range map[string]float64{
		"health.availability_alpha":  h.AvailabilityAlpha,
		"health.error_rate_alpha":    h.ErrorRateAlpha,
		"health.response_time_alpha": h.ResponseTimeAlpha,
	} {
		if alpha < 0 || alpha >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0,1), got %g", name, alpha))
		}
	}
	if h.MinAvailability < 0 || h.MinAvailability > 1 {
		errs = append(errs, fmt.Errorf("health.min_availability must be in [0,1], got %g", h.MinAvailability))
	}
	if h.MaxErrorRate < 0 || h.MaxErrorRate > 1 {
		errs = append(errs, fmt.Errorf("health.max_error_rate must be in [0,1], got %g", h.MaxErrorRate))
	}
	if h.Interval <= 0 {
		errs = append(errs, fmt.Errorf("health.interval must be positive, got %s", h.Interval))
	}
	if h.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("health.probe_timeout must be positive, got %s", h.ProbeTimeout))
	}
	return errs
}

func (c *Config) validateCapability() []error {
	m := c.Capability
	var errs []error
	if m.MissingPenalty < 0 {
		errs = append(errs, fmt.Errorf("capability.missing_penalty must not be negative, got %g", m.MissingPenalty))
	}
	if m.DegradedPenalty < 0 || m.DegradedPenalty > 1 {
		errs = append(errs, fmt.Errorf("capability.degraded_penalty must be in [0,1], got %g", m.DegradedPenalty))
	}
	if m.LoadWeight < 0 || m.LoadWeight > 1 {
		errs = append(errs, fmt.Errorf("capability.load_weight must be in [0,1], got %g", m.LoadWeight))
	}
	return errs
}
