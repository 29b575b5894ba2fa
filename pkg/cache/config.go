package cache

import (
	"fmt"
	"time"
)

// Defaults for Config
const (
	DefaultMaxCacheSize           int64 = 100 << 20
	DefaultMaxItemSize            int64 = 10 << 20
	DefaultTTL                          = time.Hour
	DefaultCompressionThreshold   int64 = 1 << 10
	DefaultSweepInterval                = 5 * time.Minute
	DefaultEvictionBurstThreshold       = 10
	DefaultTopN                         = 10
)

// Eviction policy names
const (
	PolicyLRU    = "lru"
	PolicyLFU    = "lfu"
	PolicyFIFO   = "fifo"
	PolicyRandom = "random"
)

// Codec names
const (
	CodecGzip = "gzip"
	CodecZstd = "zstd"
)

// StrategyConfig tunes the built-in strategies
type StrategyConfig struct {
	ExpensiveTTL           time.Duration `yaml:"expensive_ttl" mapstructure:"expensive_ttl"`
	ExpensiveCostThreshold float64       `yaml:"expensive_cost_threshold" mapstructure:"expensive_cost_threshold"`
	ExpensiveLatencyMs     float64       `yaml:"expensive_latency_ms" mapstructure:"expensive_latency_ms"`
	UserTTL                time.Duration `yaml:"user_ttl" mapstructure:"user_ttl"`
	SimilarTTL             time.Duration `yaml:"similar_ttl" mapstructure:"similar_ttl"`
}

// Config holds the cache settings
type Config struct {
	MaxCacheSize           int64          `yaml:"max_cache_size" mapstructure:"max_cache_size"`
	MaxItemSize            int64          `yaml:"max_item_size" mapstructure:"max_item_size"`
	DefaultTTL             time.Duration  `yaml:"default_ttl" mapstructure:"default_ttl"`
	CompressionEnabled     bool           `yaml:"compression_enabled" mapstructure:"compression_enabled"`
	CompressionThreshold   int64          `yaml:"compression_threshold" mapstructure:"compression_threshold"`
	Codec                  string         `yaml:"codec" mapstructure:"codec"`
	EvictionPolicy         string         `yaml:"eviction_policy" mapstructure:"eviction_policy"`
	SweepInterval          time.Duration  `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	EvictionBurstThreshold int            `yaml:"eviction_burst_threshold" mapstructure:"eviction_burst_threshold"`
	TopN                   int            `yaml:"top_n" mapstructure:"top_n"`
	Strategies             StrategyConfig `yaml:"strategies" mapstructure:"strategies"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		MaxCacheSize:           DefaultMaxCacheSize,
		MaxItemSize:            DefaultMaxItemSize,
		DefaultTTL:             DefaultTTL,
		CompressionEnabled:     true,
		CompressionThreshold:   DefaultCompressionThreshold,
		Codec:                  CodecGzip,
		EvictionPolicy:         PolicyLRU,
		SweepInterval:          DefaultSweepInterval,
		EvictionBurstThreshold: DefaultEvictionBurstThreshold,
		TopN:                   DefaultTopN,
		Strategies: StrategyConfig{
			ExpensiveTTL:           4 * time.Hour,
			ExpensiveCostThreshold: 0.01,
			ExpensiveLatencyMs:     5000,
			UserTTL:                30 * time.Minute,
			SimilarTTL:             30 * time.Minute,
		},
	}
}

// Validate reports every invalid setting
func (c Config) Validate() []error {
	var errs []error
	if c.MaxCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_cache_size must be positive, got %d", c.MaxCacheSize))
	}
	if c.MaxItemSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_item_size must be positive, got %d", c.MaxItemSize))
	}
	if c.MaxItemSize > c.MaxCacheSize {
		errs = append(errs, fmt.Errorf("cache.max_item_size (%d) must not exceed cache.max_cache_size (%d)", c.MaxItemSize, c.MaxCacheSize))
	}
	if c.DefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.default_ttl must be positive, got %s", c.DefaultTTL))
	}
	if c.CompressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("cache.compression_threshold must not be negative, got %d", c.CompressionThreshold))
	}
	if _, err := NewCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if _, err := NewEvictionPolicy(c.EvictionPolicy, nil); err != nil {
		errs = append(errs, err)
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache.sweep_interval must be positive, got %s", c.SweepInterval))
	}
	return errs
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxCacheSize <= 0 {
		c.MaxCacheSize = d.MaxCacheSize
	}
	if c.MaxItemSize <= 0 {
		c.MaxItemSize = d.MaxItemSize
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.Codec == "" {
		c.Codec = d.Codec
	}
	if c.EvictionPolicy == "" {
		c.EvictionPolicy = d.EvictionPolicy
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.EvictionBurstThreshold <= 0 {
		c.EvictionBurstThreshold = d.EvictionBurstThreshold
	}
	if c.TopN <= 0 {
		c.TopN = d.TopN
	}
	if c.Strategies.ExpensiveTTL <= 0 {
		c.Strategies.ExpensiveTTL = d.Strategies.ExpensiveTTL
	}
	if c.Strategies.UserTTL <= 0 {
		c.Strategies.UserTTL = d.Strategies.UserTTL
	}
	if c.Strategies.SimilarTTL <= 0 {
		c.Strategies.SimilarTTL = d.Strategies.SimilarTTL
	}
	if c.Strategies.ExpensiveCostThreshold <= 0 {
		c.Strategies.ExpensiveCostThreshold = d.Strategies.ExpensiveCostThreshold
	}
	if c.Strategies.ExpensiveLatencyMs <= 0 {
		c.Strategies.ExpensiveLatencyMs = d.Strategies.ExpensiveLatencyMs
	}
	return c
}
