package degradation

import (
	"fmt"
	"time"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/metrics"
)

// Defaults for Config
const (
	DefaultRecoveryThreshold  = 0.8
	DefaultRecoveryWindow     = 30 * time.Second
	DefaultEvaluationInterval = 5 * time.Second
	DefaultCoverageTolerance  = 5 * time.Second
	DefaultHistorySize        = 100
	DefaultFallbackTemplate   = "We could not complete your request right now. Please try again shortly."
	DefaultStaticTemplate     = "The service is operating in %s degraded mode. Please try again later."
)

// Operator compares a metric value with a threshold
type Operator string

const (
	OpGreaterThan      Operator = "gt"
	OpGreaterThanEqual Operator = "gte"
	OpLessThan         Operator = "lt"
	OpLessThanEqual    Operator = "lte"
)

// Compare applies the operator
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterThanEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessThanEqual:
		return value <= threshold
	}
	return false
}

// Symbol returns the operator as a comparison sign
func (o Operator) Symbol() string {
	switch o {
	case OpGreaterThan:
		return ">"
	case OpGreaterThanEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanEqual:
		return "<="
	}
	return string(o)
}

func (o Operator) valid() bool {
	switch o {
	case OpGreaterThan, OpGreaterThanEqual, OpLessThan, OpLessThanEqual:
		return true
	}
	return false
}

// Trigger holds when Metric compares true against Threshold for Duration
type Trigger struct {
	Metric    metrics.Metric `yaml:"metric" mapstructure:"metric"`
	Operator  Operator       `yaml:"operator" mapstructure:"operator"`
	Threshold float64        `yaml:"threshold" mapstructure:"threshold"`
	Duration  time.Duration  `yaml:"duration" mapstructure:"duration"`
}

func (t Trigger) String() string {
	return fmt.Sprintf("%s %s %g for %s", t.Metric, t.Operator.Symbol(), t.Threshold, t.Duration)
}

// InRecoveryZone reports whether value is far enough on the safe side of the
// threshold to count toward recovery
func (t Trigger) InRecoveryZone(value, recoveryThreshold float64) bool {
	switch t.Operator {
	case OpGreaterThan, OpGreaterThanEqual:
		return value < recoveryThreshold*t.Threshold
	case OpLessThan, OpLessThanEqual:
		return value > t.Threshold/recoveryThreshold
	}
	return false
}

// ActionKind names a mitigation
type ActionKind string

const (
	ActionReduceQuality      ActionKind = "reduce_quality"
	ActionDisableFeatures    ActionKind = "disable_features"
	ActionCacheOnly          ActionKind = "cache_only"
	ActionLimitConcurrency   ActionKind = "limit_concurrency"
	ActionSimplifyProcessing ActionKind = "simplify_processing"
)

func (k ActionKind) valid() bool {
	switch k {
	case ActionReduceQuality, ActionDisableFeatures, ActionCacheOnly, ActionLimitConcurrency, ActionSimplifyProcessing:
		return true
	}
	return false
}

// Action is one mitigation step of a level
type Action struct {
	Kind             ActionKind `yaml:"kind" mapstructure:"kind"`
	QualityReduction float64    `yaml:"quality_reduction,omitempty" mapstructure:"quality_reduction"`
	Features         []string   `yaml:"features,omitempty" mapstructure:"features"`
	MaxConcurrency   int        `yaml:"max_concurrency,omitempty" mapstructure:"max_concurrency"`
	MaxContentLength int        `yaml:"max_content_length,omitempty" mapstructure:"max_content_length"`
}

// Level is a named, priority-ranked degradation configuration
type Level struct {
	ID               string    `yaml:"id" mapstructure:"id"`
	Name             string    `yaml:"name" mapstructure:"name"`
	Priority         int       `yaml:"priority" mapstructure:"priority"`
	Triggers         []Trigger `yaml:"triggers" mapstructure:"triggers"`
	Actions          []Action  `yaml:"actions" mapstructure:"actions"`
	QualityReduction float64   `yaml:"quality_reduction" mapstructure:"quality_reduction"`
	DisabledFeatures []string  `yaml:"disabled_features,omitempty" mapstructure:"disabled_features"`
	StaticResponse   string    `yaml:"static_response,omitempty" mapstructure:"static_response"`
}

// Config holds the controller settings
type Config struct {
	Levels             []Level       `yaml:"levels" mapstructure:"levels"`
	RecoveryThreshold  float64       `yaml:"recovery_threshold" mapstructure:"recovery_threshold"`
	RecoveryWindow     time.Duration `yaml:"recovery_window" mapstructure:"recovery_window"`
	EvaluationInterval time.Duration `yaml:"evaluation_interval" mapstructure:"evaluation_interval"`
	// CoverageTolerance is how much younger than a trigger duration the
	// oldest window sample may be, allowing for sampling jitter
	CoverageTolerance time.Duration `yaml:"coverage_tolerance" mapstructure:"coverage_tolerance"`
	HistorySize       int           `yaml:"history_size" mapstructure:"history_size"`
	FallbackTemplate  string        `yaml:"fallback_template" mapstructure:"fallback_template"`
}

// DefaultLevels returns the built-in light, moderate, heavy and emergency levels
func DefaultLevels() []Level {
	return []Level{
		{
			ID:       "light",
			Name:     "Light",
			Priority: 1,
			Triggers: []Trigger{
				{Metric: metrics.MetricResponseTime, Operator: OpGreaterThan, Threshold: 2000, Duration: 60 * time.Second},
			},
			Actions: []Action{
				{Kind: ActionReduceQuality, QualityReduction: 0.1},
			},
			QualityReduction: 0.1,
		},
		{
			ID:       "moderate",
			Name:     "Moderate",
			Priority: 2,
			Triggers: []Trigger{
				{Metric: metrics.MetricResponseTime, Operator: OpGreaterThan, Threshold: 5000, Duration: 30 * time.Second},
			},
			Actions: []Action{
				{Kind: ActionDisableFeatures, Features: []string{"advanced_analytics", "streaming"}},
				{Kind: ActionReduceQuality, QualityReduction: 0.25},
			},
			QualityReduction: 0.25,
			DisabledFeatures: []string{"advanced_analytics", "streaming"},
		},
		{
			ID:       "heavy",
			Name:     "Heavy",
			Priority: 3,
			Triggers: []Trigger{
				{Metric: metrics.MetricErrorRate, Operator: OpGreaterThan, Threshold: 0.1, Duration: 30 * time.Second},
			},
			Actions: []Action{
				{Kind: ActionCacheOnly},
				{Kind: ActionSimplifyProcessing, MaxContentLength: 2000},
				{Kind: ActionLimitConcurrency, MaxConcurrency: 10},
			},
			QualityReduction: 0.5,
			DisabledFeatures: []string{"advanced_analytics", "streaming", "tool_use"},
		},
		{
			ID:       "emergency",
			Name:     "Emergency",
			Priority: 4,
			Triggers: []Trigger{
				{Metric: metrics.MetricErrorRate, Operator: OpGreaterThan, Threshold: 0.25, Duration: 30 * time.Second},
				{Metric: metrics.MetricMemoryUtilization, Operator: OpGreaterThan, Threshold: 0.9, Duration: 15 * time.Second},
			},
			Actions: []Action{
				{Kind: ActionCacheOnly},
				{Kind: ActionLimitConcurrency, MaxConcurrency: 2},
			},
			QualityReduction: 0.8,
			DisabledFeatures: []string{"advanced_analytics", "streaming", "tool_use", "file_upload"},
			StaticResponse:   "The service is under heavy load and is serving essential requests only. Please try again in a few minutes.",
		},
	}
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		Levels:             DefaultLevels(),
		RecoveryThreshold:  DefaultRecoveryThreshold,
		RecoveryWindow:     DefaultRecoveryWindow,
		EvaluationInterval: DefaultEvaluationInterval,
		CoverageTolerance:  DefaultCoverageTolerance,
		HistorySize:        DefaultHistorySize,
		FallbackTemplate:   DefaultFallbackTemplate,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Levels == nil {
		c.Levels = d.Levels
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = d.RecoveryThreshold
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = d.RecoveryWindow
	}
	if c.EvaluationInterval <= 0 {
		c.EvaluationInterval = d.EvaluationInterval
	}
	if c.CoverageTolerance < 0 {
		c.CoverageTolerance = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.FallbackTemplate == "" {
		c.FallbackTemplate = d.FallbackTemplate
	}
	return c
}

// Validate reports every invalid setting. Trigger durations and the
// recovery window must fit inside the metrics window retention.
func (c Config) Validate(retention time.Duration) []error {
	var errs []error
	if c.RecoveryThreshold <= 0 || c.RecoveryThreshold > 1 {
		errs = append(errs, fmt.Errorf("degradation.recovery_threshold must be in (0,1], got %g", c.RecoveryThreshold))
	}
	if c.RecoveryWindow <= 0 {
		errs = append(errs, fmt.Errorf("degradation.recovery_window must be positive, got %s", c.RecoveryWindow))
	}
	if retention > 0 && c.RecoveryWindow > retention {
		errs = append(errs, fmt.Errorf("degradation.recovery_window (%s) exceeds metrics retention (%s)", c.RecoveryWindow, retention))
	}
	if c.EvaluationInterval <= 0 {
		errs = append(errs, fmt.Errorf("degradation.evaluation_interval must be positive, got %s", c.EvaluationInterval))
	}

	ids := make(map[string]bool)
	priorities := make(map[int]string)
	for i, level := range c.Levels {
		prefix := fmt.Sprintf("degradation.levels[%d]", i)
		if level.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id must not be empty", prefix))
		} else if ids[level.ID] {
			errs = append(errs, fmt.Errorf("%s.id %q is duplicated", prefix, level.ID))
		}
		ids[level.ID] = true

		if level.Priority <= 0 {
			errs = append(errs, fmt.Errorf("%s.priority must be positive, got %d", prefix, level.Priority))
		} else if other, taken := priorities[level.Priority]; taken {
			errs = append(errs, fmt.Errorf("%s.priority %d is already used by %q", prefix, level.Priority, other))
		}
		priorities[level.Priority] = level.ID

		if level.QualityReduction < 0 || level.QualityReduction > 1 {
			errs = append(errs, fmt.Errorf("%s.quality_reduction must be in [0,1], got %g", prefix, level.QualityReduction))
		}

		for j, trig := range level.Triggers {
			tp := fmt.Sprintf("%s.triggers[%d]", prefix, j)
			if _, err := metrics.ParseMetric(string(trig.Metric)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", tp, err))
			}
			if !trig.Operator.valid() {
				errs = append(errs, fmt.Errorf("%s.operator %q is unknown", tp, trig.Operator))
			}
			if trig.Duration <= 0 {
				errs = append(errs, fmt.Errorf("%s.duration must be positive, got %s", tp, trig.Duration))
			}
			if retention > 0 && trig.Duration > retention {
				errs = append(errs, fmt.Errorf("%s.duration (%s) exceeds metrics retention (%s)", tp, trig.Duration, retention))
			}
		}

		for j, action := range level.Actions {
			ap := fmt.Sprintf("%s.actions[%d]", prefix, j)
			if !action.Kind.valid() {
				errs = append(errs, fmt.Errorf("%s.kind %q is unknown", ap, action.Kind))
			}
			if action.Kind == ActionLimitConcurrency && action.MaxConcurrency <= 0 {
				errs = append(errs, fmt.Errorf("%s.max_concurrency must be positive", ap))
			}
		}
	}
	return errs
}
