// Package degradation implements the leveled degradation state machine.
// A periodic evaluator reads the shared metrics window, activates the
// highest-priority level whose triggers are sustained, escalates to more
// severe levels and recovers once metrics settle below the hysteresis
// threshold. Request handling only reads the state snapshot.
package degradation

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/events"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/metrics"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// TransitionKind names a state change
type TransitionKind string

const (
	TransitionNone      TransitionKind = ""
	TransitionActivated TransitionKind = "activated"
	TransitionEscalated TransitionKind = "escalated"
	TransitionRecovered TransitionKind = "recovered"
)

// Transition records one state change
type Transition struct {
	Kind    TransitionKind
	From    string
	To      string
	At      time.Time
	Reasons []string
	Forced  bool
}

// State is an immutable snapshot of the controller state
type State struct {
	Level            string
	LevelName        string
	Priority         int
	ActivatedAt      time.Time
	ActiveReasons    []string
	ActiveActions    []ActionKind
	QualityReduction float64
	DisabledFeatures []string
	Forced           bool
}

// Active reports whether a level is in effect
func (s State) Active() bool {
	return s.Level != ""
}

// CacheReader serves the cache_only action
type CacheReader interface {
	Get(req *types.Request) ([]byte, bool)
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrNop(logger) }
}

// WithEventBus sets the bus that receives level transitions
func WithEventBus(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithCache enables the cache_only action
func WithCache(reader CacheReader) Option {
	return func(c *Controller) { c.cache = reader }
}

// WithNowFunc overrides the time source (tests only)
func WithNowFunc(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.nowFunc = now
		}
	}
}

// Controller owns the single degradation state
type Controller struct {
	cfg    Config
	levels []Level // ascending priority
	byID   map[string]*Level
	window *metrics.Window
	cache  CacheReader
	bus    *events.Bus
	logger *zap.Logger

	nowFunc func() time.Time

	mu           sync.Mutex
	active       *Level
	activatedAt  time.Time
	reasons      []string
	forced       bool
	history      []Transition
	lastFired    map[string]bool
	snapshot     atomic.Pointer[State]
	semaphores   map[string]*semaphore.Weighted
	semaphoresMu sync.Mutex

	loopMu   sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewController creates a controller over the given metrics window. The
// configuration is validated against the window retention.
func NewController(cfg Config, window *metrics.Window, opts ...Option) (*Controller, error) {
	cfg = cfg.withDefaults()
	if window == nil {
		window = metrics.NewWindow(0, 0)
	}
	if errs := cfg.Validate(window.Retention()); len(errs) > 0 {
		return nil, pipeerr.Wrap(pipeerr.Join(errs...), pipeerr.CodeConfigValidateInvalidValue,
			"invalid degradation configuration")
	}

	c := &Controller{
		cfg:        cfg,
		byID:       make(map[string]*Level, len(cfg.Levels)),
		window:     window,
		logger:     logging.Nop(),
		nowFunc:    time.Now,
		lastFired:  make(map[string]bool),
		semaphores: make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.levels = append([]Level(nil), cfg.Levels...)
	sort.SliceStable(c.levels, func(i, j int) bool { return c.levels[i].Priority < c.levels[j].Priority })
	for i := range c.levels {
		c.byID[c.levels[i].ID] = &c.levels[i]
	}
	c.snapshot.Store(&State{})
	return c, nil
}

// Config returns the effective configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// Levels returns the configured levels ordered by ascending priority
func (c *Controller) Levels() []Level {
	return append([]Level(nil), c.levels...)
}

// State returns the current snapshot without locking
func (c *Controller) State() State {
	return *c.snapshot.Load()
}

// History returns up to n most recent transitions, oldest first.
// n <= 0 returns the whole retained history.
func (c *Controller) History(n int) []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := 0
	if n > 0 && n < len(c.history) {
		start = len(c.history) - n
	}
	return append([]Transition(nil), c.history[start:]...)
}

// IsFeatureEnabled reports whether the active level leaves the feature on
func (c *Controller) IsFeatureEnabled(feature string) bool {
	for _, f := range c.State().DisabledFeatures {
		if f == feature {
			return false
		}
	}
	return true
}

// Evaluate runs one evaluation against the metrics window and applies at
// most one transition. A forced level suspends evaluation.
func (c *Controller) Evaluate() (Transition, bool) {
	now := c.nowFunc()

	satisfied := make(map[string][]string, len(c.levels))
	var candidate *Level
	for i := range c.levels {
		level := &c.levels[i]
		if reasons, ok := c.levelSatisfied(level, now); ok {
			satisfied[level.ID] = reasons
			candidate = level
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fireTriggersLocked(satisfied, now)

	if c.forced {
		return Transition{}, false
	}

	switch {
	case c.active == nil && candidate != nil:
		return c.activateLocked(candidate, satisfied[candidate.ID], now, false), true
	case c.active != nil && candidate != nil && candidate.Priority > c.active.Priority:
		return c.activateLocked(candidate, satisfied[candidate.ID], now, false), true
	case c.active != nil:
		if reason, ok := c.recovered(c.active, now); ok {
			return c.recoverLocked([]string{reason}, now, false), true
		}
	}
	return Transition{}, false
}

// ForceLevel activates the level with the given id, bypassing evaluation
// until it is cleared with an empty id.
func (c *Controller) ForceLevel(id string) (Transition, error) {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" {
		c.forced = false
		if c.active == nil {
			return Transition{}, nil
		}
		return c.recoverLocked([]string{"forced level cleared"}, now, true), nil
	}

	level, ok := c.byID[id]
	if !ok {
		return Transition{}, pipeerr.New(pipeerr.CodeDegradationLevelNotFound,
			fmt.Sprintf("unknown degradation level %q", id), pipeerr.FieldLevel(id))
	}
	c.forced = true
	if c.active == level {
		c.reasons = []string{"forced"}
		c.storeSnapshotLocked()
		return Transition{}, nil
	}
	return c.activateLocked(level, []string{"forced"}, now, true), nil
}

func (c *Controller) levelSatisfied(level *Level, now time.Time) ([]string, bool) {
	if len(level.Triggers) == 0 {
		return nil, false
	}
	reasons := make([]string, 0, len(level.Triggers))
	for _, trig := range level.Triggers {
		current, ok := c.triggerSatisfied(trig, now)
		if !ok {
			return nil, false
		}
		reasons = append(reasons, fmt.Sprintf("%s (current %.4g)", trig, current))
	}
	return reasons, true
}

// covered reports whether the window holds data reaching back d from now
func (c *Controller) covered(d time.Duration, now time.Time) bool {
	oldest, ok := c.window.Oldest()
	if !ok {
		return false
	}
	need := d - c.cfg.CoverageTolerance
	return !oldest.Timestamp.After(now.Add(-need))
}

// triggerSatisfied reports whether every sample over the trigger duration
// compares true. It returns the latest value for reason reporting.
func (c *Controller) triggerSatisfied(trig Trigger, now time.Time) (float64, bool) {
	if !c.covered(trig.Duration, now) {
		return 0, false
	}
	samples := c.window.Since(now.Add(-trig.Duration))
	if len(samples) == 0 {
		return 0, false
	}
	for _, s := range samples {
		if !trig.Operator.Compare(s.Value(trig.Metric), trig.Threshold) {
			return 0, false
		}
	}
	return samples[len(samples)-1].Value(trig.Metric), true
}

// recovered reports whether any trigger of level stayed in its recovery
// zone for the whole recovery window
func (c *Controller) recovered(level *Level, now time.Time) (string, bool) {
	if !c.covered(c.cfg.RecoveryWindow, now) {
		return "", false
	}
	samples := c.window.Since(now.Add(-c.cfg.RecoveryWindow))
	if len(samples) == 0 {
		return "", false
	}
	for _, trig := range level.Triggers {
		inZone := true
		for _, s := range samples {
			if !trig.InRecoveryZone(s.Value(trig.Metric), c.cfg.RecoveryThreshold) {
				inZone = false
				break
			}
		}
		if inZone {
			return fmt.Sprintf("%s recovered below %.0f%% of threshold for %s",
				trig.Metric, c.cfg.RecoveryThreshold*100, c.cfg.RecoveryWindow), true
		}
	}
	return "", false
}

func (c *Controller) fireTriggersLocked(satisfied map[string][]string, now time.Time) {
	for _, level := range c.levels {
		reasons, ok := satisfied[level.ID]
		if ok && !c.lastFired[level.ID] {
			c.bus.Publish(events.New(events.TypeDegradationTriggerFired, events.SourceDegradation, level.ID, now,
				map[string]interface{}{"level": level.ID, "priority": level.Priority, "reasons": reasons}))
		}
		c.lastFired[level.ID] = ok
	}
}

func (c *Controller) activateLocked(level *Level, reasons []string, now time.Time, forced bool) Transition {
	t := Transition{Kind: TransitionActivated, To: level.ID, At: now, Reasons: reasons, Forced: forced}
	eventType := events.TypeDegradationActivated
	if c.active != nil {
		t.Kind = TransitionEscalated
		t.From = c.active.ID
		eventType = events.TypeDegradationEscalated
	}

	c.active = level
	c.activatedAt = now
	c.reasons = append([]string(nil), reasons...)
	c.storeSnapshotLocked()
	c.recordLocked(t)

	c.logger.Warn("Degradation level "+string(t.Kind),
		zap.String("level", level.ID),
		zap.String("from", t.From),
		zap.Strings("reasons", reasons),
		zap.Bool("forced", forced))
	c.bus.Publish(events.New(eventType, events.SourceDegradation, level.ID, now, map[string]interface{}{
		"level":    level.ID,
		"from":     t.From,
		"priority": level.Priority,
		"reasons":  reasons,
		"forced":   forced,
	}))
	return t
}

func (c *Controller) recoverLocked(reasons []string, now time.Time, forced bool) Transition {
	t := Transition{Kind: TransitionRecovered, From: c.active.ID, At: now, Reasons: reasons, Forced: forced}
	duration := now.Sub(c.activatedAt)

	c.active = nil
	c.activatedAt = time.Time{}
	c.reasons = nil
	c.storeSnapshotLocked()
	c.recordLocked(t)

	c.logger.Info("Degradation level recovered",
		zap.String("level", t.From),
		zap.Duration("active_for", duration),
		zap.Strings("reasons", reasons))
	c.bus.Publish(events.New(events.TypeDegradationRecovered, events.SourceDegradation, t.From, now, map[string]interface{}{
		"level":      t.From,
		"reasons":    reasons,
		"active_for": duration.String(),
		"forced":     forced,
	}))
	return t
}

func (c *Controller) recordLocked(t Transition) {
	c.history = append(c.history, t)
	if over := len(c.history) - c.cfg.HistorySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

func (c *Controller) storeSnapshotLocked() {
	if c.active == nil {
		c.snapshot.Store(&State{})
		return
	}
	level := c.active
	state := &State{
		Level:            level.ID,
		LevelName:        level.Name,
		Priority:         level.Priority,
		ActivatedAt:      c.activatedAt,
		ActiveReasons:    append([]string(nil), c.reasons...),
		QualityReduction: level.QualityReduction,
		DisabledFeatures: disabledFeatures(level),
		Forced:           c.forced,
	}
	for _, action := range level.Actions {
		state.ActiveActions = append(state.ActiveActions, action.Kind)
	}
	c.snapshot.Store(state)
}

func disabledFeatures(level *Level) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(features []string) {
		for _, f := range features {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	add(level.DisabledFeatures)
	for _, action := range level.Actions {
		if action.Kind == ActionDisableFeatures {
			add(action.Features)
		}
	}
	sort.Strings(out)
	return out
}

// Start runs the evaluation loop until Stop is called
func (c *Controller) Start() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.ticker = time.NewTicker(c.cfg.EvaluationInterval)
	c.stopChan = make(chan struct{})

	c.wg.Add(1)
	go func(ticker *time.Ticker, stop chan struct{}) {
		defer c.wg.Done()
		for {
			select {
			case <-ticker.C:
				c.tick()
			case <-stop:
				return
			}
		}
	}(c.ticker, c.stopChan)

	c.logger.Info("Degradation evaluator started", zap.Duration("interval", c.cfg.EvaluationInterval))
}

func (c *Controller) tick() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Degradation evaluation panicked", zap.Any("panic", r))
		}
	}()
	c.Evaluate()
}

// Stop halts the evaluation loop and waits for it to exit
func (c *Controller) Stop() {
	c.loopMu.Lock()
	if !c.running {
		c.loopMu.Unlock()
		return
	}
	c.running = false
	ticker := c.ticker
	stop := c.stopChan
	c.loopMu.Unlock()

	ticker.Stop()
	close(stop)
	c.wg.Wait()

	c.logger.Info("Degradation evaluator stopped")
}
