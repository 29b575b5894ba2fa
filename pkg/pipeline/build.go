package pipeline

import (
	"go.uber.org/zap"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/cache"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/capability"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/config"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/degradation"
	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/events"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/health"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/metrics"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/selection"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// BuildOptions supplies the collaborators a configuration cannot describe
type BuildOptions struct {
	Prober    health.Prober
	Resources metrics.ResourceReader
	Hierarchy *capability.Hierarchy
	Logger    *zap.Logger

	MaxAttempts int
}

// Build constructs every component from cfg and wires them into a pipeline
// sharing one event bus and one metrics window. A nil cfg uses the defaults.
func Build(cfg *config.Config, opts BuildOptions) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, pipeerr.Wrap(pipeerr.Join(errs...), pipeerr.CodeConfigValidateInvalidValue, "validating config")
	}

	logger := opts.Logger
	if logger == nil {
		built, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		logger = built
	}
	bus := events.NewBus()

	window := metrics.NewWindow(cfg.Metrics.Retention, cfg.Metrics.MaxSamples)
	resources := opts.Resources
	if resources == nil {
		resources = metrics.NewRuntimeResourceReader(cfg.Metrics.MemoryLimitBytes)
	}
	sampler := metrics.NewSampler(window, cfg.Metrics, resources, logger.Named("metrics"))

	monitorOpts := []health.Option{health.WithEventBus(bus), health.WithLogger(logger.Named("health"))}
	if opts.Prober != nil {
		monitorOpts = append(monitorOpts, health.WithProber(opts.Prober))
	}
	monitor := health.NewMonitor(cfg.Health, monitorOpts...)

	hierarchy := opts.Hierarchy
	if hierarchy == nil {
		hierarchy = capability.DefaultHierarchy()
	}
	selector := selection.NewSelector(capability.NewMatcher(hierarchy, cfg.Capability), monitor, logger.Named("selection"))

	responses, err := cache.New(cfg.Cache, cache.WithEventBus(bus), cache.WithLogger(logger.Named("cache")))
	if err != nil {
		return nil, err
	}

	controller, err := degradation.NewController(cfg.Degradation, window,
		degradation.WithEventBus(bus),
		degradation.WithLogger(logger.Named("degradation")),
		degradation.WithCache(NewAgentCacheReader(responses, selector)))
	if err != nil {
		return nil, err
	}

	return New(Components{
		Selector:    selector,
		Health:      monitor,
		Cache:       responses,
		Degradation: controller,
		Sampler:     sampler,
		Bus:         bus,
		Logger:      logger.Named("pipeline"),
		MaxAttempts: opts.MaxAttempts,
	})
}

// AgentCacheReader looks a request up as given and then as routed to each
// registered agent, since responses are cached under the agent that served them
type AgentCacheReader struct {
	cache    *cache.Cache
	selector *selection.Selector
}

// NewAgentCacheReader creates a reader for the degradation cache_only action
func NewAgentCacheReader(c *cache.Cache, s *selection.Selector) *AgentCacheReader {
	return &AgentCacheReader{cache: c, selector: s}
}

// Get implements degradation.CacheReader
func (r *AgentCacheReader) Get(req *types.Request) ([]byte, bool) {
	if r.cache == nil || req == nil {
		return nil, false
	}
	reqs := []*types.Request{req}
	if req.Provider == "" && r.selector != nil {
		for _, agent := range r.selector.Agents() {
			routed := req.Clone()
			routed.Provider = agent.ID
			reqs = append(reqs, routed)
		}
	}
	data, _, ok := r.cache.GetFirst(reqs...)
	return data, ok
}
