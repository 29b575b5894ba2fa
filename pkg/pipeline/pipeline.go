// Package pipeline runs the per-request decision flow: the degradation
// check, agent ranking, cache lookup, the provider call with failover across
// ranked agents, and outcome reporting back into health and metrics.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/cache"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/capability"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/degradation"
	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/events"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/health"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/metrics"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/selection"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/telemetry"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// Response metadata set by Handle
const (
	MetaAgent         = "agent"
	MetaAttempt       = "attempt"
	MetaFallbackAgent = "fallback_from"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProviderFunc calls the external provider behind agentID
type ProviderFunc func(ctx context.Context, agentID string, req *types.Request) (*types.Response, error)

// Components are the collaborators a Pipeline drives. Selector is required;
// every other component is optional and skipped when nil.
type Components struct {
	Selector    *selection.Selector
	Health      *health.Monitor
	Cache       *cache.Cache
	Degradation *degradation.Controller
	Sampler     *metrics.Sampler
	Bus         *events.Bus
	Logger      *zap.Logger

	// MaxAttempts bounds how many ranked agents are tried; 0 tries all
	MaxAttempts int
	// AttemptTimeout bounds each provider call; 0 leaves it to ctx
	AttemptTimeout time.Duration
}

// Pipeline is safe for concurrent use
type Pipeline struct {
	selector    *selection.Selector
	health      *health.Monitor
	cache       *cache.Cache
	degradation *degradation.Controller
	sampler     *metrics.Sampler
	bus         *events.Bus
	logger      *zap.Logger

	maxAttempts    int
	attemptTimeout time.Duration

	metricsMu sync.RWMutex
	collector *telemetry.Collector

	loopMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New wires existing components into a pipeline
func New(c Components) (*Pipeline, error) {
	if c.Selector == nil {
		return nil, pipeerr.New(pipeerr.CodeConfigValidateInvalidValue, "pipeline requires a selector")
	}
	return &Pipeline{
		selector:       c.Selector,
		health:         c.Health,
		cache:          c.Cache,
		degradation:    c.Degradation,
		sampler:        c.Sampler,
		bus:            c.Bus,
		logger:         logging.OrNop(c.Logger),
		maxAttempts:    c.MaxAttempts,
		attemptTimeout: c.AttemptTimeout,
	}, nil
}

func (p *Pipeline) Selector() *selection.Selector        { return p.selector }
func (p *Pipeline) Health() *health.Monitor              { return p.health }
func (p *Pipeline) Cache() *cache.Cache                  { return p.cache }
func (p *Pipeline) Degradation() *degradation.Controller { return p.degradation }
func (p *Pipeline) Sampler() *metrics.Sampler            { return p.sampler }
func (p *Pipeline) Bus() *events.Bus                     { return p.bus }

// RegisterAgent adds an agent to the selector and the health monitor
func (p *Pipeline) RegisterAgent(agent capability.Agent) error {
	if err := p.selector.Register(agent); err != nil {
		return err
	}
	if p.health != nil {
		if err := p.health.Register(agent.ID); err != nil {
			p.selector.Unregister(agent.ID)
			return err
		}
	}
	return nil
}

// UnregisterAgent removes an agent from the selector and the health monitor
func (p *Pipeline) UnregisterAgent(id string) bool {
	removed := p.selector.Unregister(id)
	if p.health != nil {
		removed = p.health.Unregister(id) || removed
	}
	return removed
}

// Handle serves req. The degradation controller wraps the whole flow, so
// a failure with no level active yields a fallback response together with
// the error, and an active level may answer without calling any provider.
func (p *Pipeline) Handle(ctx context.Context, req *types.Request, reqs []capability.Requirement, call ProviderFunc) (*types.Response, error) {
	if req == nil {
		return nil, pipeerr.New(pipeerr.CodePipelineProcessingFailure, "request must not be nil")
	}
	if call == nil {
		return nil, pipeerr.New(pipeerr.CodePipelineProcessingFailure, "provider function must not be nil")
	}

	serve := func(ctx context.Context, r *types.Request) (*types.Response, error) {
		return p.serve(ctx, r, reqs, call)
	}

	started := time.Now()
	var resp *types.Response
	var err error
	if p.degradation == nil {
		resp, err = serve(ctx, req)
	} else {
		resp, err = p.degradation.ProcessRequest(ctx, req, serve)
	}
	p.observe(resp, err, time.Since(started))
	return resp, err
}

// RegisterMetrics exports the pipeline components on reg and starts
// counting handled requests. Registering twice reuses the first collector.
func (p *Pipeline) RegisterMetrics(reg prometheus.Registerer) (*telemetry.Collector, error) {
	var (
		cacheSource       telemetry.CacheSource
		healthSource      telemetry.HealthSource
		degradationSource telemetry.DegradationSource
	)
	if p.cache != nil {
		cacheSource = p.cache
	}
	if p.health != nil {
		healthSource = p.health
	}
	if p.degradation != nil {
		degradationSource = p.degradation
	}

	collector, err := telemetry.Register(reg, telemetry.NewCollector(cacheSource, healthSource, degradationSource))
	if err != nil {
		return nil, err
	}
	p.metricsMu.Lock()
	p.collector = collector
	p.metricsMu.Unlock()
	return collector, nil
}

func (p *Pipeline) observe(resp *types.Response, err error, elapsed time.Duration) {
	p.metricsMu.RLock()
	collector := p.collector
	p.metricsMu.RUnlock()
	if collector == nil {
		return
	}

	outcome := telemetry.OutcomeSuccess
	switch {
	case err != nil && resp != nil:
		outcome = telemetry.OutcomeFallback
	case err != nil:
		outcome = telemetry.OutcomeError
	case resp.IsDegraded():
		outcome = telemetry.OutcomeDegraded
	case resp.Cached:
		outcome = telemetry.OutcomeCached
	}
	collector.ObserveRequest(outcome, elapsed)
}

func (p *Pipeline) serve(ctx context.Context, req *types.Request, reqs []capability.Requirement, call ProviderFunc) (*types.Response, error) {
	agents, err := p.selector.RankAgents(reqs, selection.RankOptions{Metadata: req.Metadata})
	if err != nil {
		return nil, err
	}
	if p.maxAttempts > 0 && len(agents) > p.maxAttempts {
		agents = agents[:p.maxAttempts]
	}

	routedReqs := make([]*types.Request, len(agents))
	for i, agentID := range agents {
		routedReqs[i] = req.Clone()
		routedReqs[i].Provider = agentID
	}
	if resp, i, ok := p.fromCache(routedReqs); ok {
		annotate(resp, agents[i], 0, "")
		return resp, nil
	}

	var lastErr error
	var previous string
	for i, agentID := range agents {
		if err := ctx.Err(); err != nil {
			return nil, pipeerr.Wrap(err, pipeerr.CodePipelineProcessingFailure, "request cancelled",
				pipeerr.FieldAgent(agentID))
		}

		routed := routedReqs[i]

		if err := p.selector.Acquire(agentID); err != nil {
			lastErr = err
			continue
		}
		started := time.Now()
		resp, err := p.invoke(ctx, agentID, routed, call)
		latency := time.Since(started)
		p.selector.Release(agentID)

		p.record(agentID, err == nil, latency)

		if err == nil {
			if resp.Provider == "" {
				resp.Provider = agentID
			}
			if !p.degraded(routed) {
				p.store(routed, resp)
			}
			annotate(resp, agentID, i, previous)
			if i > 0 {
				p.logger.Info("Request served after failover",
					zap.String("agent", agentID),
					zap.String("from", previous),
					zap.Int("attempt", i+1))
			}
			return resp, nil
		}

		p.logger.Debug("Agent attempt failed",
			zap.String("agent", agentID),
			zap.Int("attempt", i+1),
			zap.Error(err))
		previous = agentID
		lastErr = err
	}

	return nil, pipeerr.Wrap(lastErr, pipeerr.CodePipelineProcessingFailure,
		fmt.Sprintf("all %d ranked agents failed", len(agents)),
		pipeerr.Field("attempts", len(agents)))
}

// invoke runs call outside any lock with the attempt timeout and converts
// panics and empty responses into errors
func (p *Pipeline) invoke(ctx context.Context, agentID string, req *types.Request, call ProviderFunc) (resp *types.Response, err error) {
	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = pipeerr.Errorf(pipeerr.CodePipelineProcessingFailure, "agent %s panicked: %v", agentID, r)
		}
	}()

	resp, err = call(ctx, agentID, req)
	if err == nil && resp == nil {
		err = pipeerr.New(pipeerr.CodePipelineProcessingFailure, "agent returned no response", pipeerr.FieldAgent(agentID))
	}
	return resp, err
}

func (p *Pipeline) record(agentID string, success bool, latency time.Duration) {
	if p.sampler != nil {
		p.sampler.RecordRequest(latency, success)
	}
	if p.health == nil {
		return
	}
	if err := p.health.RecordOutcome(agentID, success, float64(latency.Microseconds())/1000); err != nil {
		p.logger.Debug("Outcome not recorded", zap.String("agent", agentID), zap.Error(err))
	}
}

// fromCache looks every routed request up as a single cache lookup and
// returns the first decodable hit with its index
func (p *Pipeline) fromCache(reqs []*types.Request) (*types.Response, int, bool) {
	if p.cache == nil || len(reqs) == 0 {
		return nil, -1, false
	}
	data, i, ok := p.cache.GetFirst(reqs...)
	if !ok {
		return nil, -1, false
	}
	resp := &types.Response{}
	if err := json.Unmarshal(data, resp); err != nil {
		p.logger.Warn("Discarding undecodable cached response", zap.String("agent", reqs[i].Provider), zap.Error(err))
		p.cache.Delete(reqs[i])
		return nil, -1, false
	}
	resp.Cached = true
	return resp, i, true
}

// degraded reports whether req is being served on a reduced-quality path.
// Such responses must not be cached as if they were normal output.
func (p *Pipeline) degraded(req *types.Request) bool {
	if flag, _ := req.Metadata[degradation.MetaDegraded].(bool); flag {
		return true
	}
	return p.degradation != nil && p.degradation.State().Active()
}

func (p *Pipeline) store(req *types.Request, resp *types.Response) {
	if p.cache == nil {
		return
	}
	clean := *resp
	clean.Cached = false
	clean.Degradation = nil
	data, err := json.Marshal(&clean)
	if err != nil {
		p.logger.Warn("Response not cached", zap.String("agent", req.Provider), zap.Error(err))
		return
	}
	if err := p.cache.Put(req, data, cache.SetOptions{}); err != nil {
		p.logger.Debug("Response not cached", zap.String("agent", req.Provider), zap.Error(err))
	}
}

func annotate(resp *types.Response, agentID string, index int, previous string) {
	if resp.Metadata == nil {
		resp.Metadata = make(types.Metadata)
	}
	resp.Metadata[MetaAgent] = agentID
	resp.Metadata[MetaAttempt] = index + 1
	if previous != "" {
		resp.Metadata[MetaFallbackAgent] = previous
	}
}

// Start runs every background loop: metrics sampling, health probing,
// cache sweeping and degradation evaluation
func (p *Pipeline) Start() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	if p.sampler != nil {
		p.sampler.Start()
	}
	if p.health != nil {
		p.health.Start(ctx)
	}
	if p.cache != nil {
		p.cache.Start()
	}
	if p.degradation != nil {
		p.degradation.Start()
	}
	p.logger.Info("Pipeline started")
}

// Stop halts every background loop and waits for them to exit
func (p *Pipeline) Stop() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if !p.running {
		return
	}
	p.running = false

	if p.degradation != nil {
		p.degradation.Stop()
	}
	if p.cache != nil {
		p.cache.Stop()
	}
	if p.health != nil {
		p.health.Stop()
	}
	if p.sampler != nil {
		p.sampler.Stop()
	}
	p.cancel()
	p.logger.Info("Pipeline stopped")
}
