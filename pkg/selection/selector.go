// Package selection keeps the agent registry and ranks agents for requests.
package selection

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/capability"
	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// MetadataPreferredAgent names an agent that should lead the ranking when eligible
const MetadataPreferredAgent = "preferred_agent"

// RankOptions narrows a ranking
type RankOptions struct {
	// Exclude lists agents that must not be returned, such as ones that already failed
	Exclude  []string
	Metadata types.Metadata
}

// Selector owns the agent registry and its load counters
type Selector struct {
	mu      sync.RWMutex
	agents  map[string]*capability.Agent
	matcher *capability.Matcher
	health  capability.HealthSource
	logger  *zap.Logger
}

// NewSelector creates a selector. A nil health source treats every agent as healthy.
func NewSelector(matcher *capability.Matcher, health capability.HealthSource, logger *zap.Logger) *Selector {
	if matcher == nil {
		matcher = capability.NewMatcher(nil, capability.DefaultConfig())
	}
	return &Selector{
		agents:  make(map[string]*capability.Agent),
		matcher: matcher,
		health:  health,
		logger:  logging.OrNop(logger),
	}
}

// Matcher returns the matcher used for ranking
func (s *Selector) Matcher() *capability.Matcher {
	return s.matcher
}

// Register adds or replaces an agent. Replacing keeps the current load.
func (s *Selector) Register(agent capability.Agent) error {
	if agent.ID == "" {
		return pipeerr.New(pipeerr.CodeSelectionAgentInvalid, "agent id must not be empty")
	}

	stored := agent
	stored.Capabilities = append([]string(nil), agent.Capabilities...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.agents[agent.ID]; ok {
		stored.CurrentLoad = existing.CurrentLoad
	}
	s.agents[agent.ID] = &stored
	s.logger.Debug("agent registered",
		zap.String("agent", agent.ID),
		zap.Strings("capabilities", stored.Capabilities))
	return nil
}

// Unregister removes an agent
func (s *Selector) Unregister(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return false
	}
	delete(s.agents, id)
	return true
}

// Agent returns a copy of one agent
func (s *Selector) Agent(id string) (capability.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return capability.Agent{}, false
	}
	return copyAgent(a), true
}

// Agents returns copies of every agent, sorted by id
func (s *Selector) Agents() []capability.Agent {
	s.mu.RLock()
	out := make([]capability.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, copyAgent(a))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyAgent(a *capability.Agent) capability.Agent {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	return c
}

// Acquire records one more in-flight request on the agent. The limit is
// advisory: load may exceed MaxConcurrency.
func (s *Selector) Acquire(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return pipeerr.New(pipeerr.CodeSelectionAgentNotFound, "agent is not registered", pipeerr.FieldAgent(id))
	}
	a.CurrentLoad++
	return nil
}

// Release records the end of an in-flight request
func (s *Selector) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.agents[id]; ok && a.CurrentLoad > 0 {
		a.CurrentLoad--
	}
}

// Rank returns the ranked candidates with their scores
func (s *Selector) Rank(reqs []capability.Requirement, opts RankOptions) ([]capability.Ranked, error) {
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, id := range opts.Exclude {
		excluded[id] = struct{}{}
	}

	candidates := make([]capability.Agent, 0)
	for _, a := range s.Agents() {
		if _, skip := excluded[a.ID]; !skip {
			candidates = append(candidates, a)
		}
	}

	ranked := s.matcher.RankForRequest(candidates, reqs, s.health)
	if len(ranked) == 0 {
		return nil, pipeerr.New(pipeerr.CodeSelectionNoEligibleProvider, "no eligible provider for request",
			pipeerr.Field("requirements", requirementNames(reqs)),
			pipeerr.Field("candidates", len(candidates)))
	}

	if preferred, _ := opts.Metadata[MetadataPreferredAgent].(string); preferred != "" {
		for i, r := range ranked {
			if r.Agent.ID == preferred {
				copy(ranked[1:i+1], ranked[:i])
				ranked[0] = r
				break
			}
		}
	}
	return ranked, nil
}

// RankAgents returns agent ids best first, or a no-eligible-provider error
func (s *Selector) RankAgents(reqs []capability.Requirement, opts RankOptions) ([]string, error) {
	ranked, err := s.Rank(reqs, opts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Agent.ID
	}
	return ids, nil
}

// Select returns the best agent
func (s *Selector) Select(reqs []capability.Requirement, opts RankOptions) (string, error) {
	ids, err := s.RankAgents(reqs, opts)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// Gaps reports capability coverage across the registered pool
func (s *Selector) Gaps() capability.GapReport {
	return s.matcher.AnalyzeCapabilityGaps(s.Agents())
}

func requirementNames(reqs []capability.Requirement) []string {
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.Name
	}
	return names
}
