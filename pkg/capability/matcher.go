package capability

import (
	"fmt"
	"math"
	"sort"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// Importance says how much a requirement matters
type Importance string

const (
	Required  Importance = "required"
	Preferred Importance = "preferred"
	Optional  Importance = "optional"
)

// Multiplier scales a capability weight by importance
func (i Importance) Multiplier() float64 {
	switch i {
	case Preferred:
		return 0.6
	case Optional:
		return 0.3
	default:
		return 1.0
	}
}

func (i Importance) rank() int {
	switch i {
	case Preferred:
		return 1
	case Optional:
		return 0
	default:
		return 2
	}
}

// ParseImportance validates an importance name. Empty means required.
func ParseImportance(s string) (Importance, error) {
	switch Importance(s) {
	case "", Required:
		return Required, nil
	case Preferred:
		return Preferred, nil
	case Optional:
		return Optional, nil
	}
	return "", fmt.Errorf("unknown importance %q", s)
}

// Requirement is one capability a request asks for
type Requirement struct {
	Name       string     `json:"name" yaml:"name"`
	Importance Importance `json:"importance,omitempty" yaml:"importance,omitempty"`
}

// IsRequired reports whether the requirement gates eligibility
func (r Requirement) IsRequired() bool {
	return r.Importance == "" || r.Importance == Required
}

// Require builds required requirements from names
func Require(names ...string) []Requirement {
	out := make([]Requirement, len(names))
	for i, n := range names {
		out[i] = Requirement{Name: n, Importance: Required}
	}
	return out
}

// Agent is a candidate that can serve requests
type Agent struct {
	ID             string   `json:"id" yaml:"id"`
	Capabilities   []string `json:"capabilities" yaml:"capabilities"`
	CurrentLoad    uint     `json:"current_load" yaml:"current_load"`
	MaxConcurrency uint     `json:"max_concurrency" yaml:"max_concurrency"`
}

// LoadRatio is CurrentLoad/MaxConcurrency capped at 1. Zero MaxConcurrency means unlimited.
func (a Agent) LoadRatio() float64 {
	if a.MaxConcurrency == 0 {
		return 0
	}
	return math.Min(1, float64(a.CurrentLoad)/float64(a.MaxConcurrency))
}

func (a Agent) capabilitySet() map[string]struct{} {
	set := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		set[c] = struct{}{}
	}
	return set
}

// HealthSource supplies provider health for ranking
type HealthSource interface {
	Status(providerID string) types.HealthStatus
}

// Config holds the scoring constants
type Config struct {
	MissingPenalty       float64 `yaml:"missing_penalty" mapstructure:"missing_penalty"`
	ExtraBonus           float64 `yaml:"extra_bonus" mapstructure:"extra_bonus"`
	ExtraBonusCap        float64 `yaml:"extra_bonus_cap" mapstructure:"extra_bonus_cap"`
	DegradedPenalty      float64 `yaml:"degraded_penalty" mapstructure:"degraded_penalty"`
	LoadWeight           float64 `yaml:"load_weight" mapstructure:"load_weight"`
	WellCoveredThreshold int     `yaml:"well_covered_threshold" mapstructure:"well_covered_threshold"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		MissingPenalty:       20,
		ExtraBonus:           2,
		ExtraBonusCap:        10,
		DegradedPenalty:      0.7,
		LoadWeight:           0.3,
		WellCoveredThreshold: 2,
	}
}

// Matcher scores and ranks agents. It holds no mutable state.
type Matcher struct {
	hierarchy *Hierarchy
	config    Config
}

// NewMatcher creates a matcher. A nil hierarchy uses DefaultHierarchy.
func NewMatcher(hierarchy *Hierarchy, cfg Config) *Matcher {
	if hierarchy == nil {
		hierarchy = DefaultHierarchy()
	}
	if cfg.WellCoveredThreshold <= 0 {
		cfg.WellCoveredThreshold = DefaultConfig().WellCoveredThreshold
	}
	return &Matcher{hierarchy: hierarchy, config: cfg}
}

// Hierarchy returns the matcher's hierarchy
func (m *Matcher) Hierarchy() *Hierarchy {
	return m.hierarchy
}

// normalize merges duplicate requirements, keeping the strongest importance
func normalize(reqs []Requirement) []Requirement {
	byName := make(map[string]int, len(reqs))
	out := make([]Requirement, 0, len(reqs))
	for _, r := range reqs {
		if r.Name == "" {
			continue
		}
		if r.Importance == "" {
			r.Importance = Required
		}
		if idx, ok := byName[r.Name]; ok {
			if r.Importance.rank() > out[idx].Importance.rank() {
				out[idx].Importance = r.Importance
			}
			continue
		}
		byName[r.Name] = len(out)
		out = append(out, r)
	}
	return out
}

// Score rates how well caps cover reqs, in [0,100]. Matched and missing
// capabilities count by weight times importance; capabilities held beyond
// the request add a small capped bonus. No requirements scores 100.
func (m *Matcher) Score(caps []string, reqs []Requirement) float64 {
	reqs = normalize(reqs)
	if len(reqs) == 0 {
		return 100
	}

	held := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		held[c] = struct{}{}
	}

	requested := make(map[string]struct{}, len(reqs))
	var total, matched, missing float64
	for _, r := range reqs {
		requested[r.Name] = struct{}{}
		w := m.hierarchy.Weight(r.Name) * r.Importance.Multiplier()
		total += w
		if m.hierarchy.Satisfies(held, r.Name) {
			matched += w
		} else {
			missing += w
		}
	}

	extra := 0
	for c := range held {
		if _, ok := requested[c]; !ok {
			extra++
		}
	}

	score := 0.0
	if total > 0 {
		score = 100 * matched / total
	} else {
		// every requested capability has zero weight
		score = 100
	}
	score -= m.config.MissingPenalty * missing
	score += math.Min(m.config.ExtraBonus*float64(extra), m.config.ExtraBonusCap)

	return math.Max(0, math.Min(100, score))
}

// Eligible reports whether agent satisfies every required capability
func (m *Matcher) Eligible(agent Agent, reqs []Requirement) bool {
	held := agent.capabilitySet()
	for _, r := range reqs {
		if r.Name == "" || !r.IsRequired() {
			continue
		}
		if !m.hierarchy.Satisfies(held, r.Name) {
			return false
		}
	}
	return true
}

// FilterEligible keeps the agents that satisfy every required capability.
// Preferred and optional requirements never affect eligibility.
func (m *Matcher) FilterEligible(agents []Agent, reqs []Requirement) []Agent {
	out := make([]Agent, 0, len(agents))
	for _, a := range agents {
		if m.Eligible(a, reqs) {
			out = append(out, a)
		}
	}
	return out
}

// Ranked is an agent with its ranking inputs
type Ranked struct {
	Agent        Agent              `json:"agent"`
	Score        float64            `json:"score"`
	Status       types.HealthStatus `json:"status"`
	HealthFactor float64            `json:"health_factor"`
	LoadRatio    float64            `json:"load_ratio"`
	Composite    float64            `json:"composite"`
}

// RankForRequest orders eligible, usable agents best first. Unhealthy and
// offline agents are excluded; degraded agents are penalized. A nil health
// source treats every agent as healthy.
func (m *Matcher) RankForRequest(agents []Agent, reqs []Requirement, health HealthSource) []Ranked {
	ranked := make([]Ranked, 0, len(agents))
	for _, a := range m.FilterEligible(agents, reqs) {
		status := types.HealthStatusHealthy
		if health != nil {
			status = health.Status(a.ID)
		}

		factor := 1.0
		switch status {
		case types.HealthStatusHealthy:
		case types.HealthStatusDegraded:
			factor = m.config.DegradedPenalty
		default:
			continue
		}

		score := m.Score(a.Capabilities, reqs)
		load := a.LoadRatio()
		ranked = append(ranked, Ranked{
			Agent:        a,
			Score:        score,
			Status:       status,
			HealthFactor: factor,
			LoadRatio:    load,
			Composite:    score * factor * (1 - m.config.LoadWeight*load),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LoadRatio != b.LoadRatio {
			return a.LoadRatio < b.LoadRatio
		}
		return a.Agent.ID < b.Agent.ID
	})
	return ranked
}

// GapReport classifies every known capability by how many agents offer it
type GapReport struct {
	WellCovered  []string       `json:"well_covered"`
	UnderCovered []string       `json:"under_covered"`
	Missing      []string       `json:"missing"`
	Coverage     map[string]int `json:"coverage"`
}

// AnalyzeCapabilityGaps compares the known capability universe with what
// the pool offers, counting hierarchical matches
func (m *Matcher) AnalyzeCapabilityGaps(agents []Agent) GapReport {
	universe := make(map[string]struct{})
	for _, c := range m.hierarchy.Known() {
		universe[c] = struct{}{}
	}
	sets := make([]map[string]struct{}, len(agents))
	for i, a := range agents {
		sets[i] = a.capabilitySet()
		for c := range sets[i] {
			universe[c] = struct{}{}
		}
	}

	names := make([]string, 0, len(universe))
	for c := range universe {
		names = append(names, c)
	}
	sort.Strings(names)

	report := GapReport{Coverage: make(map[string]int, len(names))}
	for _, c := range names {
		count := 0
		for _, held := range sets {
			if m.hierarchy.Satisfies(held, c) {
				count++
			}
		}
		report.Coverage[c] = count

		switch {
		case count == 0:
			report.Missing = append(report.Missing, c)
		case count < m.config.WellCoveredThreshold:
			report.UnderCovered = append(report.UnderCovered, c)
		default:
			report.WellCovered = append(report.WellCovered, c)
		}
	}
	return report
}
