package cache

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// Built-in strategy names
const (
	StrategyExpensive = "expensive"
	StrategyUser      = "user"
	StrategyProvider  = "provider"
	StrategySimilar   = "similar"
	StrategyGeneric   = "generic"
)

// Metadata keys read by the built-in strategies
const (
	MetaNoCache          = "no_cache"
	MetaCost             = "cost"
	MetaProcessingTimeMs = "processing_time_ms"
	MetaExpensive        = "expensive"
	MetaPersonalized     = "personalized"
)

// Strategy decides whether and how a request is cached. Strategies are
// consulted in ascending Priority.
type Strategy interface {
	Name() string
	Priority() int
	// DeriveKey returns the key for req, or false when the strategy does not apply
	DeriveKey(req *types.Request) (string, bool)
	ShouldCache(key string, value []byte, meta types.Metadata) bool
	TTL(key string, value []byte, meta types.Metadata) time.Duration
}

// canonical encodes key material with sorted map keys so equal requests
// always hash the same
var canonical = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// Fingerprint hashes material into a "<strategy>:<hex>" key
func Fingerprint(strategy string, material interface{}) (string, bool) {
	data, err := canonical.Marshal(material)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s:%016x", strategy, xxhash.Sum64(data)), true
}

func metaBool(meta types.Metadata, key string) bool {
	b, _ := meta[key].(bool)
	return b
}

func sortedCapabilities(req *types.Request) []string {
	caps := append([]string(nil), req.Capabilities...)
	sort.Strings(caps)
	return caps
}

// baseStrategy carries the name, priority and TTL common to the built-ins
type baseStrategy struct {
	name     string
	priority int
	ttl      time.Duration
}

func (b baseStrategy) Name() string  { return b.name }
func (b baseStrategy) Priority() int { return b.priority }

func (b baseStrategy) ShouldCache(_ string, value []byte, meta types.Metadata) bool {
	return value != nil && !metaBool(meta, MetaNoCache)
}

func (b baseStrategy) TTL(string, []byte, types.Metadata) time.Duration {
	return b.ttl
}

// expensiveStrategy applies to requests marked costly by cost or latency
// metadata and keeps them longer
type expensiveStrategy struct {
	baseStrategy
	costThreshold    float64
	latencyThreshold float64
}

func (s expensiveStrategy) isExpensive(req *types.Request) bool {
	if metaBool(req.Metadata, MetaExpensive) {
		return true
	}
	if cost, ok := req.MetadataFloat(MetaCost); ok && cost >= s.costThreshold {
		return true
	}
	if ms, ok := req.MetadataFloat(MetaProcessingTimeMs); ok && ms >= s.latencyThreshold {
		return true
	}
	return false
}

func (s expensiveStrategy) DeriveKey(req *types.Request) (string, bool) {
	if !s.isExpensive(req) {
		return "", false
	}
	return Fingerprint(s.name, map[string]interface{}{
		"provider":     req.Provider,
		"model":        req.Model,
		"content":      req.Content,
		"capabilities": sortedCapabilities(req),
	})
}

// userStrategy scopes personalized requests to their user
type userStrategy struct {
	baseStrategy
}

func (s userStrategy) DeriveKey(req *types.Request) (string, bool) {
	if req.UserID == "" || !metaBool(req.Metadata, MetaPersonalized) {
		return "", false
	}
	return Fingerprint(s.name, map[string]interface{}{
		"user":     req.UserID,
		"provider": req.Provider,
		"model":    req.Model,
		"content":  req.Content,
	})
}

// providerStrategy scopes requests to the provider that will serve them
type providerStrategy struct {
	baseStrategy
}

func (s providerStrategy) DeriveKey(req *types.Request) (string, bool) {
	if req.Provider == "" {
		return "", false
	}
	return Fingerprint(s.name, map[string]interface{}{
		"provider":     req.Provider,
		"model":        req.Model,
		"content":      req.Content,
		"capabilities": sortedCapabilities(req),
	})
}

// similarStrategy matches requests whose content differs only in case,
// whitespace or punctuation
type similarStrategy struct {
	baseStrategy
}

func (s similarStrategy) DeriveKey(req *types.Request) (string, bool) {
	normalized := NormalizeContent(req.Content)
	if normalized == "" {
		return "", false
	}
	return Fingerprint(s.name, map[string]interface{}{
		"model":   req.Model,
		"content": normalized,
	})
}

// NormalizeContent lowercases text, drops punctuation and collapses whitespace
func NormalizeContent(content string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, content)
	return strings.Join(strings.Fields(stripped), " ")
}

// genericStrategy is the catch-all keyed on the whole request
type genericStrategy struct {
	baseStrategy
}

func (s genericStrategy) DeriveKey(req *types.Request) (string, bool) {
	return Fingerprint(s.name, map[string]interface{}{
		"provider":     req.Provider,
		"model":        req.Model,
		"user":         req.UserID,
		"content":      req.Content,
		"capabilities": sortedCapabilities(req),
		"features":     req.Features,
		"metadata":     req.Metadata,
	})
}

// DefaultStrategies returns the built-in strategies for cfg
func DefaultStrategies(cfg Config) []Strategy {
	cfg = cfg.withDefaults()
	return []Strategy{
		expensiveStrategy{
			baseStrategy:     baseStrategy{name: StrategyExpensive, priority: 10, ttl: cfg.Strategies.ExpensiveTTL},
			costThreshold:    cfg.Strategies.ExpensiveCostThreshold,
			latencyThreshold: cfg.Strategies.ExpensiveLatencyMs,
		},
		userStrategy{baseStrategy{name: StrategyUser, priority: 20, ttl: cfg.Strategies.UserTTL}},
		providerStrategy{baseStrategy{name: StrategyProvider, priority: 30, ttl: cfg.DefaultTTL}},
		similarStrategy{baseStrategy{name: StrategySimilar, priority: 40, ttl: cfg.Strategies.SimilarTTL}},
		genericStrategy{baseStrategy{name: StrategyGeneric, priority: 1000, ttl: cfg.DefaultTTL}},
	}
}

func sortStrategies(strategies []Strategy) {
	sort.SliceStable(strategies, func(i, j int) bool {
		if strategies[i].Priority() != strategies[j].Priority() {
			return strategies[i].Priority() < strategies[j].Priority()
		}
		return strategies[i].Name() < strategies[j].Name()
	})
}
