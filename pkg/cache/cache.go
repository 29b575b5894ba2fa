// Package cache is a size-bounded, strategy-based response cache with
// pluggable eviction policies and value compression.
package cache

import (
	"math/rand"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/events"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// SetOptions adjusts a single Set
type SetOptions struct {
	// TTL overrides the strategy TTL when positive
	TTL time.Duration
	// Metadata is passed to the strategy; the request metadata is used when nil
	Metadata types.Metadata
	Warmup   bool
	Batch    string
}

// Cache is safe for concurrent use. One mutex guards the item map and the
// size counter; compression and decompression run outside it.
type Cache struct {
	config Config
	codec  Codec
	policy EvictionPolicy
	bus    *events.Bus
	logger *zap.Logger

	nowFunc func() time.Time

	strategyMu sync.RWMutex
	strategies []Strategy

	mu        sync.Mutex
	items     map[string]*Item
	totalSize int64
	seq       uint64
	stats     counters

	hits   atomic.Int64
	misses atomic.Int64

	loopMu   sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// counters are guarded by Cache.mu
type counters struct {
	sets             int64
	rejections       int64
	evictions        int64
	expirations      int64
	compressedItems  int64
	compressionRatio float64
	warmupHits       int64
	strategyHits     map[string]int64
	strategySets     map[string]int64
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logging.OrNop(logger) }
}

// WithEventBus sets the bus that receives eviction bursts
func WithEventBus(bus *events.Bus) Option {
	return func(c *Cache) { c.bus = bus }
}

// WithNowFunc overrides the time source (tests only)
func WithNowFunc(now func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = now }
}

// WithCodec overrides the configured codec
func WithCodec(codec Codec) Option {
	return func(c *Cache) { c.codec = codec }
}

// WithEvictionPolicy overrides the configured policy
func WithEvictionPolicy(policy EvictionPolicy) Option {
	return func(c *Cache) { c.policy = policy }
}

// WithRand seeds the random eviction policy
func WithRand(rng *rand.Rand) Option {
	return func(c *Cache) {
		if c.config.EvictionPolicy == PolicyRandom {
			c.policy = &randomPolicy{rng: rng}
		}
	}
}

// WithStrategies replaces the built-in strategies
func WithStrategies(strategies ...Strategy) Option {
	return func(c *Cache) {
		c.strategies = append([]Strategy(nil), strategies...)
		sortStrategies(c.strategies)
	}
}

// New creates a cache. Invalid codec or policy names are rejected.
func New(cfg Config, opts ...Option) (*Cache, error) {
	cfg = cfg.withDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, pipeerr.Wrap(pipeerr.Join(errs...), pipeerr.CodeConfigValidateInvalidValue, "invalid cache configuration")
	}

	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, pipeerr.Wrap(err, pipeerr.CodeConfigValidateInvalidValue, "invalid cache codec")
	}
	policy, err := NewEvictionPolicy(cfg.EvictionPolicy, nil)
	if err != nil {
		return nil, pipeerr.Wrap(err, pipeerr.CodeConfigValidateInvalidValue, "invalid eviction policy")
	}

	c := &Cache{
		config:     cfg,
		codec:      codec,
		policy:     policy,
		logger:     logging.Nop(),
		nowFunc:    time.Now,
		strategies: DefaultStrategies(cfg),
		items:      make(map[string]*Item),
		stats: counters{
			strategyHits: make(map[string]int64),
			strategySets: make(map[string]int64),
		},
	}
	sortStrategies(c.strategies)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the cache configuration
func (c *Cache) Config() Config {
	return c.config
}

// RegisterStrategy adds a strategy. Names must be unique.
func (c *Cache) RegisterStrategy(s Strategy) error {
	if s == nil || s.Name() == "" {
		return pipeerr.New(pipeerr.CodeCacheStrategyInvalid, "strategy must have a name")
	}

	c.strategyMu.Lock()
	defer c.strategyMu.Unlock()

	for _, existing := range c.strategies {
		if existing.Name() == s.Name() {
			return pipeerr.New(pipeerr.CodeCacheStrategyInvalid, "strategy already registered",
				pipeerr.FieldStrategy(s.Name()))
		}
	}
	c.strategies = append(c.strategies, s)
	sortStrategies(c.strategies)
	return nil
}

// Strategies returns the strategies in lookup order
func (c *Cache) Strategies() []Strategy {
	c.strategyMu.RLock()
	defer c.strategyMu.RUnlock()
	return append([]Strategy(nil), c.strategies...)
}

type derivedKey struct {
	strategy Strategy
	key      string
}

func (c *Cache) keysFor(req *types.Request) []derivedKey {
	if req == nil {
		return nil
	}
	strategies := c.Strategies()
	keys := make([]derivedKey, 0, len(strategies))
	for _, s := range strategies {
		if key, ok := s.DeriveKey(req); ok {
			keys = append(keys, derivedKey{strategy: s, key: key})
		}
	}
	return keys
}

// Keys returns the keys the applicable strategies derive for req, in lookup order
func (c *Cache) Keys(req *types.Request) []string {
	derived := c.keysFor(req)
	out := make([]string, len(derived))
	for i, d := range derived {
		out[i] = d.key
	}
	return out
}

// Get returns the cached value for req. Each applicable strategy's key is
// tried in priority order; expired items found on the way are removed.
func (c *Cache) Get(req *types.Request) ([]byte, bool) {
	value, _, ok := c.GetFirst(req)
	return value, ok
}

// GetFirst looks reqs up in order and returns the first hit with its index.
// The whole call counts as one lookup: a single hit or a single miss.
func (c *Cache) GetFirst(reqs ...*types.Request) ([]byte, int, bool) {
	for i, req := range reqs {
		if value, ok := c.find(req); ok {
			c.hits.Add(1)
			return value, i, true
		}
	}
	c.misses.Add(1)
	return nil, -1, false
}

// find returns the live value for req without touching the hit and miss
// counters
func (c *Cache) find(req *types.Request) ([]byte, bool) {
	for _, d := range c.keysFor(req) {
		item, ok := c.lookup(d.key)
		if !ok {
			continue
		}

		value := item.Value
		if item.Compressed {
			decoded, err := c.decode(item)
			if err != nil {
				c.logger.Warn("failed to decompress cached value; dropping item",
					zap.String("key", d.key), zap.Error(err))
				c.remove(d.key, item)
				continue
			}
			value = decoded
		}

		c.attribute(item)
		return value, true
	}
	return nil, false
}

// lookup returns a live item and records the access
func (c *Cache) lookup(key string) (*Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}

	now := c.nowFunc()
	if item.Expired(now) {
		c.deleteLocked(key)
		c.stats.evictions++
		c.stats.expirations++
		return nil, false
	}

	item.LastAccessed = now
	item.AccessCount++

	snapshot := *item
	return &snapshot, true
}

// attribute credits a served hit to the item's strategy
func (c *Cache) attribute(item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.strategyHits[item.Strategy]++
	if item.Warmup {
		c.stats.warmupHits++
	}
}

func (c *Cache) decode(item *Item) ([]byte, error) {
	codec := c.codec
	if item.Codec != codec.Name() {
		alt, err := NewCodec(item.Codec)
		if err != nil {
			return nil, err
		}
		codec = alt
	}
	return codec.Decode(item.Value)
}

// remove deletes key only if it still holds the same item
func (c *Cache) remove(key string, item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.items[key]; ok && current.seq == item.seq {
		c.deleteLocked(key)
	}
}

// Set stores value for req under the first strategy that derives a key and
// agrees to cache it. It reports whether the value was stored.
func (c *Cache) Set(req *types.Request, value []byte, opts SetOptions) bool {
	return c.Put(req, value, opts) == nil
}

// Put is Set with the rejection reason as a coded error
func (c *Cache) Put(req *types.Request, value []byte, opts SetOptions) error {
	if req == nil || value == nil {
		return c.reject(pipeerr.New(pipeerr.CodeCacheSetInvalidValue, "request and value must not be nil"))
	}
	if int64(len(value)) > c.config.MaxItemSize {
		return c.reject(pipeerr.New(pipeerr.CodeCacheSetTooLarge, "value exceeds max item size",
			pipeerr.Field("size", len(value)), pipeerr.Field("max_item_size", c.config.MaxItemSize)))
	}

	meta := opts.Metadata
	if meta == nil {
		meta = req.Metadata
	}

	var chosen *derivedKey
	for _, d := range c.keysFor(req) {
		if d.strategy.ShouldCache(d.key, value, meta) {
			chosen = &d
			break
		}
	}
	if chosen == nil {
		return c.reject(pipeerr.New(pipeerr.CodeCacheSetInvalidValue, "no strategy accepted the value"))
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = chosen.strategy.TTL(chosen.key, value, meta)
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	stored, compressed := c.compress(chosen.key, value)
	now := c.nowFunc()
	item := &Item{
		Key:          chosen.key,
		Value:        stored,
		Compressed:   compressed,
		SizeBytes:    int64(len(stored)),
		OriginalSize: int64(len(value)),
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		ExpiresAt:    now.Add(ttl),
		Strategy:     chosen.strategy.Name(),
		Warmup:       opts.Warmup,
		Batch:        opts.Batch,
	}
	if compressed {
		item.Codec = c.codec.Name()
	}

	if !c.admit(item) {
		err := pipeerr.New(pipeerr.CodeCacheSetTooLarge, "value does not fit in the cache",
			pipeerr.FieldStrategy(item.Strategy), pipeerr.Field("size", item.SizeBytes))
		c.logger.Debug("cache set rejected", zap.String("key", item.Key), zap.Error(err))
		return err
	}
	return nil
}

// compress returns the stored form of value. Compression failures fall back
// to the raw value; the compressed form is kept only when smaller.
func (c *Cache) compress(key string, value []byte) ([]byte, bool) {
	if !c.config.CompressionEnabled || int64(len(value)) <= c.config.CompressionThreshold {
		return value, false
	}

	encoded, err := c.codec.Encode(value)
	if err != nil {
		c.logger.Warn("failed to compress cache value; storing uncompressed",
			zap.String("key", key), zap.String("codec", c.codec.Name()), zap.Error(err))
		return value, false
	}
	if len(encoded) >= len(value) {
		return value, false
	}
	return encoded, true
}

func (c *Cache) admit(item *Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item.SizeBytes > c.config.MaxCacheSize {
		c.stats.rejections++
		return false
	}

	// last write wins: the previous value under this key is replaced, but
	// only once the new one is known to fit
	var replacedSize int64
	if existing, ok := c.items[item.Key]; ok {
		replacedSize = existing.SizeBytes
	}

	evicted := 0
	if c.totalSize-replacedSize+item.SizeBytes > c.config.MaxCacheSize {
		candidates := c.candidatesLocked(item.Key)
		for c.totalSize-replacedSize+item.SizeBytes > c.config.MaxCacheSize && len(candidates) > 0 {
			var ok bool
			if candidates, ok = c.evictFromLocked(candidates); !ok {
				break
			}
			evicted++
		}
	}
	if c.totalSize-replacedSize+item.SizeBytes > c.config.MaxCacheSize {
		c.stats.rejections++
		return false
	}

	c.deleteLocked(item.Key)
	c.seq++
	item.seq = c.seq
	c.items[item.Key] = item
	c.totalSize += item.SizeBytes
	c.stats.sets++
	c.stats.strategySets[item.Strategy]++
	if item.Compressed && item.OriginalSize > 0 {
		ratio := float64(item.SizeBytes) / float64(item.OriginalSize)
		c.stats.compressionRatio += (ratio - c.stats.compressionRatio) / float64(c.stats.compressedItems+1)
		c.stats.compressedItems++
	}

	if evicted >= c.config.EvictionBurstThreshold {
		c.publishBurstLocked("capacity", evicted)
	}
	return true
}

func (c *Cache) reject(err error) error {
	c.mu.Lock()
	c.stats.rejections++
	c.mu.Unlock()
	c.logger.Debug("cache set rejected", zap.Error(err))
	return err
}

func (c *Cache) deleteLocked(key string) {
	if item, ok := c.items[key]; ok {
		c.totalSize -= item.SizeBytes
		delete(c.items, key)
	}
}

// candidatesLocked lists every item except the one under exclude
func (c *Cache) candidatesLocked(exclude string) []*Item {
	candidates := make([]*Item, 0, len(c.items))
	for key, item := range c.items {
		if key != exclude {
			candidates = append(candidates, item)
		}
	}
	return candidates
}

// evictFromLocked removes the policy's victim among candidates and returns
// the remaining candidates
func (c *Cache) evictFromLocked(candidates []*Item) ([]*Item, bool) {
	victim := c.policy.SelectVictim(candidates)
	if victim == nil {
		return candidates, false
	}
	c.deleteLocked(victim.Key)
	c.stats.evictions++

	for i, item := range candidates {
		if item == victim {
			last := len(candidates) - 1
			candidates[i] = candidates[last]
			candidates[last] = nil
			return candidates[:last], true
		}
	}
	return candidates, true
}

func (c *Cache) evictOneLocked() (string, bool) {
	if len(c.items) == 0 {
		return "", false
	}
	candidates := c.candidatesLocked("")
	victim := c.policy.SelectVictim(candidates)
	if victim == nil {
		return "", false
	}
	c.deleteLocked(victim.Key)
	c.stats.evictions++
	return victim.Key, true
}

// EvictOne removes one item chosen by the eviction policy
func (c *Cache) EvictOne() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictOneLocked()
}

func (c *Cache) publishBurstLocked(reason string, count int) {
	c.logger.Info("cache eviction burst", zap.String("reason", reason), zap.Int("count", count))
	c.bus.Publish(events.New(events.TypeCacheEvictionBurst, events.SourceCache, reason, c.nowFunc(),
		map[string]interface{}{
			"reason":     reason,
			"count":      count,
			"items":      len(c.items),
			"total_size": c.totalSize,
		}))
}

// Delete removes every item req maps to under any applicable strategy
func (c *Cache) Delete(req *types.Request) bool {
	keys := c.keysFor(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := false
	for _, d := range keys {
		if _, ok := c.items[d.key]; ok {
			c.deleteLocked(d.key)
			removed = true
		}
	}
	return removed
}

// Clear removes every item. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*Item)
	c.totalSize = 0
}

// DeleteByPattern removes every item whose key matches the regular expression
func (c *Cache) DeleteByPattern(expr string) (int, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return 0, pipeerr.Wrap(err, pipeerr.CodeCachePatternInvalid, "invalid key pattern",
			pipeerr.Field("pattern", expr))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if re.MatchString(key) {
			c.deleteLocked(key)
			removed++
		}
	}
	return removed, nil
}

// Sweep removes every expired item and returns how many were removed
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for key, item := range c.items {
		if item.Expired(now) {
			c.deleteLocked(key)
			removed++
		}
	}
	c.stats.expirations += int64(removed)
	if removed >= c.config.EvictionBurstThreshold {
		c.publishBurstLocked("expiry", removed)
	}
	return removed
}

// Len returns the number of stored items, including expired ones not yet swept
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the total stored size in bytes
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

// Start runs Sweep every SweepInterval. Calling Start twice is a no-op.
func (c *Cache) Start() {
	c.loopMu.Lock()
	if c.running {
		c.loopMu.Unlock()
		return
	}
	c.running = true
	c.ticker = time.NewTicker(c.config.SweepInterval)
	c.stopChan = make(chan struct{})
	ticker := c.ticker
	stopChan := c.stopChan
	c.wg.Add(1)
	c.loopMu.Unlock()

	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ticker.C:
				c.sweepTick()
			case <-stopChan:
				return
			}
		}
	}()
}

func (c *Cache) sweepTick() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cache sweep panicked", zap.Any("panic", r))
		}
	}()
	if removed := c.Sweep(); removed > 0 {
		c.logger.Debug("cache sweep removed expired items", zap.Int("count", removed))
	}
}

// Stop halts the sweep loop and waits for it to exit
func (c *Cache) Stop() {
	c.loopMu.Lock()
	if !c.running {
		c.loopMu.Unlock()
		return
	}
	c.running = false
	ticker := c.ticker
	stopChan := c.stopChan
	c.ticker = nil
	c.stopChan = nil
	c.loopMu.Unlock()

	ticker.Stop()
	close(stopChan)
	c.wg.Wait()
}
