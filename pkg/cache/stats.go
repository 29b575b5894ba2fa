package cache

import (
	"sort"
)

// Stats is a derived view of cache activity
type Stats struct {
	Hits                    int64            `json:"hits"`
	Misses                  int64            `json:"misses"`
	HitRate                 float64          `json:"hit_rate"`
	Sets                    int64            `json:"sets"`
	Rejections              int64            `json:"rejections"`
	Evictions               int64            `json:"evictions"`
	Expirations             int64            `json:"expirations"`
	Items                   int              `json:"items"`
	TotalSize               int64            `json:"total_size"`
	MaxSize                 int64            `json:"max_size"`
	CompressedItems         int64            `json:"compressed_items"`
	AverageCompressionRatio float64          `json:"average_compression_ratio"`
	StrategyHits            map[string]int64 `json:"strategy_hits"`
	StrategySets            map[string]int64 `json:"strategy_sets"`
	WarmupItems             int              `json:"warmup_items"`
	WarmupHits              int64            `json:"warmup_hits"`
	EvictionPolicy          string           `json:"eviction_policy"`
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Hits:                    hits,
		Misses:                  misses,
		Sets:                    c.stats.sets,
		Rejections:              c.stats.rejections,
		Evictions:               c.stats.evictions,
		Expirations:             c.stats.expirations,
		Items:                   len(c.items),
		TotalSize:               c.totalSize,
		MaxSize:                 c.config.MaxCacheSize,
		CompressedItems:         c.stats.compressedItems,
		AverageCompressionRatio: c.stats.compressionRatio,
		StrategyHits:            make(map[string]int64, len(c.stats.strategyHits)),
		StrategySets:            make(map[string]int64, len(c.stats.strategySets)),
		WarmupHits:              c.stats.warmupHits,
		EvictionPolicy:          c.policy.Name(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	for k, v := range c.stats.strategyHits {
		stats.StrategyHits[k] = v
	}
	for k, v := range c.stats.strategySets {
		stats.StrategySets[k] = v
	}
	for _, item := range c.items {
		if item.Warmup {
			stats.WarmupItems++
		}
	}
	return stats
}

// TopItems returns the n most accessed items. n <= 0 uses the configured TopN.
func (c *Cache) TopItems(n int) []ItemInfo {
	if n <= 0 {
		n = c.config.TopN
	}

	c.mu.Lock()
	infos := make([]ItemInfo, 0, len(c.items))
	for _, item := range c.items {
		infos = append(infos, item.info())
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].AccessCount != infos[j].AccessCount {
			return infos[i].AccessCount > infos[j].AccessCount
		}
		return infos[i].Key < infos[j].Key
	})
	if len(infos) > n {
		infos = infos[:n]
	}
	return infos
}

// Item returns metadata for the item stored under key
func (c *Cache) Item(key string) (ItemInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return ItemInfo{}, false
	}
	return item.info(), true
}
