package health

import (
	"sync"
	"time"
)

type statusCacheEntry struct {
	healthy   bool
	timestamp time.Time
}

// StatusCache keeps IsHealthy answers for a short TTL so hot-path checks do
// not recompute them. Entries are invalidated on every status transition.
// A zero TTL disables caching.
type StatusCache struct {
	ttl   time.Duration
	cache map[string]statusCacheEntry
	// generations count invalidations per provider; an answer computed
	// across an invalidation is not stored
	generations map[string]uint64
	epoch       uint64
	mu          sync.RWMutex
	nowFunc     func() time.Time
}

// StatusCacheStats describes the cache contents
type StatusCacheStats struct {
	TotalEntries   int `json:"total_entries"`
	ValidEntries   int `json:"valid_entries"`
	ExpiredEntries int `json:"expired_entries"`
}

// NewStatusCache creates a status cache with the given TTL
func NewStatusCache(ttl time.Duration) *StatusCache {
	return &StatusCache{
		ttl:         ttl,
		cache:       make(map[string]statusCacheEntry),
		generations: make(map[string]uint64),
		nowFunc:     time.Now,
	}
}

// Lookup returns the cached answer for providerID, or compute's answer on a
// miss (which is then cached)
func (sc *StatusCache) Lookup(providerID string, compute func() bool) bool {
	if sc.ttl <= 0 {
		return compute()
	}
	healthy, found, gen := sc.get(providerID)
	if found {
		return healthy
	}

	healthy = compute()
	sc.set(providerID, healthy, gen)
	return healthy
}

// get returns the cached answer and the generation observed alongside it
func (sc *StatusCache) get(providerID string) (bool, bool, uint64) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	gen := sc.generationLocked(providerID)
	entry, exists := sc.cache[providerID]
	if !exists {
		return false, false, gen
	}
	if sc.nowFunc().Sub(entry.timestamp) > sc.ttl {
		return false, false, gen
	}
	return entry.healthy, true, gen
}

func (sc *StatusCache) generationLocked(providerID string) uint64 {
	return sc.epoch + sc.generations[providerID]
}

// set stores healthy unless the provider was invalidated after gen was read
func (sc *StatusCache) set(providerID string, healthy bool, gen uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.generationLocked(providerID) != gen {
		return
	}
	sc.cache[providerID] = statusCacheEntry{
		healthy:   healthy,
		timestamp: sc.nowFunc(),
	}
}

// Invalidate drops the cached answer for one provider
func (sc *StatusCache) Invalidate(providerID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.cache, providerID)
	sc.generations[providerID]++
}

// InvalidateAll drops every cached answer
func (sc *StatusCache) InvalidateAll() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache = make(map[string]statusCacheEntry)
	sc.epoch++
}

// CleanupExpired removes expired entries and returns how many were removed
func (sc *StatusCache) CleanupExpired() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.nowFunc()
	removed := 0
	for id, entry := range sc.cache {
		if now.Sub(entry.timestamp) > sc.ttl {
			delete(sc.cache, id)
			removed++
		}
	}
	return removed
}

// Stats returns entry counts
func (sc *StatusCache) Stats() StatusCacheStats {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	now := sc.nowFunc()
	stats := StatusCacheStats{TotalEntries: len(sc.cache)}
	for _, entry := range sc.cache {
		if now.Sub(entry.timestamp) > sc.ttl {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}
	return stats
}
