package cache

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// EvictionPolicy picks the item to remove when space is needed. It must not
// modify the items.
type EvictionPolicy interface {
	Name() string
	SelectVictim(items []*Item) *Item
}

// NewEvictionPolicy returns the named policy. rng seeds the random policy;
// nil uses a time-seeded source.
func NewEvictionPolicy(name string, rng *rand.Rand) (EvictionPolicy, error) {
	switch name {
	case PolicyLRU, "":
		return lruPolicy{}, nil
	case PolicyLFU:
		return lfuPolicy{}, nil
	case PolicyFIFO:
		return fifoPolicy{}, nil
	case PolicyRandom:
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		return &randomPolicy{rng: rng}, nil
	}
	return nil, fmt.Errorf("unknown eviction policy %q", name)
}

func selectMin(items []*Item, less func(a, b *Item) bool) *Item {
	var victim *Item
	for _, item := range items {
		if victim == nil || less(item, victim) {
			victim = item
		}
	}
	return victim
}

type lruPolicy struct{}

func (lruPolicy) Name() string { return PolicyLRU }

func (lruPolicy) SelectVictim(items []*Item) *Item {
	return selectMin(items, func(a, b *Item) bool {
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		return a.seq < b.seq
	})
}

type lfuPolicy struct{}

func (lfuPolicy) Name() string { return PolicyLFU }

func (lfuPolicy) SelectVictim(items []*Item) *Item {
	return selectMin(items, func(a, b *Item) bool {
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		return a.seq < b.seq
	})
}

type fifoPolicy struct{}

func (fifoPolicy) Name() string { return PolicyFIFO }

func (fifoPolicy) SelectVictim(items []*Item) *Item {
	return selectMin(items, func(a, b *Item) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.seq < b.seq
	})
}

type randomPolicy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (*randomPolicy) Name() string { return PolicyRandom }

func (p *randomPolicy) SelectVictim(items []*Item) *Item {
	if len(items) == 0 {
		return nil
	}
	p.mu.Lock()
	idx := p.rng.Intn(len(items))
	p.mu.Unlock()
	return items[idx]
}
