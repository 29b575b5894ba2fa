package cache

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems() []*Item {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*Item{
		{Key: "a", CreatedAt: base, LastAccessed: base.Add(5 * time.Second), AccessCount: 9, seq: 1},
		{Key: "b", CreatedAt: base.Add(time.Second), LastAccessed: base.Add(2 * time.Second), AccessCount: 1, seq: 2},
		{Key: "c", CreatedAt: base.Add(2 * time.Second), LastAccessed: base.Add(3 * time.Second), AccessCount: 1, seq: 3},
	}
}

func TestEvictionPolicies(t *testing.T) {
	tests := []struct {
		policy string
		want   string
	}{
		{PolicyLRU, "b"},
		{PolicyLFU, "b"},
		{PolicyFIFO, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			p, err := NewEvictionPolicy(tt.policy, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.policy, p.Name())
			assert.Equal(t, tt.want, p.SelectVictim(testItems()).Key)
		})
	}
}

func TestEvictionTieBreaksOnInsertionOrder(t *testing.T) {
	now := time.Now()
	items := []*Item{
		{Key: "second", CreatedAt: now, LastAccessed: now, seq: 2},
		{Key: "first", CreatedAt: now, LastAccessed: now, seq: 1},
	}

	for _, name := range []string{PolicyLRU, PolicyLFU, PolicyFIFO} {
		p, err := NewEvictionPolicy(name, nil)
		require.NoError(t, err)
		assert.Equal(t, "first", p.SelectVictim(items).Key, name)
	}
}

func TestRandomPolicy(t *testing.T) {
	p, err := NewEvictionPolicy(PolicyRandom, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	items := testItems()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		victim := p.SelectVictim(items)
		require.NotNil(t, victim)
		seen[victim.Key] = true
	}
	assert.Len(t, seen, 3)
	assert.Nil(t, p.SelectVictim(nil))
}

func TestUnknownPolicy(t *testing.T) {
	_, err := NewEvictionPolicy("mru", nil)
	assert.Error(t, err)
}

func TestLFUPolicyInCache(t *testing.T) {
	cfg := smallConfig(10000)
	cfg.EvictionPolicy = PolicyLFU
	c, clock := newTestCache(t, cfg)

	popular, rare := providerReq("popular"), providerReq("rare")
	require.True(t, c.Set(popular, []byte("p"), SetOptions{}))
	require.True(t, c.Set(rare, []byte("r"), SetOptions{}))
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		c.Get(popular)
	}
	clock.Advance(time.Second)
	c.Get(rare)

	key, ok := c.EvictOne()
	require.True(t, ok)
	assert.Equal(t, c.Keys(rare)[0], key)
}
