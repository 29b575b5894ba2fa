package cache

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levi-soft/ai-employee-platform-sub005/internal/testutil"
	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/events"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

func smallConfig(maxSize int64) Config {
	cfg := DefaultConfig()
	cfg.MaxCacheSize = maxSize
	cfg.MaxItemSize = maxSize
	cfg.CompressionEnabled = false
	return cfg
}

func newTestCache(t *testing.T, cfg Config, opts ...Option) (*Cache, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	c, err := New(cfg, append([]Option{WithNowFunc(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

func providerReq(content string) *types.Request {
	return &types.Request{Provider: "openai", Model: "gpt", Content: content}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvictionPolicy = "mru"
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, pipeerr.IsInvalidInput(err))

	cfg = DefaultConfig()
	cfg.MaxItemSize = cfg.MaxCacheSize + 1
	assert.NotEmpty(t, cfg.Validate())
}

func TestRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	req := providerReq("hello")

	require.True(t, c.Set(req, []byte("world"), SetOptions{}))
	got, ok := c.Get(req)
	require.True(t, ok)
	assert.Equal(t, []byte("world"), got)

	_, ok = c.Get(providerReq("other"))
	assert.False(t, ok)
}

func TestRoundTripCompressed(t *testing.T) {
	for _, codec := range []string{CodecGzip, CodecZstd} {
		t.Run(codec, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Codec = codec
			c, _ := newTestCache(t, cfg)

			value := bytes.Repeat([]byte("compressible response text "), 200)
			req := providerReq("long")
			require.True(t, c.Set(req, value, SetOptions{}))

			keys := c.Keys(req)
			require.NotEmpty(t, keys)
			info, ok := c.Item(keys[0])
			require.True(t, ok)
			assert.True(t, info.Compressed)
			assert.Less(t, info.SizeBytes, info.OriginalSize)

			got, ok := c.Get(req)
			require.True(t, ok)
			assert.Equal(t, value, got)

			stats := c.Stats()
			assert.Equal(t, int64(1), stats.CompressedItems)
			assert.Greater(t, stats.AverageCompressionRatio, 0.0)
			assert.Less(t, stats.AverageCompressionRatio, 1.0)
		})
	}
}

func TestIncompressibleValueStoredRaw(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	rng := rand.New(rand.NewSource(1))
	value := make([]byte, 4096)
	rng.Read(value)

	req := providerReq("random")
	require.True(t, c.Set(req, value, SetOptions{}))
	info, _ := c.Item(c.Keys(req)[0])
	assert.False(t, info.Compressed)
	assert.Equal(t, int64(4096), info.SizeBytes)
}

type failingCodec struct{}

func (failingCodec) Name() string                  { return "failing" }
func (failingCodec) Encode([]byte) ([]byte, error) { return nil, errors.New("encoder broken") }
func (failingCodec) Decode([]byte) ([]byte, error) { return nil, errors.New("decoder broken") }

func TestCompressionFailureStoresUncompressed(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), WithCodec(failingCodec{}))
	value := bytes.Repeat([]byte("a"), 4096)
	req := providerReq("x")

	require.True(t, c.Set(req, value, SetOptions{}))
	got, ok := c.Get(req)
	require.True(t, ok)
	assert.Equal(t, value, got)
	assert.Zero(t, c.Stats().CompressedItems)
}

func TestSetRejections(t *testing.T) {
	cfg := smallConfig(1000)
	cfg.MaxItemSize = 500
	c, _ := newTestCache(t, cfg)

	assert.False(t, c.Set(providerReq("a"), nil, SetOptions{}))
	err := c.Put(providerReq("a"), nil, SetOptions{})
	assert.True(t, pipeerr.HasCode(err, pipeerr.CodeCacheSetInvalidValue))

	err = c.Put(providerReq("b"), make([]byte, 501), SetOptions{})
	assert.True(t, pipeerr.HasCode(err, pipeerr.CodeCacheSetTooLarge))

	noCache := providerReq("c").WithMetadata(MetaNoCache, true)
	assert.False(t, c.Set(noCache, []byte("v"), SetOptions{}))

	assert.Equal(t, int64(4), c.Stats().Rejections)
	assert.Zero(t, c.Len())
}

func TestCapacityScenario(t *testing.T) {
	c, _ := newTestCache(t, smallConfig(1000))

	require.True(t, c.Set(providerReq("first"), make([]byte, 600), SetOptions{}))
	require.True(t, c.Set(providerReq("second"), make([]byte, 600), SetOptions{}))

	assert.LessOrEqual(t, c.Size(), int64(1000))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(providerReq("first"))
	assert.False(t, ok)
	_, ok = c.Get(providerReq("second"))
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestSizeInvariantUnderRandomOperations(t *testing.T) {
	for _, policy := range []string{PolicyLRU, PolicyLFU, PolicyFIFO, PolicyRandom} {
		t.Run(policy, func(t *testing.T) {
			cfg := smallConfig(5000)
			cfg.MaxItemSize = 2000
			cfg.EvictionPolicy = policy
			c, clock := newTestCache(t, cfg, WithRand(rand.New(rand.NewSource(3))))
			rng := rand.New(rand.NewSource(11))

			for i := 0; i < 2000; i++ {
				req := providerReq(fmt.Sprintf("k%d", rng.Intn(50)))
				switch rng.Intn(5) {
				case 0, 1:
					c.Set(req, make([]byte, rng.Intn(2500)), SetOptions{})
				case 2:
					c.Get(req)
				case 3:
					c.EvictOne()
				case 4:
					clock.Advance(time.Duration(rng.Intn(100)) * time.Second)
				}

				require.LessOrEqual(t, c.Size(), int64(5000))
				var sum int64
				for _, info := range c.TopItems(1000) {
					require.LessOrEqual(t, info.SizeBytes, int64(2000))
					sum += info.SizeBytes
				}
				require.Equal(t, sum, c.Size())
			}
		})
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, clock := newTestCache(t, smallConfig(10000))
	a, b, cc := providerReq("A"), providerReq("B"), providerReq("C")

	for _, req := range []*types.Request{a, b, cc} {
		require.True(t, c.Set(req, []byte("v"), SetOptions{}))
		clock.Advance(time.Second)
	}
	for _, req := range []*types.Request{a, b, cc} {
		_, ok := c.Get(req)
		require.True(t, ok)
		clock.Advance(time.Second)
	}

	key, ok := c.EvictOne()
	require.True(t, ok)
	assert.Equal(t, c.Keys(a)[0], key)

	_, ok = c.Get(a)
	assert.False(t, ok)
	_, ok = c.Get(b)
	assert.True(t, ok)
	_, ok = c.Get(cc)
	assert.True(t, ok)
}

func TestExpiredItemCountsAsMissAndEviction(t *testing.T) {
	c, clock := newTestCache(t, DefaultConfig())
	req := providerReq("q")

	require.True(t, c.Set(req, []byte("v"), SetOptions{TTL: time.Minute}))
	info, _ := c.Item(c.Keys(req)[0])
	expiresAt := info.ExpiresAt

	clock.Advance(30 * time.Second)
	_, ok := c.Get(req)
	require.True(t, ok)
	info, _ = c.Item(c.Keys(req)[0])
	assert.Equal(t, expiresAt, info.ExpiresAt)

	clock.Advance(31 * time.Second)
	_, ok = c.Get(req)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Zero(t, stats.Items)
}

func TestSweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(t, DefaultConfig())
	require.True(t, c.Set(providerReq("short"), []byte("v"), SetOptions{TTL: time.Second}))
	require.True(t, c.Set(providerReq("long"), []byte("v"), SetOptions{TTL: time.Hour}))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestDeleteClearAndPattern(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	require.True(t, c.Set(providerReq("a"), []byte("1"), SetOptions{}))
	require.True(t, c.Set(providerReq("b"), []byte("2"), SetOptions{}))
	require.True(t, c.Set(&types.Request{Content: "c"}, []byte("3"), SetOptions{}))

	assert.True(t, c.Delete(providerReq("a")))
	assert.False(t, c.Delete(providerReq("a")))

	n, err := c.DeleteByPattern("^" + StrategyProvider + ":")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, c.Len())

	_, err = c.DeleteByPattern("([")
	assert.True(t, pipeerr.HasCode(err, pipeerr.CodeCachePatternInvalid))

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Size())
}

func TestLastWriteWins(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	req := providerReq("same")

	require.True(t, c.Set(req, []byte("first"), SetOptions{}))
	require.True(t, c.Set(req, []byte("second"), SetOptions{}))

	got, ok := c.Get(req)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
	assert.Equal(t, int64(len("second")), c.Size())
}

func TestTopItemsAndStrategyStats(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	hot, cold := providerReq("hot"), providerReq("cold")
	require.True(t, c.Set(hot, []byte("h"), SetOptions{}))
	require.True(t, c.Set(cold, []byte("c"), SetOptions{}))

	for i := 0; i < 3; i++ {
		c.Get(hot)
	}
	c.Get(cold)
	c.Get(providerReq("missing"))

	top := c.TopItems(1)
	require.Len(t, top, 1)
	assert.Equal(t, uint64(3), top[0].AccessCount)

	stats := c.Stats()
	assert.Equal(t, int64(4), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.8, stats.HitRate, 1e-9)
	assert.Equal(t, int64(4), stats.StrategyHits[StrategyProvider])
	assert.Equal(t, int64(2), stats.StrategySets[StrategyProvider])
	assert.Equal(t, PolicyLRU, stats.EvictionPolicy)
}

func TestEvictionBurstEvent(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.SubscribeFiltered(4, events.Filter{Types: []events.Type{events.TypeCacheEvictionBurst}})

	cfg := smallConfig(1000)
	cfg.EvictionBurstThreshold = 10
	c, _ := newTestCache(t, cfg, WithEventBus(bus))

	for i := 0; i < 10; i++ {
		require.True(t, c.Set(providerReq(fmt.Sprintf("small-%d", i)), make([]byte, 100), SetOptions{}))
	}
	require.True(t, c.Set(providerReq("big"), make([]byte, 1000), SetOptions{}))

	evs := testutil.DrainEvents(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, 10, evs[0].Data["count"])
	assert.Equal(t, "capacity", evs[0].Data["reason"])
}

func TestConcurrentAccess(t *testing.T) {
	cfg := smallConfig(20000)
	cfg.MaxItemSize = 1000
	c, err := New(cfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				req := providerReq(fmt.Sprintf("k%d", (g*7+i)%40))
				if i%3 == 0 {
					c.Set(req, []byte(strings.Repeat("x", i%900)), SetOptions{})
				} else {
					c.Get(req)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), int64(20000))
}

func TestSweepLoopStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)

	require.True(t, c.Set(providerReq("x"), []byte("v"), SetOptions{TTL: time.Millisecond}))

	c.Start()
	c.Start()
	assert.True(t, testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return c.Len() == 0
	}))
	c.Stop()
	c.Stop()
}

type noVictimPolicy struct{}

func (noVictimPolicy) Name() string               { return "none" }
func (noVictimPolicy) SelectVictim([]*Item) *Item { return nil }

func TestRejectedReplaceKeepsPreviousValue(t *testing.T) {
	c, _ := newTestCache(t, smallConfig(100), WithEvictionPolicy(noVictimPolicy{}))
	a, b := providerReq("a"), providerReq("b")

	require.True(t, c.Set(a, bytes.Repeat([]byte("1"), 40), SetOptions{}))
	require.True(t, c.Set(b, bytes.Repeat([]byte("2"), 50), SetOptions{}))

	assert.False(t, c.Set(a, bytes.Repeat([]byte("3"), 60), SetOptions{}))

	got, ok := c.Get(a)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte("1"), 40), got)
	assert.Equal(t, int64(90), c.Size())
	assert.Equal(t, 2, c.Len())
}

func TestReplaceEvictsOtherItemsOnly(t *testing.T) {
	c, clock := newTestCache(t, smallConfig(100))
	a, b := providerReq("a"), providerReq("b")

	require.True(t, c.Set(a, bytes.Repeat([]byte("1"), 40), SetOptions{}))
	clock.Advance(time.Second)
	require.True(t, c.Set(b, bytes.Repeat([]byte("2"), 50), SetOptions{}))

	require.True(t, c.Set(a, bytes.Repeat([]byte("3"), 60), SetOptions{}))

	got, ok := c.Get(a)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte("3"), 60), got)
	_, ok = c.Get(b)
	assert.False(t, ok)
	assert.Equal(t, int64(60), c.Size())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestEvictionBurstFreesEnoughSpace(t *testing.T) {
	c, clock := newTestCache(t, smallConfig(1000))
	for i := 0; i < 100; i++ {
		require.True(t, c.Set(providerReq(fmt.Sprintf("small-%d", i)), make([]byte, 10), SetOptions{}))
		clock.Advance(time.Millisecond)
	}

	require.True(t, c.Set(providerReq("large"), make([]byte, 500), SetOptions{}))
	assert.Equal(t, int64(50), c.Stats().Evictions)
	assert.Equal(t, int64(1000), c.Size())
	_, ok := c.Get(providerReq("small-0"))
	assert.False(t, ok)
	_, ok = c.Get(providerReq("small-99"))
	assert.True(t, ok)
}

func TestGetFirstCountsOneLookup(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	require.True(t, c.Set(providerReq("b"), []byte("v"), SetOptions{}))

	_, _, ok := c.GetFirst(providerReq("x"), providerReq("y"), providerReq("z"))
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Zero(t, stats.Hits)

	value, i, ok := c.GetFirst(providerReq("a"), providerReq("b"))
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, []byte("v"), value)
	stats = c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestUndecodableItemIsNotAStrategyHit(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	req := providerReq("x")
	require.True(t, c.Set(req, bytes.Repeat([]byte("a"), 4096), SetOptions{}))

	key := c.Keys(req)[0]
	c.mu.Lock()
	require.True(t, c.items[key].Compressed)
	c.items[key].Value = []byte("not gzip")
	c.mu.Unlock()

	_, ok := c.Get(req)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Zero(t, stats.StrategyHits[StrategyProvider])
	assert.Zero(t, c.Len())
}
