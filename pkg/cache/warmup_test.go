package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

func TestWarmupLoadsAndTagsEntries(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	entries := []WarmupEntry{
		{Request: providerReq("static"), Value: []byte("static value")},
		{Request: providerReq("loaded"), Loader: func(ctx context.Context, req *types.Request) ([]byte, error) {
			return []byte("loaded:" + req.Content), nil
		}},
		{Request: providerReq("broken"), Loader: func(ctx context.Context, req *types.Request) ([]byte, error) {
			return nil, errors.New("backend down")
		}},
		{Request: providerReq("empty")},
	}

	result := c.Warmup(context.Background(), entries, WarmupOptions{Concurrency: 2})
	assert.NotEmpty(t, result.Batch)
	assert.Equal(t, 2, result.Loaded)
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, result.Skipped)

	got, ok := c.Get(providerReq("loaded"))
	require.True(t, ok)
	assert.Equal(t, []byte("loaded:loaded"), got)

	require.True(t, c.Set(providerReq("organic"), []byte("o"), SetOptions{}))
	c.Get(providerReq("organic"))

	stats := c.Stats()
	assert.Equal(t, 2, stats.WarmupItems)
	assert.Equal(t, int64(1), stats.WarmupHits)
	assert.Equal(t, 3, stats.Items)
}

func TestWarmupMaxItems(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	var entries []WarmupEntry
	for i := 0; i < 10; i++ {
		entries = append(entries, WarmupEntry{Request: providerReq(fmt.Sprintf("r%d", i)), Value: []byte("v")})
	}

	result := c.Warmup(context.Background(), entries, WarmupOptions{MaxItems: 4})
	assert.Equal(t, 4, result.Loaded)
	assert.Equal(t, 6, result.Skipped)
	assert.Equal(t, 4, c.Len())
}

func TestWarmupMaxDuration(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	slow := func(ctx context.Context, req *types.Request) ([]byte, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return []byte("late"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var entries []WarmupEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, WarmupEntry{Request: providerReq(fmt.Sprintf("s%d", i)), Loader: slow})
	}

	start := time.Now()
	result := c.Warmup(context.Background(), entries, WarmupOptions{MaxDuration: 20 * time.Millisecond, Concurrency: 1})
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Zero(t, result.Loaded)
	assert.Equal(t, 5, result.Skipped)
}

func TestWarmupRateLimited(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	var entries []WarmupEntry
	for i := 0; i < 3; i++ {
		entries = append(entries, WarmupEntry{Request: providerReq(fmt.Sprintf("r%d", i)), Value: []byte("v")})
	}

	start := time.Now()
	result := c.Warmup(context.Background(), entries, WarmupOptions{RatePerSecond: 50, Concurrency: 3})
	assert.Equal(t, 3, result.Loaded)
	// the first token is immediate, the next two wait 20ms each
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}
