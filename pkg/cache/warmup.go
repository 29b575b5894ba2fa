package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// Loader produces the value for an anticipated request
type Loader func(ctx context.Context, req *types.Request) ([]byte, error)

// WarmupEntry is one anticipated request. Value is used when set; otherwise
// Loader is called.
type WarmupEntry struct {
	Request *types.Request
	Value   []byte
	Loader  Loader
	TTL     time.Duration
}

// WarmupOptions bounds a warmup run
type WarmupOptions struct {
	MaxItems      int
	MaxDuration   time.Duration
	Concurrency   int
	RatePerSecond float64
}

// WarmupResult summarises a warmup run
type WarmupResult struct {
	Batch    string        `json:"batch"`
	Loaded   int           `json:"loaded"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Warmup pre-populates the cache within a count and time budget. Entries
// are tagged so stats can tell them apart from organic ones.
func (c *Cache) Warmup(ctx context.Context, entries []WarmupEntry, opts WarmupOptions) WarmupResult {
	start := time.Now()
	result := WarmupResult{Batch: uuid.NewString()}

	if opts.MaxItems > 0 && len(entries) > opts.MaxItems {
		result.Skipped += len(entries) - opts.MaxItems
		entries = entries[:opts.MaxItems]
	}
	if opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxDuration)
		defer cancel()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	var loaded, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					skipped.Add(1)
					return nil
				}
			}

			if err := c.warmOne(ctx, entry, result.Batch); err != nil {
				if ctx.Err() != nil {
					skipped.Add(1)
					return nil
				}
				failed.Add(1)
				c.logger.Debug("cache warmup entry failed", zap.String("batch", result.Batch), zap.Error(err))
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result.Loaded = int(loaded.Load())
	result.Skipped += int(skipped.Load())
	result.Failed = int(failed.Load())
	result.Duration = time.Since(start)

	c.logger.Info("cache warmup finished",
		zap.String("batch", result.Batch),
		zap.Int("loaded", result.Loaded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result
}

func (c *Cache) warmOne(ctx context.Context, entry WarmupEntry, batch string) error {
	if entry.Request == nil {
		return pipeerr.New(pipeerr.CodeCacheWarmupFailure, "warmup entry has no request")
	}

	value := entry.Value
	if value == nil {
		if entry.Loader == nil {
			return pipeerr.New(pipeerr.CodeCacheWarmupFailure, "warmup entry has neither value nor loader")
		}
		loaded, err := entry.Loader(ctx, entry.Request)
		if err != nil {
			return pipeerr.Wrap(err, pipeerr.CodeCacheWarmupFailure, "warmup loader failed")
		}
		value = loaded
	}

	return c.Put(entry.Request, value, SetOptions{TTL: entry.TTL, Warmup: true, Batch: batch})
}
