package degradation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/metrics"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

type mapCache map[string][]byte

func (m mapCache) Get(req *types.Request) ([]byte, bool) {
	v, ok := m[req.Content]
	return v, ok
}

func echo(ctx context.Context, req *types.Request) (*types.Response, error) {
	return &types.Response{Content: "echo: " + req.Content, Metadata: types.Metadata(req.Metadata)}, nil
}

func failing(ctx context.Context, req *types.Request) (*types.Response, error) {
	return nil, errors.New("provider down")
}

func newTestController(t *testing.T, cfg Config, opts ...Option) *Controller {
	t.Helper()
	ctrl, err := NewController(cfg, metrics.NewWindow(time.Minute, 0), opts...)
	require.NoError(t, err)
	return ctrl
}

func TestProcessPassThroughWhenInactive(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig())

	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "hi"}, echo)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp.Content)
	assert.False(t, resp.IsDegraded())
}

func TestProcessFallbackKeepsError(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig())

	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "hi"}, failing)
	require.Error(t, err)
	assert.EqualError(t, err, "provider down")
	require.NotNil(t, resp)
	assert.Equal(t, DefaultFallbackTemplate, resp.Content)
	assert.True(t, resp.Degradation.Fallback)
	assert.True(t, resp.IsDegraded())
	assert.Equal(t, []string{"provider down"}, resp.Degradation.Reasons)
}

func TestProcessFallbackOnPanic(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig())

	resp, err := ctrl.ProcessRequest(context.Background(), nil, func(ctx context.Context, req *types.Request) (*types.Response, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, pipeerr.CodePipelineProcessingFailure, pipeerr.CodeOf(err))
	assert.True(t, resp.Degradation.Fallback)
}

func TestProcessCacheOnlyHit(t *testing.T) {
	cached := mapCache{"question": []byte(`{"content":"stored answer","provider":"agent-a"}`)}
	ctrl := newTestController(t, DefaultConfig(), WithCache(cached))
	_, err := ctrl.ForceLevel("heavy")
	require.NoError(t, err)

	calls := 0
	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "question"},
		func(ctx context.Context, req *types.Request) (*types.Response, error) {
			calls++
			return echo(ctx, req)
		})
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, "stored answer", resp.Content)
	assert.Equal(t, "agent-a", resp.Provider)
	assert.True(t, resp.Cached)
	require.NotNil(t, resp.Degradation)
	assert.True(t, resp.Degradation.Degraded)
	assert.Equal(t, "heavy", resp.Degradation.Level)
	assert.Equal(t, 0.5, resp.Degradation.QualityReduction)
	assert.Equal(t, string(ActionCacheOnly), resp.Degradation.Action)
	assert.Equal(t, []string{"forced"}, resp.Degradation.Reasons)
}

func TestProcessCacheOnlyRawValue(t *testing.T) {
	cached := mapCache{"q": []byte("plain text")}
	ctrl := newTestController(t, DefaultConfig(), WithCache(cached))
	_, err := ctrl.ForceLevel("heavy")
	require.NoError(t, err)

	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "q"}, echo)
	require.NoError(t, err)
	assert.Equal(t, "plain text", resp.Content)
	assert.True(t, resp.Cached)
}

func TestProcessCacheMissFallsThroughToSimplify(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig(), WithCache(mapCache{}))
	_, err := ctrl.ForceLevel("heavy")
	require.NoError(t, err)

	long := make([]rune, 2500)
	for i := range long {
		long[i] = 'é'
	}

	var seen *types.Request
	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: string(long)},
		func(ctx context.Context, req *types.Request) (*types.Response, error) {
			seen = req
			return &types.Response{Content: "short"}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, string(ActionSimplifyProcessing), resp.Degradation.Action)
	require.NotNil(t, seen)
	assert.Len(t, []rune(seen.Content), 2000)
	assert.Equal(t, true, seen.Metadata[MetaSimplified])
	assert.Equal(t, true, seen.Metadata[MetaDegraded])
}

func TestProcessStaticWhenAllActionsFail(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig())

	_, err := ctrl.ForceLevel("heavy")
	require.NoError(t, err)
	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "q"}, failing)
	require.NoError(t, err)
	assert.True(t, resp.Degradation.Static)
	assert.Equal(t, "heavy", resp.Degradation.Level)
	assert.Contains(t, resp.Content, "heavy")

	_, err = ctrl.ForceLevel("emergency")
	require.NoError(t, err)
	resp, err = ctrl.ProcessRequest(context.Background(), &types.Request{Content: "q"}, failing)
	require.NoError(t, err)
	assert.True(t, resp.Degradation.Static)
	assert.Equal(t, DefaultLevels()[3].StaticResponse, resp.Content)
}

func TestProcessReduceQuality(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig())
	_, err := ctrl.ForceLevel("light")
	require.NoError(t, err)

	var seen *types.Request
	original := &types.Request{Content: "q"}
	resp, err := ctrl.ProcessRequest(context.Background(), original,
		func(ctx context.Context, req *types.Request) (*types.Response, error) {
			seen = req
			return echo(ctx, req)
		})
	require.NoError(t, err)
	assert.Equal(t, 0.1, seen.Metadata[MetaQualityReduction])
	assert.Nil(t, original.Metadata, "caller's request must not be modified")
	assert.Equal(t, string(ActionReduceQuality), resp.Degradation.Action)
	assert.Equal(t, 0.1, resp.Degradation.QualityReduction)
}

func TestProcessDisableFeatures(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig())
	_, err := ctrl.ForceLevel("moderate")
	require.NoError(t, err)

	var seen *types.Request
	req := &types.Request{Content: "q", Features: []string{"streaming", "chat", "advanced_analytics"}}
	resp, err := ctrl.ProcessRequest(context.Background(), req,
		func(ctx context.Context, r *types.Request) (*types.Response, error) {
			seen = r
			return echo(ctx, r)
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"chat"}, seen.Features)
	assert.Equal(t, []string{"streaming", "chat", "advanced_analytics"}, req.Features)
	assert.Equal(t, string(ActionDisableFeatures), resp.Degradation.Action)
}

func TestProcessActionPanicTriesNext(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig())
	_, err := ctrl.ForceLevel("moderate")
	require.NoError(t, err)

	calls := 0
	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "q"},
		func(ctx context.Context, req *types.Request) (*types.Response, error) {
			calls++
			if calls == 1 {
				panic("first action explodes")
			}
			return echo(ctx, req)
		})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, string(ActionReduceQuality), resp.Degradation.Action)
}

func TestProcessLimitConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Levels = []Level{{
		ID:             "busy",
		Name:           "Busy",
		Priority:       1,
		Actions:        []Action{{Kind: ActionLimitConcurrency, MaxConcurrency: 1}},
		StaticResponse: "busy, try later",
	}}
	ctrl := newTestController(t, cfg)
	_, err := ctrl.ForceLevel("busy")
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "slow"},
			func(ctx context.Context, req *types.Request) (*types.Response, error) {
				close(started)
				<-release
				return echo(ctx, req)
			})
		assert.NoError(t, err)
		assert.Equal(t, string(ActionLimitConcurrency), resp.Degradation.Action)
	}()

	<-started
	resp, err := ctrl.ProcessRequest(context.Background(), &types.Request{Content: "fast"}, echo)
	require.NoError(t, err)
	assert.Equal(t, "busy, try later", resp.Content)
	assert.True(t, resp.Degradation.Static)

	close(release)
	wg.Wait()

	resp, err = ctrl.ProcessRequest(context.Background(), &types.Request{Content: "fast"}, echo)
	require.NoError(t, err)
	assert.Equal(t, "echo: fast", resp.Content)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abc", truncate("abc", 0))
	assert.Equal(t, "日本", truncate("日本語", 2))
}
