package degradation

import (
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// Metadata keys set on requests passed through degraded actions
const (
	MetaDegraded         = "degraded"
	MetaQualityReduction = "quality_reduction"
	MetaDisabledFeatures = "disabled_features"
	MetaSimplified       = "simplified"
)

// ProcessFunc produces a response for a request
type ProcessFunc func(ctx context.Context, req *types.Request) (*types.Response, error)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProcessRequest runs fn under the current degradation state.
//
// With no level active fn runs unchanged. If it fails, a templated fallback
// response is returned together with the original error. With a level
// active the level's actions run in order and the first success wins; when
// all of them fail the level's static response is returned without error.
func (c *Controller) ProcessRequest(ctx context.Context, req *types.Request, fn ProcessFunc) (*types.Response, error) {
	if req == nil {
		req = &types.Request{}
	}
	state := c.State()

	if !state.Active() {
		resp, err := c.call(ctx, req, fn)
		if err != nil {
			return c.fallbackResponse(err), err
		}
		return resp, nil
	}

	level, ok := c.byID[state.Level]
	if !ok {
		return c.staticResponse(state, nil), nil
	}

	var failures []string
	for i, action := range level.Actions {
		resp, err := c.runAction(ctx, level, i, action, req, fn)
		if err == nil && resp != nil {
			annotate(resp, state, action.Kind)
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("action returned no response")
		}
		failures = append(failures, fmt.Sprintf("%s: %v", action.Kind, err))
		c.logger.Debug("Degradation action failed",
			zap.String("level", level.ID),
			zap.String("action", string(action.Kind)),
			zap.Error(err))
	}

	c.logger.Warn("All degradation actions failed, serving static response",
		zap.String("level", level.ID),
		zap.Strings("failures", failures))
	return c.staticResponse(state, level), nil
}

// call invokes fn, converting panics into errors
func (c *Controller) call(ctx context.Context, req *types.Request, fn ProcessFunc) (resp *types.Response, err error) {
	if fn == nil {
		return nil, pipeerr.New(pipeerr.CodePipelineProcessingFailure, "no processing function")
	}
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = pipeerr.Errorf(pipeerr.CodePipelineProcessingFailure, "processing panicked: %v", r)
		}
	}()
	return fn(ctx, req)
}

func (c *Controller) runAction(ctx context.Context, level *Level, index int, action Action, req *types.Request, fn ProcessFunc) (resp *types.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = pipeerr.Errorf(pipeerr.CodeDegradationActionFailure, "action %s panicked: %v", action.Kind, r)
		}
	}()

	switch action.Kind {
	case ActionReduceQuality:
		reduction := action.QualityReduction
		if reduction == 0 {
			reduction = level.QualityReduction
		}
		degraded := req.Clone()
		degraded.WithMetadata(MetaDegraded, true).WithMetadata(MetaQualityReduction, reduction)
		return c.call(ctx, degraded, fn)

	case ActionDisableFeatures:
		features := action.Features
		if len(features) == 0 {
			features = level.DisabledFeatures
		}
		degraded := req.Clone()
		degraded.Features = slices.DeleteFunc(degraded.Features, func(f string) bool {
			return slices.Contains(features, f)
		})
		degraded.WithMetadata(MetaDegraded, true).WithMetadata(MetaDisabledFeatures, append([]string(nil), features...))
		return c.call(ctx, degraded, fn)

	case ActionCacheOnly:
		return c.fromCache(req)

	case ActionLimitConcurrency:
		sem := c.semaphore(level.ID, index, action.MaxConcurrency)
		if !sem.TryAcquire(1) {
			return nil, pipeerr.New(pipeerr.CodeDegradationConcurrencyExceeded,
				fmt.Sprintf("concurrency limit %d reached", action.MaxConcurrency), pipeerr.FieldLevel(level.ID))
		}
		defer sem.Release(1)
		return c.call(ctx, req, fn)

	case ActionSimplifyProcessing:
		degraded := req.Clone()
		degraded.Content = truncate(degraded.Content, action.MaxContentLength)
		degraded.WithMetadata(MetaDegraded, true).WithMetadata(MetaSimplified, true)
		return c.call(ctx, degraded, fn)
	}

	return nil, pipeerr.New(pipeerr.CodeDegradationActionFailure,
		fmt.Sprintf("unknown action %q", action.Kind), pipeerr.FieldLevel(level.ID))
}

func (c *Controller) fromCache(req *types.Request) (*types.Response, error) {
	if c.cache == nil {
		return nil, pipeerr.New(pipeerr.CodeDegradationCacheMiss, "no cache configured")
	}
	data, ok := c.cache.Get(req)
	if !ok {
		return nil, pipeerr.New(pipeerr.CodeDegradationCacheMiss, "no cached response")
	}
	resp := &types.Response{}
	if err := json.Unmarshal(data, resp); err != nil {
		resp = &types.Response{Content: string(data)}
	}
	resp.Cached = true
	return resp, nil
}

func (c *Controller) semaphore(levelID string, index, limit int) *semaphore.Weighted {
	key := fmt.Sprintf("%s/%d", levelID, index)
	c.semaphoresMu.Lock()
	defer c.semaphoresMu.Unlock()
	sem, ok := c.semaphores[key]
	if !ok {
		sem = semaphore.NewWeighted(int64(max(limit, 1)))
		c.semaphores[key] = sem
	}
	return sem
}

func (c *Controller) fallbackResponse(err error) *types.Response {
	return &types.Response{
		Content: c.cfg.FallbackTemplate,
		Degradation: &types.DegradationInfo{
			Degraded: true,
			Reasons:  []string{err.Error()},
			Fallback: true,
		},
	}
}

func (c *Controller) staticResponse(state State, level *Level) *types.Response {
	content := fmt.Sprintf(DefaultStaticTemplate, state.Level)
	if level != nil && level.StaticResponse != "" {
		content = level.StaticResponse
	}
	return &types.Response{
		Content: content,
		Degradation: &types.DegradationInfo{
			Degraded:         true,
			Level:            state.Level,
			QualityReduction: state.QualityReduction,
			Reasons:          append([]string(nil), state.ActiveReasons...),
			Static:           true,
		},
	}
}

func annotate(resp *types.Response, state State, kind ActionKind) {
	resp.Degradation = &types.DegradationInfo{
		Degraded:         true,
		Level:            state.Level,
		QualityReduction: state.QualityReduction,
		Reasons:          append([]string(nil), state.ActiveReasons...),
		Action:           string(kind),
	}
}

// truncate shortens s to at most n runes. n <= 0 leaves s unchanged.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
