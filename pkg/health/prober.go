package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
)

// Prober checks one provider. A nil error means the provider answered.
type Prober interface {
	Probe(ctx context.Context, providerID string) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, providerID string) error

// Probe implements Prober
func (f ProberFunc) Probe(ctx context.Context, providerID string) error {
	return f(ctx, providerID)
}

// ProbeResult is the outcome of a single probe
type ProbeResult struct {
	ProviderID string
	Success    bool
	LatencyMs  float64
	Err        error
}

// ProbeAll probes every registered provider concurrently, bounded by
// ProbeConcurrency, and records each outcome. Failures are recorded, never
// returned.
func (m *Monitor) ProbeAll(ctx context.Context) []ProbeResult {
	if m.prober == nil {
		return nil
	}

	ids := m.Providers()
	results := make([]ProbeResult, len(ids))

	var g errgroup.Group
	g.SetLimit(m.config.ProbeConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = m.ProbeOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProbeOne probes a single provider and records the outcome. A timeout and a
// panicking prober both count as failures.
func (m *Monitor) ProbeOne(ctx context.Context, providerID string) ProbeResult {
	result := ProbeResult{ProviderID: providerID}
	if m.prober == nil {
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.runProbe(probeCtx, providerID)
	result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	result.Err = err
	result.Success = err == nil

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		m.logger.Debug("probe failed", zap.String("provider", providerID), zap.Error(err))
	}
	if _, recErr := m.RecordProbe(providerID, result.Success, result.LatencyMs, errMsg); recErr != nil {
		// unregistered while the probe was in flight
		m.logger.Debug("dropping probe result", zap.String("provider", providerID), zap.Error(recErr))
	}
	return result
}

// runProbe calls the prober on its own goroutine so that a prober ignoring
// its context still times out
func (m *Monitor) runProbe(ctx context.Context, providerID string) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("prober panicked", zap.String("provider", providerID), zap.Any("panic", r))
				done <- pipeerr.New(pipeerr.CodeHealthProbeFailure, fmt.Sprintf("prober panicked: %v", r),
					pipeerr.FieldProvider(providerID))
			}
		}()
		done <- m.prober.Probe(ctx, providerID)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			return pipeerr.Wrap(err, pipeerr.CodeHealthProbeTimeout, "probe timed out", pipeerr.FieldProvider(providerID))
		}
		if err != nil && pipeerr.CodeOf(err) == "" {
			return pipeerr.Wrap(err, pipeerr.CodeHealthProbeFailure, "probe failed", pipeerr.FieldProvider(providerID))
		}
		return err
	case <-ctx.Done():
		return pipeerr.Wrap(ctx.Err(), pipeerr.CodeHealthProbeTimeout, "probe timed out", pipeerr.FieldProvider(providerID))
	}
}

// Start runs ProbeAll every Interval until Stop is called or ctx is done.
// Calling Start twice is a no-op; once ctx is done Start may be called again. Without a prober the monitor only tracks
// traffic outcomes and Start does nothing.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil {
		m.logger.Debug("health monitor has no prober; periodic probing disabled")
		return
	}

	m.loopMu.Lock()
	if m.running {
		m.loopMu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.ticker = time.NewTicker(m.config.Interval)
	m.stopChan = make(chan struct{})
	ticker := m.ticker
	stopChan := m.stopChan
	m.wg.Add(1)
	m.loopMu.Unlock()

	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ticker.C:
				m.tick(loopCtx)
			case <-stopChan:
				return
			case <-loopCtx.Done():
				m.loopExited(stopChan)
				return
			}
		}
	}()
}

// loopExited clears the loop state when the parent context ended the loop,
// so a later Start can run it again. A loop already taken over by Stop is
// left alone.
func (m *Monitor) loopExited(stopChan chan struct{}) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if !m.running || m.stopChan != stopChan {
		return
	}
	m.running = false
	m.ticker.Stop()
	m.cancel()
	m.ticker = nil
	m.stopChan = nil
	m.cancel = nil
}

func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health probe cycle panicked", zap.Any("panic", r))
		}
	}()
	m.ProbeAll(ctx)
	m.statusCache.CleanupExpired()
}

// Stop halts the probe loop, cancels in-flight probes and waits for the loop to exit
func (m *Monitor) Stop() {
	m.loopMu.Lock()
	if !m.running {
		m.loopMu.Unlock()
		return
	}
	m.running = false
	ticker := m.ticker
	stopChan := m.stopChan
	cancel := m.cancel
	m.ticker = nil
	m.stopChan = nil
	m.cancel = nil
	m.loopMu.Unlock()

	ticker.Stop()
	cancel()
	close(stopChan)
	m.wg.Wait()
}
