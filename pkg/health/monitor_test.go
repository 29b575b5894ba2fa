package health

import (
	"math/rand"
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

func newTestMonitor(t *testing.T, cfg Config, opts ...Option) (*Monitor, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	opts = append([]Option{WithNowFunc(clock.Now)}, opts...)
	return NewMonitor(cfg, opts...), clock
}

func TestRegisterOptimistic(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	require.NoError(t, m.Register("openai"))

	h, ok := m.Health("openai")
	require.True(t, ok)
	assert.Equal(t, types.HealthStatusHealthy, h.Status)
	assert.Equal(t, 1.0, h.Availability)
	assert.Zero(t, h.ErrorRate)
	assert.True(t, h.Probed)
}

func TestRegisterPessimisticIsOfflineUntilProbed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OptimisticRegistration = false
	m, _ := newTestMonitor(t, cfg)
	require.NoError(t, m.Register("openai"))

	assert.Equal(t, types.HealthStatusOffline, m.Status("openai"))

	h, err := m.RecordProbe("openai", true, 120, "")
	require.NoError(t, err)
	assert.Equal(t, types.HealthStatusHealthy, h.Status)
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	err := m.Register("")
	require.Error(t, err)
	assert.True(t, pipeerr.IsInvalidInput(err))
}

func TestUnknownProviderIsOffline(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	assert.Equal(t, types.HealthStatusOffline, m.Status("missing"))
	assert.False(t, m.IsHealthy("missing"))

	_, err := m.RecordProbe("missing", true, 1, "")
	require.Error(t, err)
	assert.True(t, pipeerr.IsNotFound(err))
}

func TestThreeFailuresThenOneSuccess(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	require.NoError(t, m.Register("p"))

	var h ProviderHealth
	var err error
	for i := 0; i < 2; i++ {
		h, err = m.RecordProbe("p", false, 100, "boom")
		require.NoError(t, err)
		assert.Equal(t, types.HealthStatusDegraded, h.Status)
	}

	h, err = m.RecordProbe("p", false, 100, "boom")
	require.NoError(t, err)
	assert.Equal(t, types.HealthStatusUnhealthy, h.Status)
	assert.Equal(t, uint(3), h.ConsecutiveFailures)
	assert.Equal(t, "boom", h.LastError)

	h, err = m.RecordProbe("p", true, 100, "")
	require.NoError(t, err)
	assert.Equal(t, uint(0), h.ConsecutiveFailures)
	assert.Equal(t, types.HealthStatusHealthy, h.Status)
	assert.InDelta(t, 0.7561, h.Availability, 1e-4)
	assert.InDelta(t, 0.2439, h.ErrorRate, 1e-4)
}

func TestSingleSuccessAmidFailuresIsNotHealthy(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	require.NoError(t, m.Register("p"))

	_, _ = m.RecordProbe("p", false, 10, "x")
	_, _ = m.RecordProbe("p", true, 10, "")
	h, _ := m.RecordProbe("p", false, 10, "x")

	assert.Equal(t, types.HealthStatusDegraded, h.Status)
	assert.Equal(t, uint(1), h.ConsecutiveFailures)
}

func TestHysteresisUnhealthyNeedsConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		m, _ := newTestMonitor(t, cfg)
		require.NoError(t, m.Register("p"))

		var longest, current uint
		for step := 0; step < 6; step++ {
			success := rng.Intn(2) == 0
			h, err := m.RecordProbe("p", success, 50, "")
			require.NoError(t, err)

			if success {
				current = 0
			} else {
				current++
			}
			longest = max(longest, current)

			if h.Status == types.HealthStatusUnhealthy {
				assert.GreaterOrEqual(t, longest, uint(cfg.FailureThreshold))
			}
			if h.Status == types.HealthStatusHealthy {
				assert.Zero(t, h.ConsecutiveFailures)
			}
		}
	}
}

func TestRollingAverages(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	require.NoError(t, m.Register("p"))

	h, _ := m.RecordProbe("p", true, 100, "")
	assert.InDelta(t, 100.0, h.ResponseTimeMs, 1e-9)

	h, _ = m.RecordProbe("p", true, 200, "")
	assert.InDelta(t, 100*0.8+200*0.2, h.ResponseTimeMs, 1e-9)
	assert.Equal(t, 1.0, h.Availability)
	assert.Equal(t, int64(2), h.CheckCount)
}

func TestErrorRateCeilingMarksUnhealthy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxErrorRate = 0.15
	m, _ := newTestMonitor(t, cfg)
	require.NoError(t, m.Register("p"))

	_, _ = m.RecordProbe("p", false, 10, "x")
	h, _ := m.RecordProbe("p", false, 10, "x")
	assert.Equal(t, types.HealthStatusUnhealthy, h.Status)
}

func TestStatusTransitionEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(32)

	m, _ := newTestMonitor(t, DefaultConfig(), WithEventBus(bus))
	require.NoError(t, m.Register("p"))

	for i := 0; i < 3; i++ {
		_, _ = m.RecordProbe("p", false, 10, "down")
	}
	_, _ = m.RecordProbe("p", true, 10, "")

	evs := testutil.DrainEvents(sub)
	assert.Equal(t, []events.Type{
		events.TypeHealthStatusChanged, // healthy -> degraded
		events.TypeHealthStatusChanged, // degraded -> unhealthy
		events.TypeHealthUnhealthy,
		events.TypeHealthStatusChanged, // unhealthy -> healthy
		events.TypeHealthRecovered,
	}, testutil.EventTypes(evs))
	assert.Equal(t, "p", evs[0].Subject)
	assert.Equal(t, "healthy", evs[0].Data["previous_status"])
	assert.Equal(t, "degraded", evs[0].Data["status"])
}

func TestIsHealthyUsesStatusCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StatusCacheTTL = time.Minute
	m, clock := newTestMonitor(t, cfg)
	require.NoError(t, m.Register("p"))

	assert.True(t, m.IsHealthy("p"))
	assert.Equal(t, 1, m.StatusCache().Stats().ValidEntries)

	// a transition invalidates the cached answer immediately
	_, _ = m.RecordProbe("p", false, 10, "x")
	assert.False(t, m.IsHealthy("p"))
	assert.True(t, m.IsAvailable("p"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, m.StatusCache().CleanupExpired())
}

func TestUnregister(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	m, _ := newTestMonitor(t, DefaultConfig(), WithEventBus(bus))
	require.NoError(t, m.Register("p"))
	assert.True(t, m.IsHealthy("p"))

	assert.True(t, m.Unregister("p"))
	assert.False(t, m.Unregister("p"))
	assert.Equal(t, types.HealthStatusOffline, m.Status("p"))
	assert.False(t, m.IsHealthy("p"))

	evs := testutil.DrainEvents(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, "offline", evs[0].Data["status"])
}

func TestHealthyProvidersAndSummary(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, m.Register(id))
	}
	for i := 0; i < 3; i++ {
		_, _ = m.RecordProbe("b", false, 10, "x")
	}
	_, _ = m.RecordProbe("c", false, 10, "x")

	assert.Equal(t, []string{"a"}, m.HealthyProviders())

	summary := m.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[types.HealthStatusHealthy])
	assert.Equal(t, 1, summary.ByStatus[types.HealthStatusDegraded])
	assert.Equal(t, []string{"b"}, summary.Unhealthy)

	all := m.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ProviderID)
}

func TestConcurrentRecordProbe(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig())
	require.NoError(t, m.Register("p"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = m.RecordProbe("p", (i+j)%3 != 0, 10, "")
				_ = m.IsHealthy("p")
			}
		}(i)
	}
	wg.Wait()

	h, ok := m.Health("p")
	require.True(t, ok)
	assert.Equal(t, int64(1000), h.CheckCount)
	assert.GreaterOrEqual(t, h.Availability, 0.0)
	assert.LessOrEqual(t, h.Availability, 1.0)
}
