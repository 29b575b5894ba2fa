// Package health tracks the liveness and quality of every provider through
// periodic probes and live traffic outcomes, and classifies each provider
// as healthy, degraded, unhealthy or offline.
package health

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/events"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// ProviderHealth is a point-in-time view of one provider's rolling health
type ProviderHealth struct {
	ProviderID          string             `json:"provider_id"`
	Status              types.HealthStatus `json:"status"`
	ConsecutiveFailures uint               `json:"consecutive_failures"`
	Availability        float64            `json:"availability"`
	ErrorRate           float64            `json:"error_rate"`
	ResponseTimeMs      float64            `json:"response_time_ms"`
	LastCheck           time.Time          `json:"last_check"`
	LastSuccess         time.Time          `json:"last_success,omitempty"`
	LastFailure         time.Time          `json:"last_failure,omitempty"`
	LastError           string             `json:"last_error,omitempty"`
	Probed              bool               `json:"probed"`
	CheckCount          int64              `json:"check_count"`
	FailureCount        int64              `json:"failure_count"`
}

// Summary aggregates provider counts by status
type Summary struct {
	Total     int                        `json:"total"`
	ByStatus  map[types.HealthStatus]int `json:"by_status"`
	Healthy   []string                   `json:"healthy"`
	Unhealthy []string                   `json:"unhealthy"`
}

type providerRecord struct {
	mu       sync.Mutex
	health   ProviderHealth
	snapshot atomic.Pointer[ProviderHealth]
	removed  bool
}

func (r *providerRecord) publish() {
	snap := r.health
	r.snapshot.Store(&snap)
}

// Monitor owns the health records of all registered providers. Each record
// has its own lock; readers use lock-free snapshots.
type Monitor struct {
	config      Config
	prober      Prober
	bus         *events.Bus
	logger      *zap.Logger
	statusCache *StatusCache
	nowFunc     func() time.Time

	mu        sync.RWMutex
	providers map[string]*providerRecord

	loopMu   sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Monitor
type Option func(*Monitor)

// WithProber sets the prober used by the periodic loop
func WithProber(p Prober) Option {
	return func(m *Monitor) { m.prober = p }
}

// WithEventBus sets the bus that receives status transitions
func WithEventBus(bus *events.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) { m.logger = logging.OrNop(logger) }
}

// WithNowFunc overrides the time source (tests only)
func WithNowFunc(now func() time.Time) Option {
	return func(m *Monitor) {
		m.nowFunc = now
		m.statusCache.nowFunc = now
	}
}

// NewMonitor creates a health monitor
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		config:      cfg,
		logger:      logging.Nop(),
		statusCache: NewStatusCache(cfg.StatusCacheTTL),
		nowFunc:     time.Now,
		providers:   make(map[string]*providerRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the monitor configuration
func (m *Monitor) Config() Config {
	return m.config
}

// StatusCache exposes the IsHealthy cache
func (m *Monitor) StatusCache() *StatusCache {
	return m.statusCache
}

// Register adds a provider with optimistic defaults. Registering an existing
// provider is a no-op.
func (m *Monitor) Register(providerID string) error {
	if providerID == "" {
		return pipeerr.New(pipeerr.CodeSelectionAgentInvalid, "provider id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[providerID]; exists {
		return nil
	}

	record := &providerRecord{
		health: ProviderHealth{
			ProviderID:   providerID,
			Availability: 1.0,
			Probed:       m.config.OptimisticRegistration,
		},
	}
	if record.health.Probed {
		record.health.LastCheck = m.nowFunc()
	}
	record.health.Status = m.Classify(record.health)
	record.publish()

	m.providers[providerID] = record
	m.statusCache.Invalidate(providerID)
	m.logger.Debug("provider registered",
		zap.String("provider", providerID),
		zap.String("status", record.health.Status.String()))
	return nil
}

// Unregister removes a provider. Its status becomes offline.
func (m *Monitor) Unregister(providerID string) bool {
	m.mu.Lock()
	record, exists := m.providers[providerID]
	if exists {
		delete(m.providers, providerID)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	record.removed = true
	previous := record.health.Status

	m.statusCache.Invalidate(providerID)
	m.logger.Debug("provider unregistered", zap.String("provider", providerID))
	if previous != types.HealthStatusOffline {
		m.bus.Publish(events.New(events.TypeHealthStatusChanged, events.SourceHealth, providerID, m.nowFunc(),
			map[string]interface{}{
				"previous_status": previous.String(),
				"status":          types.HealthStatusOffline.String(),
				"unregistered":    true,
			}))
	}
	return true
}

func (m *Monitor) record(providerID string) (*providerRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.providers[providerID]
	return record, ok
}

// RecordProbe folds one probe or traffic outcome into the provider's rolling
// statistics and reclassifies it
func (m *Monitor) RecordProbe(providerID string, success bool, latencyMs float64, errMsg string) (ProviderHealth, error) {
	record, ok := m.record(providerID)
	if !ok {
		return ProviderHealth{}, pipeerr.New(pipeerr.CodeHealthProviderNotFound, "provider is not registered",
			pipeerr.FieldProvider(providerID))
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	if record.removed {
		return ProviderHealth{}, pipeerr.New(pipeerr.CodeHealthProviderNotFound, "provider is not registered",
			pipeerr.FieldProvider(providerID))
	}

	now := m.nowFunc()
	h := &record.health
	previous := h.Status

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	h.Availability = smooth(h.Availability, outcome, m.config.AvailabilityAlpha)
	h.ErrorRate = smooth(h.ErrorRate, 1-outcome, m.config.ErrorRateAlpha)
	if latencyMs < 0 {
		latencyMs = 0
	}
	if h.CheckCount == 0 && h.ResponseTimeMs == 0 {
		h.ResponseTimeMs = latencyMs
	} else {
		h.ResponseTimeMs = smooth(h.ResponseTimeMs, latencyMs, m.config.ResponseTimeAlpha)
	}

	if success {
		h.ConsecutiveFailures = 0
		h.LastSuccess = now
		h.LastError = ""
	} else {
		h.ConsecutiveFailures++
		h.FailureCount++
		h.LastFailure = now
		h.LastError = errMsg
	}
	h.CheckCount++
	h.LastCheck = now
	h.Probed = true
	h.Status = m.Classify(*h)
	record.publish()

	if h.Status != previous {
		m.statusCache.Invalidate(providerID)
		m.emitTransition(providerID, previous, *h)
	}
	return *h, nil
}

// RecordOutcome reports a live traffic outcome
func (m *Monitor) RecordOutcome(providerID string, success bool, latencyMs float64) error {
	errMsg := ""
	if !success {
		errMsg = "request failed"
	}
	_, err := m.RecordProbe(providerID, success, latencyMs, errMsg)
	return err
}

// emitTransition runs with the record lock held so subscribers see
// transitions in commit order
func (m *Monitor) emitTransition(providerID string, previous types.HealthStatus, h ProviderHealth) {
	data := map[string]interface{}{
		"previous_status":      previous.String(),
		"status":               h.Status.String(),
		"consecutive_failures": h.ConsecutiveFailures,
		"availability":         h.Availability,
		"error_rate":           h.ErrorRate,
	}
	if h.LastError != "" {
		data["error"] = h.LastError
	}

	m.bus.Publish(events.New(events.TypeHealthStatusChanged, events.SourceHealth, providerID, h.LastCheck, data))

	switch {
	case h.Status == types.HealthStatusUnhealthy:
		m.logger.Warn("provider became unhealthy",
			zap.String("provider", providerID),
			zap.String("previous_status", previous.String()),
			zap.Uint("consecutive_failures", h.ConsecutiveFailures),
			zap.String("error", h.LastError))
		m.bus.Publish(events.New(events.TypeHealthUnhealthy, events.SourceHealth, providerID, h.LastCheck, data))
	case h.Status == types.HealthStatusHealthy && previous == types.HealthStatusUnhealthy:
		m.logger.Info("provider recovered", zap.String("provider", providerID))
		m.bus.Publish(events.New(events.TypeHealthRecovered, events.SourceHealth, providerID, h.LastCheck, data))
	default:
		m.logger.Debug("provider status changed",
			zap.String("provider", providerID),
			zap.String("previous_status", previous.String()),
			zap.String("status", h.Status.String()))
	}
}

// Classify derives a status from the rolling statistics
func (m *Monitor) Classify(h ProviderHealth) types.HealthStatus {
	if !h.Probed {
		return types.HealthStatusOffline
	}
	if h.ConsecutiveFailures >= uint(m.config.FailureThreshold) ||
		h.Availability < m.config.MinAvailability ||
		h.ErrorRate > m.config.MaxErrorRate {
		return types.HealthStatusUnhealthy
	}
	if h.ConsecutiveFailures >= 1 {
		return types.HealthStatusDegraded
	}
	return types.HealthStatusHealthy
}

// Health returns the latest snapshot for a provider
func (m *Monitor) Health(providerID string) (ProviderHealth, bool) {
	record, ok := m.record(providerID)
	if !ok {
		return ProviderHealth{}, false
	}
	return *record.snapshot.Load(), true
}

// Status returns the provider's status; unknown providers are offline
func (m *Monitor) Status(providerID string) types.HealthStatus {
	h, ok := m.Health(providerID)
	if !ok {
		return types.HealthStatusOffline
	}
	return h.Status
}

// All returns snapshots of every provider, sorted by id
func (m *Monitor) All() []ProviderHealth {
	m.mu.RLock()
	out := make([]ProviderHealth, 0, len(m.providers))
	for _, record := range m.providers {
		out = append(out, *record.snapshot.Load())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Providers returns registered provider ids, sorted
func (m *Monitor) Providers() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.providers))
	for id := range m.providers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// HealthyProviders returns the ids of healthy providers, sorted
func (m *Monitor) HealthyProviders() []string {
	var out []string
	for _, h := range m.All() {
		if h.Status == types.HealthStatusHealthy {
			out = append(out, h.ProviderID)
		}
	}
	return out
}

// IsHealthy reports whether the provider is healthy, answered from the
// short-lived status cache when possible
func (m *Monitor) IsHealthy(providerID string) bool {
	return m.statusCache.Lookup(providerID, func() bool {
		return m.Status(providerID) == types.HealthStatusHealthy
	})
}

// IsAvailable reports whether the provider may take traffic (healthy or degraded)
func (m *Monitor) IsAvailable(providerID string) bool {
	return m.Status(providerID).IsUsable()
}

// Summary counts providers by status
func (m *Monitor) Summary() Summary {
	summary := Summary{ByStatus: make(map[types.HealthStatus]int)}
	for _, h := range m.All() {
		summary.Total++
		summary.ByStatus[h.Status]++
		switch h.Status {
		case types.HealthStatusHealthy:
			summary.Healthy = append(summary.Healthy, h.ProviderID)
		case types.HealthStatusUnhealthy:
			summary.Unhealthy = append(summary.Unhealthy, h.ProviderID)
		}
	}
	return summary
}

func smooth(old, sample, alpha float64) float64 {
	return old*alpha + sample*(1-alpha)
}
