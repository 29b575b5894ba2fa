package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/logging"
)

// DefaultSampleInterval is how often the sampler flushes into the window
const DefaultSampleInterval = 5 * time.Second

// Config controls the metrics window and sampler
type Config struct {
	Retention        time.Duration `yaml:"retention" mapstructure:"retention"`
	MaxSamples       int           `yaml:"max_samples" mapstructure:"max_samples"`
	SampleInterval   time.Duration `yaml:"sample_interval" mapstructure:"sample_interval"`
	MemoryLimitBytes uint64        `yaml:"memory_limit_bytes" mapstructure:"memory_limit_bytes"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		Retention:        DefaultRetention,
		MaxSamples:       DefaultMaxSamples,
		SampleInterval:   DefaultSampleInterval,
		MemoryLimitBytes: DefaultMemoryLimit,
	}
}

// Sampler turns live request outcomes into periodic window samples.
// Counters are atomic; only the latency histogram takes a lock.
type Sampler struct {
	window    *Window
	resources ResourceReader
	interval  time.Duration
	logger    *zap.Logger
	nowFunc   func() time.Time

	requests     atomic.Int64
	failures     atomic.Int64
	latencyTotal atomic.Int64 // microseconds
	latencies    *Histogram

	flushMu   sync.Mutex
	lastFlush time.Time

	mu       sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSampler creates a sampler writing into window. A nil reader uses the runtime heap.
func NewSampler(window *Window, cfg Config, resources ResourceReader, logger *zap.Logger) *Sampler {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if resources == nil {
		resources = NewRuntimeResourceReader(cfg.MemoryLimitBytes)
	}
	return &Sampler{
		window:    window,
		resources: resources,
		interval:  cfg.SampleInterval,
		latencies: NewHistogram(DefaultHistogramSize),
		logger:    logging.OrNop(logger),
		nowFunc:   time.Now,
		lastFlush: time.Now(),
	}
}

// SetNowFunc overrides the time source (tests only)
func (s *Sampler) SetNowFunc(now func() time.Time) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.nowFunc = now
	s.lastFlush = now()
}

// Window returns the window the sampler writes into
func (s *Sampler) Window() *Window {
	return s.window
}

// RecordRequest accumulates one request outcome
func (s *Sampler) RecordRequest(latency time.Duration, success bool) {
	s.requests.Add(1)
	if !success {
		s.failures.Add(1)
	}
	s.latencyTotal.Add(latency.Microseconds())
	s.latencies.Add(latency)
}

// Flush builds one sample from the outcomes accumulated since the previous
// flush, adds it to the window and returns it. An interval with no traffic
// reports zero latency and zero error rate.
func (s *Sampler) Flush() SystemMetricsSample {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	now := s.nowFunc()
	elapsed := now.Sub(s.lastFlush)
	s.lastFlush = now

	requests := s.requests.Swap(0)
	failures := s.failures.Swap(0)
	latency := s.latencyTotal.Swap(0)
	p95 := s.latencies.Drain(95)

	sample := SystemMetricsSample{Timestamp: now}
	if requests > 0 {
		sample.ResponseTimeMs = float64(latency) / 1000.0 / float64(requests)
		sample.ResponseTimeP95Ms = float64(p95.Microseconds()) / 1000.0
		sample.ErrorRate = float64(failures) / float64(requests)
		if elapsed > 0 {
			sample.RequestVolume = float64(requests) / elapsed.Seconds()
		} else {
			sample.RequestVolume = float64(requests)
		}
	}

	usage, err := s.resources.ReadResources()
	if err != nil {
		s.logger.Warn("failed to read resource usage", zap.Error(err))
	} else {
		sample.MemoryUtilization = clamp01(usage.Memory)
		sample.CPUUtilization = clamp01(usage.CPU)
	}

	s.window.Add(sample)
	return sample
}

// Start begins periodic flushing. Calling Start twice is a no-op.
func (s *Sampler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ticker = time.NewTicker(s.interval)
	s.stopChan = make(chan struct{})
	ticker := s.ticker
	stopChan := s.stopChan
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-stopChan:
				return
			}
		}
	}()
}

func (s *Sampler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("metrics sampler tick panicked", zap.Any("panic", r))
		}
	}()
	s.Flush()
}

// Stop halts flushing and waits for the loop to exit
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ticker := s.ticker
	stopChan := s.stopChan
	s.ticker = nil
	s.stopChan = nil
	s.mu.Unlock()

	ticker.Stop()
	close(stopChan)
	s.wg.Wait()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
