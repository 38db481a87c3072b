package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// DefaultTTL is how long a probe outcome is authoritative. A model
	// that failed its probe stays excluded from candidate lists for this
	// window; recovery happens only after expiry or an explicit re-probe.
	DefaultTTL = 5 * time.Minute

	defaultProbeTimeout = 10 * time.Second
	defaultConcurrency  = 4
	defaultInterval     = 30 * time.Second
)

// ProbeFunc checks one model key, typically by calling the adapter's
// CheckHealth. nil means healthy.
type ProbeFunc func(ctx context.Context, key string) error

// Config controls the monitor.
type Config struct {
	TTL          time.Duration
	ProbeTimeout time.Duration
	Interval     time.Duration
	Concurrency  int
}

// Monitor caches per-model health with a TTL and refreshes stale entries
// in the background with bounded concurrency. The request path only reads
// the cache: Healthy never probes synchronously.
//
// A per-model circuit breaker fed by live request outcomes complements the
// probes, so a model that is failing real traffic drops out of candidate
// lists before the next probe cycle.
type Monitor struct {
	cfg    Config
	store  Store
	probe  ProbeFunc
	logger *slog.Logger

	mu       sync.Mutex
	tracked  map[string]struct{}
	breakers map[string]*gobreaker.TwoStepCircuitBreaker

	kick    chan string
	started atomic.Bool
}

// NewMonitor creates a monitor over the given status store.
func NewMonitor(cfg Config, store Store, probe ProbeFunc, logger *slog.Logger) *Monitor {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		store:    store,
		probe:    probe,
		logger:   logger,
		tracked:  make(map[string]struct{}),
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		kick:     make(chan string, 64),
	}
}

// Track registers a model key for background refresh.
func (m *Monitor) Track(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[key] = struct{}{}
}

// Healthy reports whether a model should receive traffic. Unknown or
// expired entries are healthy-until-proven-otherwise; an async probe is
// scheduled for them. An open circuit breaker overrides everything.
func (m *Monitor) Healthy(ctx context.Context, key string) bool {
	if m.breakerState(key) == gobreaker.StateOpen {
		return false
	}

	status, found, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("health store read failed", "key", key, "error", err)
		return true
	}
	if !found || !status.Fresh(m.cfg.TTL, time.Now()) {
		m.schedule(key)
		return true
	}
	return status.Healthy
}

// ReportOutcome feeds a live request outcome into the model's circuit
// breaker. Enough consecutive failures trip it open.
func (m *Monitor) ReportOutcome(key string, success bool) {
	cb := m.breaker(key)
	done, err := cb.Allow()
	if err != nil {
		// Already open; nothing to record.
		return
	}
	done(success)
}

// Start launches the background refresh loop. Safe to call once; repeat
// calls are ignored.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case key := <-m.kick:
			m.probeOne(ctx, key)
		case <-ticker.C:
			m.refreshStale(ctx)
		}
	}
}

// refreshStale probes every tracked key whose entry is missing or older
// than the TTL, fanning out with bounded concurrency.
func (m *Monitor) refreshStale(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.tracked))
	for key := range m.tracked {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	now := time.Now()
	stale := keys[:0]
	for _, key := range keys {
		status, found, err := m.store.Get(ctx, key)
		if err != nil || !found || !status.Fresh(m.cfg.TTL, now) {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		m.probeMany(ctx, stale)
	}
}

// ProbeAll forces a synchronous re-probe of the given keys. The routing
// engine uses it as a last resort when every candidate is marked
// unhealthy.
func (m *Monitor) ProbeAll(ctx context.Context, keys []string) {
	m.probeMany(ctx, keys)
}

func (m *Monitor) probeMany(ctx context.Context, keys []string) {
	sem := make(chan struct{}, m.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(k string) {
			defer wg.Done()
			defer func() { <-sem }()
			m.probeOne(ctx, k)
		}(key)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, key string) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	status := Status{Healthy: true, LastChecked: time.Now()}
	if err := m.probe(probeCtx, key); err != nil {
		status.Healthy = false
		status.Message = err.Error()
		m.logger.Warn("health probe failed", "key", key, "error", err)
	}

	if err := m.store.Set(ctx, key, status); err != nil {
		m.logger.Warn("health store write failed", "key", key, "error", err)
	}
}

// schedule requests an async probe without blocking the caller. Drops the
// request when the queue is full; the periodic refresh will catch up.
func (m *Monitor) schedule(key string) {
	select {
	case m.kick <- key:
	default:
	}
}

func (m *Monitor) breaker(key string) *gobreaker.TwoStepCircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.breakers[key]
	if !ok {
		cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name: key,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		})
		m.breakers[key] = cb
	}
	return cb
}

func (m *Monitor) breakerState(key string) gobreaker.State {
	m.mu.Lock()
	cb, ok := m.breakers[key]
	m.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
