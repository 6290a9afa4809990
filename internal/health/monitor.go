package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/internal/registry"
	"github.com/me/orchestra/pkg/model"
)

// Provider is the backend pool the monitor watches.
type Provider interface {
	// Ping is the pool-wide liveness check.
	Ping(ctx context.Context) error
	// ListResources reports the resources the pool currently offers.
	ListResources(ctx context.Context) ([]model.Resource, error)
}

// LocalProber checks a single pinned resource that does not depend on the
// provider, e.g. a sibling HTTP service.
type LocalProber interface {
	ProbeResource(ctx context.Context, res model.Resource) error
}

// StatusSink receives a status snapshot after every probe.
type StatusSink interface {
	PutResourceStatus(ctx context.Context, st model.ResourceStatus) error
}

// Config holds monitor configuration.
type Config struct {
	ProbeInterval   time.Duration
	RefreshInterval time.Duration
	ProbeTimeout    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:   30 * time.Second,
		RefreshInterval: 5 * time.Minute,
		ProbeTimeout:    5 * time.Second,
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics records probe outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithLocalProber checks pinned resources on every probe tick.
func WithLocalProber(p LocalProber) Option {
	return func(mon *Monitor) { mon.local = p }
}

// WithStatusSink publishes a snapshot after every probe.
func WithStatusSink(s StatusSink) Option {
	return func(mon *Monitor) { mon.sink = s }
}

// Monitor tracks pool health, reconciles the registry with the provider,
// and is the only write path for resource performance profiles.
type Monitor struct {
	registry *registry.Registry
	provider Provider
	local    LocalProber
	sink     StatusSink
	config   Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	healthy atomic.Bool

	mu          sync.RWMutex
	lastProbeAt time.Time
	lastError   string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMonitor creates a monitor. With a nil provider the pool is considered
// permanently healthy and only pinned resources are probed.
func NewMonitor(reg *registry.Registry, provider Provider, cfg Config, logger *slog.Logger, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	m := &Monitor{
		registry: reg,
		provider: provider,
		config:   cfg,
		logger:   logging.OrDiscard(logger).With("component", "health"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	// Fail closed until the first probe succeeds.
	m.healthy.Store(provider == nil)
	return m
}

// Start probes and refreshes once, then keeps doing so on their intervals.
// Blocks until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	defer close(m.doneCh)
	m.logger.Info("health monitor started",
		"probe_interval", m.config.ProbeInterval, "refresh_interval", m.config.RefreshInterval)

	m.Refresh(ctx)
	m.Probe(ctx)

	probe := time.NewTicker(m.config.ProbeInterval)
	defer probe.Stop()
	refresh := time.NewTicker(m.config.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopping (context cancelled)")
			return ctx.Err()
		case <-m.stopCh:
			m.logger.Info("health monitor stopping (stop called)")
			return nil
		case <-probe.C:
			m.Probe(ctx)
		case <-refresh.C:
			m.Refresh(ctx)
		}
	}
}

// Stop ends the loops and waits for the current iteration to finish.
// It must only be called after Start.
func (m *Monitor) Stop() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
	return nil
}

// Probe runs one liveness check. Failures flip the healthy flag and are
// logged; they are retried on the next tick at the same interval.
func (m *Monitor) Probe(ctx context.Context) error {
	var err error
	if m.provider != nil {
		pctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		start := time.Now()
		err = m.provider.Ping(pctx)
		cancel()
		m.metrics.RecordProbe(time.Since(start), err == nil)

		was := m.healthy.Swap(err == nil)
		switch {
		case err != nil && was:
			m.logger.Warn("backend pool unhealthy", "error", err)
		case err != nil:
			m.logger.Debug("backend pool still unhealthy", "error", err)
		case !was:
			m.logger.Info("backend pool healthy")
		}
	}

	m.mu.Lock()
	m.lastProbeAt = time.Now().UTC()
	m.lastError = ""
	if err != nil {
		m.lastError = err.Error()
	}
	m.mu.Unlock()

	m.probePinned(ctx)
	m.publish(ctx)
	return err
}

func (m *Monitor) publish(ctx context.Context) {
	if m.sink == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()
	if err := m.sink.PutResourceStatus(pctx, m.Status()); err != nil {
		m.logger.Warn("publish status failed", "error", err)
	}
}

func (m *Monitor) probePinned(ctx context.Context) {
	if m.local == nil {
		return
	}
	for _, res := range m.registry.All() {
		if !res.Pinned {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		err := m.local.ProbeResource(pctx, res)
		cancel()
		switch {
		case err != nil && res.Available:
			m.logger.Warn("pinned resource unavailable", "resource", res.Name, "error", err)
			_ = m.registry.MarkUnavailable(res.Name)
			_ = m.registry.MarkError(res.Name)
		case err != nil && res.Loading:
			m.logger.Debug("pinned resource not ready", "resource", res.Name, "error", err)
		case err == nil && !res.Available:
			m.logger.Info("pinned resource available", "resource", res.Name)
			_ = m.registry.MarkAvailable(res.Name)
		}
	}
}

// AddPinned registers a statically configured resource. With a local
// prober it stays loading, and so unselectable, until its first
// successful probe.
func (m *Monitor) AddPinned(res model.Resource) error {
	res.Pinned = true
	if err := m.registry.Register(res); err != nil {
		return err
	}
	if m.local != nil {
		return m.registry.MarkLoading(res.Name)
	}
	return nil
}

// Refresh reconciles the registry with the provider's listing. New resources
// are registered available, vanished ones are marked unavailable but kept,
// and returning ones become available again. Pinned resources are left alone.
func (m *Monitor) Refresh(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	listed, err := m.provider.ListResources(rctx)
	cancel()
	if err != nil {
		m.logger.Warn("resource refresh failed", "error", err)
		return err
	}

	seen := make(map[string]bool, len(listed))
	for _, res := range listed {
		seen[res.Name] = true
		existing, err := m.registry.Get(res.Name)
		if errors.Is(err, model.ErrResourceNotFound) {
			res.Available = !res.Loading
			if err := m.registry.Register(res); err != nil {
				m.logger.Warn("register discovered resource", "resource", res.Name, "error", err)
			}
			continue
		}
		if !existing.Pinned && !existing.Available && !existing.Loading {
			m.logger.Info("resource returned", "resource", res.Name)
			_ = m.registry.MarkAvailable(res.Name)
		}
	}

	available, unavailable := 0, 0
	for _, res := range m.registry.All() {
		if !res.Pinned && !seen[res.Name] && res.Available {
			m.logger.Info("resource gone", "resource", res.Name)
			_ = m.registry.MarkUnavailable(res.Name)
			res.Available = false
		}
		if res.Available {
			available++
		} else {
			unavailable++
		}
	}
	m.metrics.SetResourceCounts(available, unavailable)
	return nil
}

// UpdateMetrics folds one dispatch outcome into the resource's performance
// profile. It is the only write path for profile fields.
func (m *Monitor) UpdateMetrics(name string, durationMs float64, success bool) error {
	return m.registry.RecordOutcome(name, durationMs, success, time.Now().UTC())
}

// Healthy reports the result of the last pool probe.
func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}

// Status returns the health flag with every known resource.
func (m *Monitor) Status() model.ResourceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := model.ResourceStatus{
		Healthy:   m.Healthy(),
		LastError: m.lastError,
		Resources: m.registry.All(),
	}
	if !m.lastProbeAt.IsZero() {
		t := m.lastProbeAt
		st.LastProbeAt = &t
	}
	return st
}
