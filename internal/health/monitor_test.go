package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/internal/registry"
	"github.com/me/orchestra/pkg/model"
)

type fakeProvider struct {
	mu        sync.Mutex
	pingErr   error
	listErr   error
	resources []model.Resource
	pings     int
}

func (p *fakeProvider) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	return p.pingErr
}

func (p *fakeProvider) ListResources(context.Context) ([]model.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Resource(nil), p.resources...), p.listErr
}

func (p *fakeProvider) set(pingErr error, names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pingErr = pingErr
	p.resources = nil
	for _, n := range names {
		p.resources = append(p.resources, model.Resource{Name: n})
	}
}

func (p *fakeProvider) pingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

type fakeLocal struct {
	down map[string]bool
}

func (l fakeLocal) ProbeResource(_ context.Context, res model.Resource) error {
	if l.down[res.Name] {
		return errors.New("connection refused")
	}
	return nil
}

func TestProbe_FlipsHealthy(t *testing.T) {
	prov := &fakeProvider{}
	m := metrics.New()
	mon := NewMonitor(registry.New(nil), prov, DefaultConfig(), nil, WithMetrics(m))

	assert.False(t, mon.Healthy(), "monitor must fail closed before the first probe")

	require.NoError(t, mon.Probe(context.Background()))
	assert.True(t, mon.Healthy())

	prov.set(errors.New("connection refused"))
	err := mon.Probe(context.Background())
	require.Error(t, err)
	assert.False(t, mon.Healthy())

	st := mon.Status()
	assert.False(t, st.Healthy)
	assert.Equal(t, "connection refused", st.LastError)
	require.NotNil(t, st.LastProbeAt)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProbeTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeErrors))
}

func TestNilProviderIsHealthy(t *testing.T) {
	mon := NewMonitor(registry.New(nil), nil, DefaultConfig(), nil)
	assert.True(t, mon.Healthy())
	assert.NoError(t, mon.Probe(context.Background()))
	assert.NoError(t, mon.Refresh(context.Background()))
}

func TestRefresh_Reconciles(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(model.Resource{Name: "scraper", Pinned: true, Available: true}))
	prov := &fakeProvider{}
	prov.set(nil, "llama3", "codellama-7b")
	mon := NewMonitor(reg, prov, DefaultConfig(), nil)
	ctx := context.Background()

	require.NoError(t, mon.Refresh(ctx))
	assert.Len(t, reg.List(), 3)

	// codellama disappears: kept but unavailable. Pinned scraper untouched.
	prov.set(nil, "llama3")
	require.NoError(t, mon.Refresh(ctx))
	res, err := reg.Get("codellama-7b")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Len(t, reg.All(), 3)
	scraper, _ := reg.Get("scraper")
	assert.True(t, scraper.Available)

	// It comes back.
	prov.set(nil, "llama3", "codellama-7b")
	require.NoError(t, mon.Refresh(ctx))
	res, _ = reg.Get("codellama-7b")
	assert.True(t, res.Available)
}

func TestRefresh_ListErrorKeepsRegistry(t *testing.T) {
	reg := registry.New(nil)
	prov := &fakeProvider{}
	prov.set(nil, "llama3")
	mon := NewMonitor(reg, prov, DefaultConfig(), nil)
	require.NoError(t, mon.Refresh(context.Background()))

	prov.listErr = errors.New("timeout")
	assert.Error(t, mon.Refresh(context.Background()))
	assert.Len(t, reg.List(), 1)
}

func TestRefresh_LeavesLoadingAlone(t *testing.T) {
	reg := registry.New(nil)
	prov := &fakeProvider{}
	prov.set(nil, "qwen")
	mon := NewMonitor(reg, prov, DefaultConfig(), nil)
	require.NoError(t, mon.Refresh(context.Background()))
	require.NoError(t, reg.MarkLoading("qwen"))

	require.NoError(t, mon.Refresh(context.Background()))
	res, _ := reg.Get("qwen")
	assert.True(t, res.Loading)
	assert.False(t, res.Available)
}

func TestProbe_PinnedResources(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(model.Resource{Name: "scraper", Pinned: true, Available: true}))
	require.NoError(t, reg.Register(model.Resource{Name: "mailer", Pinned: true, Available: false}))
	local := fakeLocal{down: map[string]bool{"scraper": true}}
	mon := NewMonitor(reg, nil, DefaultConfig(), nil, WithLocalProber(local))

	require.NoError(t, mon.Probe(context.Background()))

	scraper, _ := reg.Get("scraper")
	mailer, _ := reg.Get("mailer")
	assert.False(t, scraper.Available)
	assert.True(t, mailer.Available)
	assert.Equal(t, 1, scraper.Performance.ErrorCount, "an outage counts one error")

	// Still down: no further errors are counted.
	require.NoError(t, mon.Probe(context.Background()))
	scraper, _ = reg.Get("scraper")
	assert.Equal(t, 1, scraper.Performance.ErrorCount)
}

func TestAddPinned_LoadingUntilFirstProbe(t *testing.T) {
	reg := registry.New(nil)
	local := fakeLocal{down: map[string]bool{"mailer": true}}
	mon := NewMonitor(reg, nil, DefaultConfig(), nil, WithLocalProber(local))

	require.NoError(t, mon.AddPinned(model.Resource{Name: "scraper", Available: true}))
	require.NoError(t, mon.AddPinned(model.Resource{Name: "mailer", Available: true}))
	assert.ErrorIs(t, mon.AddPinned(model.Resource{Name: "mailer"}), model.ErrDuplicateResource)

	for _, name := range []string{"scraper", "mailer"} {
		res, _ := reg.Get(name)
		assert.True(t, res.Pinned, name)
		assert.True(t, res.Loading, name)
		assert.False(t, res.Available, name)
	}
	assert.Empty(t, reg.List())

	require.NoError(t, mon.Probe(context.Background()))

	scraper, _ := reg.Get("scraper")
	assert.True(t, scraper.Available)
	assert.False(t, scraper.Loading)

	mailer, _ := reg.Get("mailer")
	assert.True(t, mailer.Loading, "a failing probe keeps the resource loading")
	assert.False(t, mailer.Available)
	assert.Zero(t, mailer.Performance.ErrorCount)
}

func TestAddPinned_WithoutProberIsAvailable(t *testing.T) {
	reg := registry.New(nil)
	mon := NewMonitor(reg, nil, DefaultConfig(), nil)

	require.NoError(t, mon.AddPinned(model.Resource{Name: "scraper", Available: true}))
	res, _ := reg.Get("scraper")
	assert.True(t, res.Available)
	assert.False(t, res.Loading)
}

func TestUpdateMetrics(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(model.Resource{Name: "llama3", Available: true}))
	mon := NewMonitor(reg, nil, DefaultConfig(), nil)

	require.NoError(t, mon.UpdateMetrics("llama3", 100, true))
	require.NoError(t, mon.UpdateMetrics("llama3", 300, false))

	res, _ := reg.Get("llama3")
	assert.Equal(t, 2, res.Performance.ResponseCount)
	assert.Equal(t, 1, res.Performance.ErrorCount)
	assert.Equal(t, 200.0, res.Performance.AverageResponseTimeMs)
	assert.NotNil(t, res.Performance.LastUsedAt)

	assert.ErrorIs(t, mon.UpdateMetrics("missing", 1, true), model.ErrResourceNotFound)
}

func TestStartStop(t *testing.T) {
	prov := &fakeProvider{}
	prov.set(nil, "llama3")
	reg := registry.New(nil)
	mon := NewMonitor(reg, prov, Config{ProbeInterval: 10 * time.Millisecond, RefreshInterval: time.Hour}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- mon.Start(context.Background()) }()

	require.Eventually(t, func() bool { return prov.pingCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, mon.Healthy())
	assert.Len(t, reg.List(), 1)

	require.NoError(t, mon.Stop())
	assert.NoError(t, <-errCh)
}

func TestStart_ContextCancel(t *testing.T) {
	mon := NewMonitor(registry.New(nil), &fakeProvider{}, Config{ProbeInterval: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mon.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []model.ResourceStatus
}

func (s *recordingSink) PutResourceStatus(_ context.Context, st model.ResourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

func TestProbe_PublishesStatus(t *testing.T) {
	reg := registry.New(nil)
	p := &fakeProvider{}
	p.set(errors.New("connection refused"))
	sink := &recordingSink{}
	m := NewMonitor(reg, p, DefaultConfig(), nil, WithStatusSink(sink))

	_ = m.Probe(context.Background())
	p.set(nil)
	require.NoError(t, m.Probe(context.Background()))

	require.Len(t, sink.statuses, 2)
	assert.False(t, sink.statuses[0].Healthy)
	assert.Equal(t, "connection refused", sink.statuses[0].LastError)
	assert.True(t, sink.statuses[1].Healthy)
	assert.NotNil(t, sink.statuses[1].LastProbeAt)
}
