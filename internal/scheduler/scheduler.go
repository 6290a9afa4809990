// Package scheduler arms cron entries for schedules and hands fired tasks to
// the dispatcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/pkg/model"
)

// Dispatcher runs a task to completion and returns its sealed record.
type Dispatcher interface {
	Dispatch(ctx context.Context, task model.Task) *model.ExecutionRecord
}

// TaskCatalog resolves task refs.
type TaskCatalog interface {
	Get(ref string) (model.TaskDefinition, error)
}

// ScheduleStore persists schedules. store.Store satisfies it.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *model.Schedule) error
	ListSchedules(ctx context.Context) ([]*model.Schedule, error)
	UpdateSchedule(ctx context.Context, s *model.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

// Config holds scheduler configuration.
type Config struct {
	// Location is the time zone cron expressions are evaluated in.
	Location *time.Location
	// PersistTimeout bounds store writes made from cron callbacks.
	PersistTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Location: time.Local, PersistTimeout: 5 * time.Second}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records trigger outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithStore persists schedules. Without a store schedules live in memory only.
func WithStore(st ScheduleStore) Option {
	return func(s *Scheduler) { s.store = st }
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a standard five-field expression, a six-field expression
// with leading seconds, or a descriptor such as @hourly.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", model.ErrInvalidCronExpression, expr, err)
	}
	return sched, nil
}

type entry struct {
	sched  model.Schedule
	spec   cron.Schedule
	cronID cron.EntryID
	// gen changes on every arm and disarm; a callback whose generation no
	// longer matches was fired for an entry that has since been disarmed.
	gen     uint64
	armed   bool
	running bool
}

// Scheduler owns the schedules and their cron entries. Each schedule runs at
// most one dispatch at a time; triggers that arrive while one is in flight
// are skipped.
type Scheduler struct {
	catalog    TaskCatalog
	dispatcher Dispatcher
	store      ScheduleStore
	metrics    *metrics.Metrics
	config     Config
	logger     *slog.Logger

	cron   *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	names   map[string]string // name -> id

	// persistMu orders store updates of existing schedules. Acquired
	// before mu.
	persistMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a scheduler. Cron entries are armed immediately but only fire
// once Start is running.
func New(catalog TaskCatalog, disp Dispatcher, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	logger = logging.OrDiscard(logger).With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		catalog:    catalog,
		dispatcher: disp,
		config:     cfg,
		logger:     logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(logging.CronLogger(logger)),
		),
		runCtx:  ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		names:   make(map[string]string),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs the cron loop. Blocks until ctx is cancelled or Stop is called,
// then waits for in-flight scheduled dispatches to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	defer close(s.doneCh)
	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", s.count(), "location", s.config.Location.String())

	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("scheduler stopping (context cancelled)")
		err = ctx.Err()
	case <-s.stopCh:
		s.logger.Info("scheduler stopping (stop called)")
	}

	<-s.cron.Stop().Done()
	s.cancel()
	s.logger.Info("scheduler stopped")
	return err
}

// Stop ends the cron loop and waits for Start to return.
// It must only be called after Start.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	return nil
}

// ScheduleOption sets optional schedule fields on create.
type ScheduleOption func(*model.Schedule)

// WithDescription sets the schedule description.
func WithDescription(d string) ScheduleOption {
	return func(s *model.Schedule) { s.Description = d }
}

// WithParams sets the params passed to every dispatch of the schedule.
func WithParams(p map[string]any) ScheduleOption {
	return func(s *model.Schedule) { s.Params = p }
}

// Disabled creates the schedule without arming it.
func Disabled() ScheduleOption {
	return func(s *model.Schedule) { s.Enabled = false }
}

// CreateSchedule validates, persists and (unless disabled) arms a schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, name, cronExpr, taskRef string, opts ...ScheduleOption) (*model.Schedule, error) {
	if name == "" {
		return nil, errors.New("schedule name is required")
	}
	spec, err := ParseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalog.Get(taskRef); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sched := model.Schedule{
		ID:             "sch_" + uuid.New().String(),
		Name:           name,
		CronExpression: cronExpr,
		TaskRef:        taskRef,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, o := range opts {
		o(&sched)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateName, name)
	}
	if s.store != nil {
		if err := s.store.CreateSchedule(ctx, &sched); err != nil {
			return nil, fmt.Errorf("persist schedule %s: %w", name, err)
		}
	}

	e := &entry{sched: sched, spec: spec}
	s.entries[sched.ID] = e
	s.names[name] = sched.ID
	if sched.Enabled {
		s.arm(e)
	}
	s.logger.Info("schedule created", "id", sched.ID, "name", name, "cron", cronExpr,
		"task_ref", taskRef, "enabled", sched.Enabled)
	return s.view(e), nil
}

// Load arms every persisted schedule. Schedules whose cron expression no
// longer parses are skipped with a warning.
func (s *Scheduler) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	list, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, sched := range list {
		if _, ok := s.entries[sched.ID]; ok {
			continue
		}
		spec, err := ParseCron(sched.CronExpression)
		if err != nil {
			s.logger.Warn("skipping stored schedule", "id", sched.ID, "name", sched.Name, "error", err)
			continue
		}
		if _, err := s.catalog.Get(sched.TaskRef); err != nil {
			s.logger.Warn("stored schedule refers to unknown task", "id", sched.ID, "task_ref", sched.TaskRef)
		}
		e := &entry{sched: *sched, spec: spec}
		s.entries[sched.ID] = e
		s.names[sched.Name] = sched.ID
		if sched.Enabled {
			s.arm(e)
		}
		loaded++
	}
	s.logger.Info("schedules loaded", "count", loaded)
	return nil
}

// LoadDefaults creates the given schedules, skipping names that already
// exist. It returns how many were created.
func (s *Scheduler) LoadDefaults(ctx context.Context, specs []model.ScheduleSpec) (int, error) {
	var errs []error
	created := 0
	for _, sp := range specs {
		s.mu.Lock()
		_, exists := s.names[sp.Name]
		s.mu.Unlock()
		if exists {
			continue
		}
		opts := []ScheduleOption{WithDescription(sp.Description), WithParams(sp.Params)}
		if sp.Disabled {
			opts = append(opts, Disabled())
		}
		if _, err := s.CreateSchedule(ctx, sp.Name, sp.Cron, sp.TaskRef, opts...); err != nil {
			errs = append(errs, fmt.Errorf("default schedule %s: %w", sp.Name, err))
			continue
		}
		created++
	}
	return created, errors.Join(errs...)
}

// Enable arms a schedule. Enabling an enabled schedule is a no-op.
func (s *Scheduler) Enable(ctx context.Context, id string) (*model.Schedule, error) {
	return s.setEnabled(ctx, id, true)
}

// Disable disarms a schedule. Once Disable returns no new dispatch of the
// schedule will start, even for a trigger that fired concurrently.
func (s *Scheduler) Disable(ctx context.Context, id string) (*model.Schedule, error) {
	return s.setEnabled(ctx, id, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) (*model.Schedule, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, model.ErrScheduleNotFound)
	}
	if e.sched.Enabled == enabled {
		return s.view(e), nil
	}

	updated := e.sched
	updated.Enabled = enabled
	updated.UpdatedAt = time.Now().UTC()
	if s.store != nil {
		if err := s.store.UpdateSchedule(ctx, &updated); err != nil {
			return nil, fmt.Errorf("persist schedule %s: %w", id, err)
		}
	}
	e.sched = updated
	if enabled {
		s.arm(e)
	} else {
		s.disarm(e)
	}
	s.logger.Info("schedule updated", "id", id, "name", e.sched.Name, "enabled", enabled)
	return s.view(e), nil
}

// Remove disarms and deletes a schedule.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, model.ErrScheduleNotFound)
	}
	if s.store != nil {
		if err := s.store.DeleteSchedule(ctx, id); err != nil && !errors.Is(err, model.ErrScheduleNotFound) {
			return fmt.Errorf("delete schedule %s: %w", id, err)
		}
	}
	s.disarm(e)
	delete(s.entries, id)
	delete(s.names, e.sched.Name)
	s.logger.Info("schedule removed", "id", id, "name", e.sched.Name)
	return nil
}

// Get returns a schedule by ID.
func (s *Scheduler) Get(id string) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, model.ErrScheduleNotFound)
	}
	return s.view(e), nil
}

// List returns all schedules ordered by creation time, then name.
func (s *Scheduler) List() []model.Schedule {
	s.mu.Lock()
	out := make([]model.Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *s.view(e))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// RunNow dispatches taskRef immediately as a manual run and waits for the
// sealed record. Manual runs do not touch any schedule.
func (s *Scheduler) RunNow(ctx context.Context, taskRef string, params map[string]any) (*model.ExecutionRecord, error) {
	def, err := s.catalog.Get(taskRef)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual run", "task_ref", taskRef)
	return s.dispatcher.Dispatch(ctx, def.NewTask(true, params)), nil
}

// arm registers a cron entry for e. Caller holds s.mu.
func (s *Scheduler) arm(e *entry) {
	if e.armed {
		return
	}
	e.gen++
	id, name, gen := e.sched.ID, e.sched.Name, e.gen
	e.cronID = s.cron.Schedule(e.spec, cron.FuncJob(func() { s.fire(id, name, gen) }))
	e.armed = true
}

// disarm removes e's cron entry. Caller holds s.mu.
func (s *Scheduler) disarm(e *entry) {
	if !e.armed {
		return
	}
	s.cron.Remove(e.cronID)
	e.gen++
	e.cronID = 0
	e.armed = false
}

// fire is the cron callback for one schedule. name labels metrics, so a
// trigger for a removed schedule is still attributable.
func (s *Scheduler) fire(id, name string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || !e.armed || e.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("ignoring stale trigger", "id", id, "name", name)
		s.metrics.RecordScheduleFire(name, "stale")
		return
	}
	if e.running {
		s.mu.Unlock()
		s.logger.Warn("skipping trigger, previous run still in flight", "id", id, "name", name)
		s.metrics.RecordScheduleFire(name, "skipped")
		return
	}
	e.running = true
	sched := e.sched
	s.mu.Unlock()

	rec, err := s.dispatchScheduled(sched)

	s.mu.Lock()
	e.running = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("scheduled dispatch not started", "id", id, "name", name, "error", err)
		s.metrics.RecordScheduleFire(name, "error")
		return
	}
	s.metrics.RecordScheduleFire(name, "dispatched")
	if cur, ok := s.entries[id]; rec.Status != model.ExecutionCompleted || !ok || cur != e {
		s.mu.Unlock()
		return
	}
	e.sched.LastRunAt = rec.EndTime
	e.sched.RunCount++
	e.sched.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.persistRunStats(id)
}

// persistRunStats writes the current state of schedule id without holding
// mu, so readers are not blocked by the store.
func (s *Scheduler) persistRunStats(id string) {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	e, ok := s.entries[id]
	var snap model.Schedule
	if ok {
		snap = e.sched
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.PersistTimeout)
	defer cancel()
	if err := s.store.UpdateSchedule(ctx, &snap); err != nil {
		s.logger.Warn("persist run stats failed", "id", id, "error", err)
	}
}

func (s *Scheduler) dispatchScheduled(sched model.Schedule) (*model.ExecutionRecord, error) {
	def, err := s.catalog.Get(sched.TaskRef)
	if err != nil {
		return nil, err
	}
	task := def.NewTask(false, sched.Params)
	task.ScheduleID = sched.ID
	s.logger.Info("schedule fired", "id", sched.ID, "name", sched.Name, "task_ref", sched.TaskRef)
	return s.dispatcher.Dispatch(s.runCtx, task), nil
}

// view copies e with its computed fields. Caller holds s.mu.
func (s *Scheduler) view(e *entry) *model.Schedule {
	out := e.sched
	switch {
	case e.running:
		out.State = model.ScheduleDispatching
	case e.armed:
		out.State = model.ScheduleArmed
	default:
		out.State = model.ScheduleDisabled
	}
	if e.armed {
		next := e.spec.Next(time.Now().In(s.config.Location))
		if !next.IsZero() {
			next = next.UTC()
			out.NextRun = &next
		}
	}
	return &out
}

func (s *Scheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
