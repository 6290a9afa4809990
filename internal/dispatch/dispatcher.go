package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/internal/payloadexpr"
	"github.com/me/orchestra/pkg/model"
)

// ErrClosed is recorded on tasks submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

// Invoker is the external call boundary. Implementations should honor ctx,
// but the dispatcher does not rely on it: once ctx expires the call is
// abandoned and may keep running until the external system gives up.
type Invoker interface {
	Invoke(ctx context.Context, res model.Resource, payload model.Payload) (model.InvokeResult, error)
}

// Selector chooses the resource a task runs on.
type Selector interface {
	Select(task model.Task) (model.Resource, string, error)
}

// MetricsUpdater receives every invocation outcome.
type MetricsUpdater interface {
	UpdateMetrics(name string, durationMs float64, success bool) error
}

// Recorder stores sealed records.
type Recorder interface {
	Append(rec model.ExecutionRecord)
}

// Expander rewrites a payload before invocation.
type Expander interface {
	Expand(p model.Payload, ctx payloadexpr.Context) (model.Payload, error)
}

// Config holds dispatcher configuration.
type Config struct {
	MaxConcurrent  int           // workers, i.e. the global in-flight ceiling
	QueueSize      int           // buffered submissions before Submit blocks
	DefaultTimeout time.Duration // used when a task has no timeout of its own
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  3,
		QueueSize:      256,
		DefaultTimeout: 60 * time.Second,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithExpander replaces the payload expander.
func WithExpander(e Expander) Option {
	return func(d *Dispatcher) { d.expander = e }
}

type job struct {
	ctx  context.Context
	task model.Task
	done chan *model.ExecutionRecord
}

// Dispatcher runs tasks on a fixed pool of MaxConcurrent workers fed by a
// FIFO queue. Every task produces exactly one sealed ExecutionRecord.
type Dispatcher struct {
	selector Selector
	invoker  Invoker
	updater  MetricsUpdater
	recorder Recorder
	expander Expander
	metrics  *metrics.Metrics
	config   Config
	logger   *slog.Logger

	queue  chan *job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	runMu   sync.Mutex
	running map[string]model.ExecutionRecord
}

// New creates a dispatcher and starts its workers.
func New(sel Selector, inv Invoker, upd MetricsUpdater, rec Recorder, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	d := &Dispatcher{
		selector: sel,
		invoker:  inv,
		updater:  upd,
		recorder: rec,
		expander: payloadexpr.NewEvaluator(),
		config:   cfg,
		logger:   logging.OrDiscard(logger).With("component", "dispatcher"),
		queue:    make(chan *job, cfg.QueueSize),
		running:  make(map[string]model.ExecutionRecord),
	}
	for _, o := range opts {
		o(d)
	}
	for i := 0; i < cfg.MaxConcurrent; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("dispatcher started", "max_concurrent", cfg.MaxConcurrent, "queue_size", cfg.QueueSize)
	return d
}

// Dispatch runs task and waits for its sealed record. It never fails: every
// error ends up on the record.
func (d *Dispatcher) Dispatch(ctx context.Context, task model.Task) *model.ExecutionRecord {
	return <-d.Submit(ctx, task)
}

// Submit queues task and returns a channel that receives its sealed record.
// Submit blocks while the queue is full, in FIFO order with other callers.
func (d *Dispatcher) Submit(ctx context.Context, task model.Task) <-chan *model.ExecutionRecord {
	j := &job{ctx: ctx, task: task, done: make(chan *model.ExecutionRecord, 1)}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.reject(j, ErrClosed)
		return j.done
	}
	select {
	case d.queue <- j:
		d.metrics.SetQueueDepth(len(d.queue))
	case <-ctx.Done():
		d.reject(j, contextError(ctx, d.config.DefaultTimeout))
	}
	return j.done
}

// reject seals a record for a task that never reached a worker.
func (d *Dispatcher) reject(j *job, err error) {
	now := time.Now().UTC()
	rec := model.NewExecutionRecord(j.task, now)
	rec.Seal(now, err)
	d.logger.Warn("dispatch rejected", "task_ref", j.task.TaskRef, "job_id", rec.JobID, "error", err)
	d.record(rec)
	j.done <- rec
}

// Close stops accepting work, lets queued tasks finish, and waits for the
// workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		j.done <- d.run(j)
	}
}

func (d *Dispatcher) run(j *job) *model.ExecutionRecord {
	task := j.task
	rec := model.NewExecutionRecord(task, time.Now().UTC())
	d.track(rec)
	d.metrics.RecordDispatchStart()
	logger := d.logger.With("job_id", rec.JobID, "task_ref", task.TaskRef, "manual", task.Manual)

	if j.ctx.Err() != nil {
		return d.finish(logger, rec, contextError(j.ctx, d.config.DefaultTimeout), nil)
	}

	res, reason, err := d.selector.Select(task)
	if err != nil {
		return d.finish(logger, rec, err, nil)
	}
	rec.ResourceName = res.Name
	rec.Reason = reason
	d.track(rec)

	payload, err := d.expander.Expand(task.Payload, payloadexpr.Context{
		Now:      rec.StartTime,
		Task:     task,
		Resource: res.Name,
	})
	if err != nil {
		return d.finish(logger, rec, err, nil)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = d.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(j.ctx, timeout)
	result, err := d.invoke(ctx, res, payload, timeout)
	cancel()
	if err == nil {
		rec.Result = result.Output
	}

	// A caller that gave up says nothing about the resource.
	if err != nil && j.ctx.Err() != nil {
		logger.Info("caller abandoned dispatch, profile not updated", "resource", res.Name, "cause", j.ctx.Err())
		return d.finish(logger, rec, err, nil)
	}
	return d.finish(logger, rec, err, &result)
}

// invoke calls the invoker and gives up when ctx ends, whether or not the
// invoker returns.
func (d *Dispatcher) invoke(ctx context.Context, res model.Resource, payload model.Payload, timeout time.Duration) (model.InvokeResult, error) {
	type outcome struct {
		result model.InvokeResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("invoker panic: %v", r)}
			}
		}()
		result, err := d.invoker.Invoke(ctx, res, payload)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case o := <-ch:
		if o.err == nil {
			return o.result, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.result, fmt.Errorf("%w: %s after %s", model.ErrDispatchTimeout, res.Name, timeout)
		}
		return o.result, fmt.Errorf("%w: %s: %w", model.ErrExternalCallFailure, res.Name, o.err)
	case <-ctx.Done():
		return model.InvokeResult{}, contextError(ctx, timeout)
	}
}

// finish seals rec, feeds the outcome back, and records it. outcome is nil
// when the resource's profile must not change: no resource was called, or
// the caller abandoned the call.
func (d *Dispatcher) finish(logger *slog.Logger, rec *model.ExecutionRecord, err error, outcome *model.InvokeResult) *model.ExecutionRecord {
	rec.Seal(time.Now().UTC(), err)
	d.untrack(rec.JobID)

	if outcome != nil && d.updater != nil {
		durationMs := rec.DurationMs
		if err == nil && outcome.DurationMs > 0 {
			durationMs = outcome.DurationMs
		}
		if uerr := d.updater.UpdateMetrics(rec.ResourceName, durationMs, err == nil); uerr != nil {
			logger.Warn("update metrics failed", "resource", rec.ResourceName, "error", uerr)
		}
	}
	d.record(rec)
	d.metrics.RecordDispatchComplete(rec.ResourceName, string(rec.Status), string(rec.ErrorKind),
		time.Duration(rec.DurationMs*float64(time.Millisecond)))

	if err != nil {
		logger.Warn("dispatch failed", "resource", rec.ResourceName, "error_kind", rec.ErrorKind,
			"duration_ms", rec.DurationMs, "error", err)
	} else {
		logger.Info("dispatch completed", "resource", rec.ResourceName, "reason", rec.Reason,
			"duration_ms", rec.DurationMs)
	}
	return rec
}

func (d *Dispatcher) record(rec *model.ExecutionRecord) {
	if d.recorder != nil {
		d.recorder.Append(*rec)
	}
}

func (d *Dispatcher) track(rec *model.ExecutionRecord) {
	d.runMu.Lock()
	d.running[rec.JobID] = *rec
	d.runMu.Unlock()
}

func (d *Dispatcher) untrack(jobID string) {
	d.runMu.Lock()
	delete(d.running, jobID)
	d.runMu.Unlock()
}

// Running returns the records currently executing.
func (d *Dispatcher) Running() []model.ExecutionRecord {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	out := make([]model.ExecutionRecord, 0, len(d.running))
	for _, r := range d.running {
		out = append(out, r)
	}
	return out
}

// InFlight returns the number of records currently executing.
func (d *Dispatcher) InFlight() int {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return len(d.running)
}

// QueueDepth returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func contextError(ctx context.Context, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", model.ErrDispatchTimeout, timeout)
	}
	return fmt.Errorf("%w: %w", model.ErrExternalCallFailure, ctx.Err())
}
