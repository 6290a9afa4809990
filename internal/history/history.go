package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/pkg/model"
)

// DefaultCapacity is the number of sealed records kept in memory.
const DefaultCapacity = 500

// DefaultSinkBuffer is the number of records waiting for the sink writer
// before Append starts dropping sink writes.
const DefaultSinkBuffer = 1024

// Sink receives every appended record, e.g. the SQLite store or the redis mirror.
type Sink interface {
	AppendExecution(ctx context.Context, rec model.ExecutionRecord) error
}

// Querier is a durable source used when the ring holds fewer records than asked for.
type Querier interface {
	ListExecutions(ctx context.Context, limit int) ([]model.ExecutionRecord, error)
}

// Option configures a History.
type Option func(*History)

// WithSink mirrors appended records to s.
func WithSink(s Sink) Option {
	return func(h *History) { h.sinks = append(h.sinks, s) }
}

// WithQuerier backfills queries from q.
func WithQuerier(q Querier) Option {
	return func(h *History) { h.querier = q }
}

// WithSinkTimeout bounds each sink write.
func WithSinkTimeout(d time.Duration) Option {
	return func(h *History) { h.sinkTimeout = d }
}

// WithSinkBuffer sizes the queue in front of the sink writer.
func WithSinkBuffer(n int) Option {
	return func(h *History) { h.sinkBuffer = n }
}

// History is an append-only ring of sealed execution records. Once full,
// the oldest record is overwritten.
type History struct {
	mu    sync.RWMutex
	buf   []model.ExecutionRecord
	next  int // slot for the next append
	count int

	sinks       []Sink
	sinkTimeout time.Duration
	sinkBuffer  int
	querier     Querier
	logger      *slog.Logger

	// Guarded by mu. writes is nil without sinks.
	writes     chan model.ExecutionRecord
	closed     bool
	writerDone chan struct{}
}

// New creates a History holding up to capacity records.
func New(capacity int, logger *slog.Logger, opts ...Option) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &History{
		buf:         make([]model.ExecutionRecord, capacity),
		sinkTimeout: 5 * time.Second,
		sinkBuffer:  DefaultSinkBuffer,
		logger:      logging.OrDiscard(logger).With("component", "history"),
	}
	for _, o := range opts {
		o(h)
	}
	if len(h.sinks) > 0 {
		if h.sinkBuffer <= 0 {
			h.sinkBuffer = DefaultSinkBuffer
		}
		h.writes = make(chan model.ExecutionRecord, h.sinkBuffer)
		h.writerDone = make(chan struct{})
		go h.writeLoop()
	}
	return h
}

// Append stores a sealed record in the ring and queues it for the sinks.
// It never waits on a sink: when the queue is full the sink write is
// dropped and logged.
func (h *History) Append(rec model.ExecutionRecord) {
	dropped := false
	h.mu.Lock()
	h.buf[h.next] = rec
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	if h.writes != nil && !h.closed {
		select {
		case h.writes <- rec:
		default:
			dropped = true
		}
	}
	h.mu.Unlock()

	if dropped {
		h.logger.Warn("history sink queue full, record not mirrored", "job_id", rec.JobID)
	}
}

func (h *History) writeLoop() {
	defer close(h.writerDone)
	for rec := range h.writes {
		for _, s := range h.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), h.sinkTimeout)
			if err := s.AppendExecution(ctx, rec); err != nil {
				h.logger.Warn("history sink failed", "job_id", rec.JobID, "error", err)
			}
			cancel()
		}
	}
}

// Close stops mirroring and waits until every queued record has been
// written to the sinks. Appends after Close only reach the ring.
func (h *History) Close() {
	h.mu.Lock()
	if h.writes == nil || h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.writes)
	h.mu.Unlock()
	<-h.writerDone
}

// Len returns the number of records in memory.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Capacity returns the ring size.
func (h *History) Capacity() int {
	return len(h.buf)
}

// Recent returns up to limit in-memory records, newest first.
// limit <= 0 returns everything held.
func (h *History) Recent(limit int) []model.ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	out := make([]model.ExecutionRecord, 0, limit)
	idx := h.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// Query returns up to limit records newest first. When the ring cannot
// satisfy limit and a querier is configured, the durable store answers
// instead; on store failure the in-memory records are returned.
func (h *History) Query(ctx context.Context, limit int) ([]model.ExecutionRecord, error) {
	recent := h.Recent(limit)
	if h.querier == nil || len(recent) >= limit {
		return recent, nil
	}
	stored, err := h.querier.ListExecutions(ctx, limit)
	if err != nil {
		h.logger.Warn("history backfill failed", "error", err)
		return recent, nil
	}
	if len(stored) < len(recent) {
		return recent, nil
	}
	return stored, nil
}

// TaskStats summarizes outcomes for one task type.
type TaskStats struct {
	TaskType      string  `json:"task_type"`
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Stats computes per task type success rates over the in-memory records.
func (h *History) Stats() map[string]TaskStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]TaskStats)
	total := make(map[string]float64)
	idx := h.next
	for i := 0; i < h.count; i++ {
		idx = (idx - 1 + len(h.buf)) % len(h.buf)
		rec := h.buf[idx]
		s := out[rec.TaskType]
		s.TaskType = rec.TaskType
		s.Total++
		switch rec.Status {
		case model.ExecutionCompleted:
			s.Completed++
		case model.ExecutionFailed:
			s.Failed++
		}
		total[rec.TaskType] += rec.DurationMs
		out[rec.TaskType] = s
	}
	for k, s := range out {
		s.SuccessRate = float64(s.Completed) / float64(s.Total)
		s.AvgDurationMs = total[k] / float64(s.Total)
		out[k] = s
	}
	return out
}
