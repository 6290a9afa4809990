package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionRecord captures one dispatch attempt. It is created running and
// sealed exactly once; a sealed record is never mutated again.
type ExecutionRecord struct {
	JobID        string          `json:"job_id"`
	TaskRef      string          `json:"task_ref"`
	TaskType     string          `json:"task_type"`
	ScheduleID   string          `json:"schedule_id,omitempty"`
	ResourceName string          `json:"resource_name,omitempty"`
	Reason       string          `json:"selection_reason,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Manual       bool            `json:"manual"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	DurationMs   float64         `json:"duration_ms"`
	Error        string          `json:"error,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// NewExecutionRecord opens a running record for task.
func NewExecutionRecord(task Task, start time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		JobID:      "job_" + uuid.New().String(),
		TaskRef:    task.TaskRef,
		TaskType:   task.TaskType,
		ScheduleID: task.ScheduleID,
		Status:     ExecutionRunning,
		Manual:     task.Manual,
		StartTime:  start,
	}
}

// Sealed reports whether the record reached a terminal status.
func (r *ExecutionRecord) Sealed() bool {
	return r.Status.IsTerminal()
}

// Seal moves the record to completed (err == nil) or failed. Sealing an
// already sealed record is a no-op.
func (r *ExecutionRecord) Seal(end time.Time, err error) {
	if r.Sealed() {
		return
	}
	r.EndTime = &end
	r.DurationMs = float64(end.Sub(r.StartTime).Microseconds()) / 1000
	if err != nil {
		r.Status = ExecutionFailed
		r.Error = err.Error()
		r.ErrorKind = KindOf(err)
		return
	}
	r.Status = ExecutionCompleted
}
