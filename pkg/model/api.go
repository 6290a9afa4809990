package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	Success   bool      `json:"success"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// HistoryOptions configures history queries.
type HistoryOptions struct {
	Limit int
}

// DefaultHistoryLimit is used when a caller does not ask for a specific count.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps a single history query.
const MaxHistoryLimit = 1000

// Clamp enforces limits (max MaxHistoryLimit, min 1).
func (o *HistoryOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = DefaultHistoryLimit
	}
	if o.Limit > MaxHistoryLimit {
		o.Limit = MaxHistoryLimit
	}
}

// CreateScheduleRequest is the body of POST /schedules.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	Cron        string         `json:"cron"`
	TaskRef     string         `json:"task_ref"`
	Description string         `json:"description,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// RunRequest is the optional body of POST /run/{taskRef}.
type RunRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

// ResourceStatus is the payload of GET /resources/status.
type ResourceStatus struct {
	Healthy     bool       `json:"healthy"`
	LastProbeAt *time.Time `json:"last_probe_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Resources   []Resource `json:"resources"`
}
