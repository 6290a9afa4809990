package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// PayloadKind discriminates the Payload variants.
type PayloadKind string

const (
	// PayloadGenerate is a prompt for an inference backend.
	PayloadGenerate PayloadKind = "generate"
	// PayloadHTTP is a call to a sibling HTTP service.
	PayloadHTTP PayloadKind = "http"
	// PayloadRaw is passed through to the invoker untouched.
	PayloadRaw PayloadKind = "raw"
)

// Payload is the typed body of a task. Only the fields of the active Kind are
// meaningful. String fields may contain $(...) expressions that are expanded
// at dispatch time.
type Payload struct {
	Kind PayloadKind `json:"kind" yaml:"kind"`

	// generate
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	System string `json:"system,omitempty" yaml:"system,omitempty"`

	// http
	Method string         `json:"method,omitempty" yaml:"method,omitempty"`
	Path   string         `json:"path,omitempty" yaml:"path,omitempty"`
	Body   map[string]any `json:"body,omitempty" yaml:"body,omitempty"`

	// raw
	Data json.RawMessage `json:"data,omitempty" yaml:"-"`
}

// Validate checks that the fields required by Kind are present.
func (p Payload) Validate() error {
	switch p.Kind {
	case PayloadGenerate:
		if p.Prompt == "" {
			return fmt.Errorf("%w: generate payload requires a prompt", ErrInvalidPayload)
		}
	case PayloadHTTP:
		if p.Path == "" {
			return fmt.Errorf("%w: http payload requires a path", ErrInvalidPayload)
		}
	case PayloadRaw:
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrInvalidPayload, p.Kind)
	}
	return nil
}

// TaskDefinition is a catalog entry that schedules and manual runs refer to by Ref.
type TaskDefinition struct {
	Ref          string        `json:"ref" yaml:"ref"`
	TaskType     string        `json:"task_type" yaml:"task_type"`
	PriorityHint PriorityHint  `json:"priority_hint,omitempty" yaml:"priority_hint"`
	Description  string        `json:"description,omitempty" yaml:"description"`
	Payload      Payload       `json:"payload" yaml:"payload"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// Validate checks a definition before it enters the catalog.
func (d TaskDefinition) Validate() error {
	if d.Ref == "" {
		return fmt.Errorf("task ref is required")
	}
	if d.TaskType == "" {
		return fmt.Errorf("task %s: task_type is required", d.Ref)
	}
	if !d.PriorityHint.Valid() {
		return fmt.Errorf("task %s: unknown priority hint %q", d.Ref, d.PriorityHint)
	}
	if err := d.Payload.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", d.Ref, err)
	}
	return nil
}

// NewTask builds the ephemeral Task for one dispatch of the definition.
func (d TaskDefinition) NewTask(manual bool, params map[string]any) Task {
	return Task{
		TaskRef:      d.Ref,
		TaskType:     d.TaskType,
		PriorityHint: d.PriorityHint,
		Payload:      d.Payload,
		Timeout:      d.Timeout,
		Manual:       manual,
		Params:       params,
	}
}

// Task is the unit handed to the dispatcher. It lives for one dispatch only.
type Task struct {
	TaskRef      string
	TaskType     string
	PriorityHint PriorityHint
	Payload      Payload
	Timeout      time.Duration
	Manual       bool
	ScheduleID   string
	Params       map[string]any
}

// InvokeResult is what an invoker returns for a successful call.
// DurationMs is the time the backend reports for the call; zero means the
// backend does not report one and wall-clock time is used instead.
type InvokeResult struct {
	Output     json.RawMessage `json:"output,omitempty"`
	DurationMs float64         `json:"duration_ms"`
}
