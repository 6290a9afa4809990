package model

import "time"

// Schedule binds a cron expression to a catalog task.
type Schedule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	CronExpression string         `json:"cron"`
	TaskRef        string         `json:"task_ref"`
	Description    string         `json:"description,omitempty"`
	Enabled        bool           `json:"enabled"`
	Params         map[string]any `json:"params,omitempty"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	RunCount       int            `json:"run_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Computed on read.
	NextRun *time.Time    `json:"next_run,omitempty"`
	State   ScheduleState `json:"state,omitempty"`
}

// ScheduleSpec is a schedule as written in seed configuration.
type ScheduleSpec struct {
	Name        string         `yaml:"name"`
	Cron        string         `yaml:"cron"`
	TaskRef     string         `yaml:"task_ref"`
	Description string         `yaml:"description"`
	Disabled    bool           `yaml:"disabled"`
	Params      map[string]any `yaml:"params"`
}
