package store

import (
	"context"

	"github.com/me/orchestra/pkg/model"
)

// Store defines the persistence layer for schedules and execution records.
type Store interface {
	// Schedule CRUD
	CreateSchedule(ctx context.Context, s *model.Schedule) error
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	GetScheduleByName(ctx context.Context, name string) (*model.Schedule, error)
	ListSchedules(ctx context.Context) ([]*model.Schedule, error)
	UpdateSchedule(ctx context.Context, s *model.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error

	// Execution records are append-only.
	AppendExecution(ctx context.Context, rec model.ExecutionRecord) error
	GetExecution(ctx context.Context, jobID string) (*model.ExecutionRecord, error)
	ListExecutions(ctx context.Context, limit int) ([]model.ExecutionRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
