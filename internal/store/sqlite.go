package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.OrDiscard(logger).With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Schedule CRUD ---

const scheduleColumns = `id, name, cron, task_ref, description, enabled, params, last_run_at, run_count, created_at, updated_at`

func (s *SQLiteStore) CreateSchedule(ctx context.Context, sch *model.Schedule) error {
	s.logger.Debug("sql", "op", "insert", "table", "schedules", "id", sch.ID)

	paramsJSON, err := marshalParams(sch.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.Name, sch.CronExpression, sch.TaskRef, sch.Description, boolToInt(sch.Enabled),
		paramsJSON, formatTimePtr(sch.LastRunAt), sch.RunCount,
		sch.CreatedAt.Format(time.RFC3339Nano), sch.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	s.logger.Debug("sql", "op", "select", "table", "schedules", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	return s.scanSchedule(row)
}

func (s *SQLiteStore) GetScheduleByName(ctx context.Context, name string) (*model.Schedule, error) {
	s.logger.Debug("sql", "op", "select_by_name", "table", "schedules", "name", name)
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	return s.scanSchedule(row)
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*model.Schedule, error) {
	s.logger.Debug("sql", "op", "list", "table", "schedules")

	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Schedule
	for rows.Next() {
		sch, err := s.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sch *model.Schedule) error {
	s.logger.Debug("sql", "op", "update", "table", "schedules", "id", sch.ID)

	paramsJSON, err := marshalParams(sch.Params)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET name=?, cron=?, task_ref=?, description=?, enabled=?, params=?,
		 last_run_at=?, run_count=?, updated_at=? WHERE id=?`,
		sch.Name, sch.CronExpression, sch.TaskRef, sch.Description, boolToInt(sch.Enabled), paramsJSON,
		formatTimePtr(sch.LastRunAt), sch.RunCount, sch.UpdatedAt.Format(time.RFC3339Nano), sch.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule %s: %w", sch.ID, model.ErrScheduleNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "schedules", "id", id)

	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule %s: %w", id, model.ErrScheduleNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSchedule returns nil, nil when row holds no result.
func (s *SQLiteStore) scanSchedule(row scanner) (*model.Schedule, error) {
	var sch model.Schedule
	var enabled int
	var paramsJSON, createdAt, updatedAt string
	var lastRunAt *string

	err := row.Scan(&sch.ID, &sch.Name, &sch.CronExpression, &sch.TaskRef, &sch.Description,
		&enabled, &paramsJSON, &lastRunAt, &sch.RunCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sch.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(paramsJSON), &sch.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if len(sch.Params) == 0 {
		sch.Params = nil
	}
	sch.LastRunAt = parseTimePtr(lastRunAt)
	sch.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sch.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &sch, nil
}

// --- Execution records ---

const executionColumns = `job_id, task_ref, task_type, schedule_id, resource_name, reason, status, manual,
	start_time, end_time, duration_ms, error, error_kind, result`

// AppendExecution stores a sealed record. It satisfies history.Sink.
func (s *SQLiteStore) AppendExecution(ctx context.Context, rec model.ExecutionRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "executions", "job_id", rec.JobID)

	var result *string
	if len(rec.Result) > 0 {
		r := string(rec.Result)
		result = &r
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.TaskRef, rec.TaskType, rec.ScheduleID, rec.ResourceName, rec.Reason,
		string(rec.Status), boolToInt(rec.Manual),
		rec.StartTime.Format(time.RFC3339Nano), formatTimePtr(rec.EndTime), rec.DurationMs,
		rec.Error, string(rec.ErrorKind), result,
	)
	return err
}

// GetExecution returns the record for jobID, or nil if it was never stored.
func (s *SQLiteStore) GetExecution(ctx context.Context, jobID string) (*model.ExecutionRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "executions", "job_id", jobID)
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE job_id = ?`, jobID)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListExecutions returns up to limit records, most recently appended first.
// It satisfies history.Querier.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit int) ([]model.ExecutionRecord, error) {
	opts := model.HistoryOptions{Limit: limit}
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "table", "executions", "limit", opts.Limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY seq DESC LIMIT ?`, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanExecution(row scanner) (model.ExecutionRecord, error) {
	var rec model.ExecutionRecord
	var status, errorKind, startTime string
	var manual int
	var endTime, result *string

	if err := row.Scan(&rec.JobID, &rec.TaskRef, &rec.TaskType, &rec.ScheduleID, &rec.ResourceName,
		&rec.Reason, &status, &manual, &startTime, &endTime, &rec.DurationMs,
		&rec.Error, &errorKind, &result); err != nil {
		return rec, err
	}
	rec.Status = model.ExecutionStatus(status)
	rec.ErrorKind = model.ErrorKind(errorKind)
	rec.Manual = manual != 0
	rec.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	rec.EndTime = parseTimePtr(endTime)
	if result != nil {
		rec.Result = json.RawMessage(*result)
	}
	return rec, nil
}

func marshalParams(params map[string]any) (string, error) {
	if params == nil {
		return "{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
