package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all orchestra tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS schedules (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		cron        TEXT NOT NULL,
		task_ref    TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		enabled     INTEGER NOT NULL DEFAULT 1,
		params      TEXT NOT NULL DEFAULT '{}',
		last_run_at TEXT,
		run_count   INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS executions (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id        TEXT NOT NULL UNIQUE,
		task_ref      TEXT NOT NULL,
		task_type     TEXT NOT NULL,
		schedule_id   TEXT NOT NULL DEFAULT '',
		resource_name TEXT NOT NULL DEFAULT '',
		reason        TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		manual        INTEGER NOT NULL DEFAULT 0,
		start_time    TEXT NOT NULL,
		end_time      TEXT,
		duration_ms   REAL NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		error_kind    TEXT NOT NULL DEFAULT '',
		result        TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_executions_task_type ON executions(task_type)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_schedule_id ON executions(schedule_id)`,
}

// alterStatements add columns introduced after the first release.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
}{
	{"executions", "reason", `ALTER TABLE executions ADD COLUMN reason TEXT NOT NULL DEFAULT ''`},
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
