package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are Unix nanoseconds; NULL means the transition never happened.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		plan TEXT NOT NULL DEFAULT '',
		jobs INTEGER NOT NULL,
		keep_going INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER,
		finished_at INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_actions (
		run_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		label TEXT NOT NULL,
		status INTEGER NOT NULL,
		ready_at INTEGER,
		started_at INTEGER,
		succeeded_at INTEGER,
		failed_at INTEGER,
		canceled_at INTEGER,
		output BLOB,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, action_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS run_dependencies (
		run_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (run_id, action_id, depends_on_id),
		FOREIGN KEY (run_id, action_id) REFERENCES run_actions(run_id, action_id) ON DELETE CASCADE,
		FOREIGN KEY (run_id, depends_on_id) REFERENCES run_actions(run_id, action_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_dependencies_action ON run_dependencies(run_id, action_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
