package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gammazero/toposort"

	"github.com/aristath/actiontree/internal/scheduler"
)

// RunRecord is the archived form of one finished run.
type RunRecord struct {
	ID         string
	Root       string // Key of the root action
	Plan       string // Plan file the run came from, if any
	Jobs       int
	KeepGoing  bool
	Success    bool
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Actions    []ActionRecord // Dependencies before dependents
}

// ActionRecord is the archived status of one action.
type ActionRecord struct {
	Key         string
	Label       string
	Status      scheduler.Status
	ReadyTime   time.Time
	StartTime   time.Time
	SuccessTime time.Time
	FailureTime time.Time
	CancelTime  time.Time
	Output      []byte
	Error       string
	DependsOn   []string
}

// Duration is the time the action's behavior ran, zero if it never started.
func (a ActionRecord) Duration() time.Duration {
	var end time.Time
	switch a.Status {
	case scheduler.StatusSuccessful:
		end = a.SuccessTime
	case scheduler.StatusFailed:
		end = a.FailureTime
	case scheduler.StatusCanceled:
		end = a.CancelTime
	}
	if a.StartTime.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(a.StartTime)
}

// RunSummary is one line of the run history.
type RunSummary struct {
	ID         string
	Root       string
	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Actions    int
	Failed     int
}

// NewRunRecord converts a report into a record. keyOf names actions; nil
// uses the node ID. Return values are not archived.
func NewRunRecord(id string, report *scheduler.Report, keyOf func(*scheduler.Action) string) *RunRecord {
	g := report.Graph()
	if keyOf == nil {
		keyOf = func(a *scheduler.Action) string {
			nid, _ := g.Lookup(a)
			return strconv.Itoa(int(nid))
		}
	}

	run := &RunRecord{
		ID:         id,
		Root:       keyOf(g.Root()),
		Success:    report.IsSuccess(),
		StartedAt:  report.BeginTime(),
		FinishedAt: report.EndTime(),
	}

	for _, e := range report.Entries() {
		rec := ActionRecord{
			Key:         keyOf(e.Action),
			Label:       e.Action.Label(),
			Status:      e.Status,
			ReadyTime:   e.ReadyTime,
			StartTime:   e.StartTime,
			SuccessTime: e.SuccessTime,
			FailureTime: e.FailureTime,
			CancelTime:  e.CancelTime,
			Output:      e.Output,
		}
		if e.Err != nil {
			rec.Error = e.Err.Error()
		}
		for _, dep := range g.Node(e.Node).Dependencies {
			rec.DependsOn = append(rec.DependsOn, keyOf(g.Node(dep).Action))
		}
		run.Actions = append(run.Actions, rec)
	}

	return run
}

// SaveRun archives a run, replacing any earlier record with the same ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Cascades to actions and dependencies
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to delete old run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, root, plan, jobs, keep_going, success, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Root, run.Plan, run.Jobs, run.KeepGoing, run.Success, run.Error,
		toNanos(run.StartedAt), toNanos(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, a := range run.Actions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_actions (run_id, action_id, position, label, status,
				ready_at, started_at, succeeded_at, failed_at, canceled_at, output, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, a.Key, i, a.Label, int(a.Status),
			toNanos(a.ReadyTime), toNanos(a.StartTime), toNanos(a.SuccessTime),
			toNanos(a.FailureTime), toNanos(a.CancelTime), a.Output, a.Error)
		if err != nil {
			return fmt.Errorf("failed to insert action %s: %w", a.Key, err)
		}
	}

	// Edges go in after every action so the foreign keys resolve
	for _, a := range run.Actions {
		for i, dep := range a.DependsOn {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO run_dependencies (run_id, action_id, depends_on_id, position)
				VALUES (?, ?, ?, ?)
			`, run.ID, a.Key, dep, i)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", a.Key, dep, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetRun loads an archived run. Actions come back with dependencies before
// dependents; an archive whose edges form a cycle is reported as corrupt.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	run := &RunRecord{}
	var started, finished sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, root, plan, jobs, keep_going, success, error, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(&run.ID, &run.Root, &run.Plan, &run.Jobs, &run.KeepGoing, &run.Success, &run.Error, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)

	actions, err := s.loadActions(ctx, runID)
	if err != nil {
		return nil, err
	}

	if err := s.loadDependencies(ctx, runID, actions); err != nil {
		return nil, err
	}

	ordered, err := orderActions(actions)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	run.Actions = ordered

	return run, nil
}

func (s *SQLiteStore) loadActions(ctx context.Context, runID string) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, label, status, ready_at, started_at, succeeded_at, failed_at, canceled_at, output, error
		FROM run_actions
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []ActionRecord
	for rows.Next() {
		var a ActionRecord
		var status int
		var ready, start, success, failure, cancel sql.NullInt64
		if err := rows.Scan(&a.Key, &a.Label, &status, &ready, &start, &success, &failure, &cancel, &a.Output, &a.Error); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.Status = scheduler.Status(status)
		a.ReadyTime = fromNanos(ready)
		a.StartTime = fromNanos(start)
		a.SuccessTime = fromNanos(success)
		a.FailureTime = fromNanos(failure)
		a.CancelTime = fromNanos(cancel)
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate actions: %w", err)
	}

	return actions, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, runID string, actions []ActionRecord) error {
	index := make(map[string]int, len(actions))
	for i, a := range actions {
		index[a.Key] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, depends_on_id
		FROM run_dependencies
		WHERE run_id = ?
		ORDER BY action_id, position
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var actionID, depID string
		if err := rows.Scan(&actionID, &depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		i, ok := index[actionID]
		if !ok {
			return fmt.Errorf("dependency of unknown action %s", actionID)
		}
		actions[i].DependsOn = append(actions[i].DependsOn, depID)
	}

	return rows.Err()
}

// orderActions sorts actions so every dependency precedes its dependents.
func orderActions(actions []ActionRecord) ([]ActionRecord, error) {
	index := make(map[string]int, len(actions))
	var edges []toposort.Edge
	for i, a := range actions {
		index[a.Key] = i
		edges = append(edges, toposort.Edge{nil, a.Key})
		for _, dep := range a.DependsOn {
			edges = append(edges, toposort.Edge{dep, a.Key})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("corrupt archive: %w", err)
	}

	ordered := make([]ActionRecord, 0, len(actions))
	for _, key := range sorted {
		if key == nil {
			continue
		}
		i, ok := index[key.(string)]
		if !ok {
			continue
		}
		ordered = append(ordered, actions[i])
	}
	return ordered, nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.root, r.success, r.started_at, r.finished_at,
			COUNT(a.action_id),
			COALESCE(SUM(CASE WHEN a.status = ? THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN run_actions a ON a.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.created_at DESC
		LIMIT ?
	`, int(scheduler.StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Root, &r.Success, &started, &finished, &r.Actions, &r.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = fromNanos(started)
		r.FinishedAt = fromNanos(finished)
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// DeleteRun removes a run and its actions.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func toNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64)
}
