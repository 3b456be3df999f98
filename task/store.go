package task

import (
	"context"
	"database/sql"
	"time"

	"github.com/greenlonk/chime/errors"
)

// Store persists tasks in the tasks table.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const taskColumns = `id, title, description, topic, body, cron_expression, timezone,
	priority, status, tags, notes, misfire_grace_seconds,
	snoozed_until, completed_at, run_count, last_run, created_at, updated_at`

// Create inserts a new task. CreatedAt and UpdatedAt are stamped here;
// empty priority and status fall back to their defaults.
func (s *Store) Create(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusPending
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Description,
		t.Topic,
		t.Body,
		t.CronExpression,
		t.Timezone,
		t.Priority,
		t.Status,
		joinTags(t.Tags),
		t.Notes,
		int(t.MisfireGrace.Seconds()),
		nullableInstant(t.SnoozedUntil),
		nullableInstant(t.CompletedAt),
		t.RunCount,
		nullableInstant(t.LastRun),
		formatInstant(t.CreatedAt),
		formatInstant(t.UpdatedAt),
	)
	if err != nil {
		return storeErr(err, "failed to create task %s", t.ID)
	}
	return nil
}

// Get returns the task with the given id, or nil when no such task
// exists. Absence is a handled case, not an error.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "failed to get task %s", id)
	}
	return t, nil
}

// Filter narrows and orders List results. Zero values mean "no
// constraint"; Sort defaults to newest first.
type Filter struct {
	Status   string
	Priority string
	Sort     string // "created" (default), "title", or "priority"
}

// List returns tasks matching the filter.
func (s *Store) List(ctx context.Context, f Filter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []interface{}{}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}

	// The sort column is chosen from a fixed set, never interpolated
	// from user input.
	switch f.Sort {
	case "title":
		query += ` ORDER BY title ASC, rowid ASC`
	case "priority":
		query += ` ORDER BY CASE priority
			WHEN 'high' THEN 0
			WHEN 'medium' THEN 1
			ELSE 2 END ASC, created_at DESC, rowid DESC`
	default:
		query += ` ORDER BY created_at DESC, rowid DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "failed to list tasks")
	}
	defer rows.Close()

	return collectTasks(rows)
}

// Delete removes the task row. The schema cascades the delete to the
// task's scheduled job and history.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return storeErr(err, "failed to delete task %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr(err, "failed to check delete of task %s", id)
	}
	if rows == 0 {
		return errors.NewNotFoundError("task %s not found", id)
	}
	return nil
}

// IncrementRunStats bumps run_count and stamps last_run after a
// successful dispatch, returning the new count. A task deleted while
// its dispatch was in flight yields (0, nil): there is nothing left to
// record against.
func (s *Store) IncrementRunStats(ctx context.Context, id string, lastRun time.Time) (int, error) {
	query := `
		UPDATE tasks
		SET run_count = run_count + 1, last_run = ?, updated_at = ?
		WHERE id = ?`

	now := formatInstant(time.Now().UTC())
	result, err := s.db.ExecContext(ctx, query, formatInstant(lastRun), now, id)
	if err != nil {
		return 0, storeErr(err, "failed to update run stats for task %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr(err, "failed to check run stats update for task %s", id)
	}
	if rows == 0 {
		return 0, nil
	}

	var count int
	err = s.db.QueryRowContext(ctx, `SELECT run_count FROM tasks WHERE id = ?`, id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr(err, "failed to read run count for task %s", id)
	}
	return count, nil
}

// CountByStatus returns how many tasks are in each lifecycle state.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, storeErr(err, "failed to count tasks")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeErr(err, "failed to scan task count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "failed to iterate task counts")
	}
	return counts, nil
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var tags string
	var graceSeconds int
	var snoozedUntil, completedAt, lastRun sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Topic,
		&t.Body,
		&t.CronExpression,
		&t.Timezone,
		&t.Priority,
		&t.Status,
		&tags,
		&t.Notes,
		&graceSeconds,
		&snoozedUntil,
		&completedAt,
		&t.RunCount,
		&lastRun,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Tags = splitTags(tags)
	t.MisfireGrace = time.Duration(graceSeconds) * time.Second

	if t.SnoozedUntil, err = parseNullableInstant(snoozedUntil); err != nil {
		return nil, errors.Wrapf(err, "invalid snoozed_until for task %s", t.ID)
	}
	if t.CompletedAt, err = parseNullableInstant(completedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid completed_at for task %s", t.ID)
	}
	if t.LastRun, err = parseNullableInstant(lastRun); err != nil {
		return nil, errors.Wrapf(err, "invalid last_run for task %s", t.ID)
	}
	if t.CreatedAt, err = parseInstant(createdAt); err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for task %s", t.ID)
	}
	if t.UpdatedAt, err = parseInstant(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for task %s", t.ID)
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr(err, "failed to scan task row")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "failed to iterate task rows")
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Instants are stored as RFC3339 UTC strings so lexicographic order in
// SQL matches chronological order.
func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseInstant(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseNullableInstant(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseInstant(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableInstant(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatInstant(*t)
}

// storeErr classifies a driver failure as a store outage so callers
// know the database itself is unhealthy.
func storeErr(err error, format string, args ...interface{}) error {
	return errors.Wrapf(errors.Mark(err, errors.ErrStoreUnavailable), format, args...)
}
