package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/greenlonk/chime/errors"
)

// Store persists jobs in the scheduled_jobs table.
//
// Instants are stored as RFC3339 strings in UTC so lexicographic
// comparison in SQL matches chronological order; the due scan depends
// on this for its next_fire_at <= ? predicate.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, task_id, cron_expression, timezone, next_fire_at,
	misfire_grace_seconds, topic, title, body, created_at, updated_at`

// Add inserts a new job. CreatedAt and UpdatedAt are stamped here;
// NextFireAt is normalized to UTC before persisting.
func (s *Store) Add(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.TaskID,
		job.Expression,
		job.Timezone,
		nullableInstant(job.NextFireAt),
		int(job.MisfireGrace/time.Second),
		job.Topic,
		job.Title,
		job.Body,
		formatInstant(now),
		formatInstant(now),
	)
	if err != nil {
		return storeErr(err, "failed to add job %s", job.ID)
	}

	return nil
}

// Remove deletes a job. Removing an id that is already gone is not an
// error; the ticker and the lifecycle layer may both unschedule the
// same job.
func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return storeErr(err, "failed to remove job %s", id)
	}
	return nil
}

// Get retrieves a job by ID. Returns (nil, nil) when the job does not
// exist; absence is a handled case, not an error.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "failed to get job %s", id)
	}

	return job, nil
}

// UpdateNextFire sets a job's next fire time. A missing id is a silent
// no-op: a job deleted while an update was in flight must stay deleted.
func (s *Store) UpdateNextFire(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET next_fire_at = ?, updated_at = ?
		WHERE id = ?`,
		formatInstant(next), formatInstant(time.Now()), id)
	if err != nil {
		return storeErr(err, "failed to update next fire for job %s", id)
	}

	return nil
}

// AdvanceNextFire moves a job from one fire time to the next, applying
// only while the row still holds the fire time the tick consumed. A job
// deleted or rescheduled mid-dispatch no longer matches and is left
// alone. This is the per-job serialization between the tick loop and
// concurrent lifecycle mutations.
func (s *Store) AdvanceNextFire(ctx context.Context, id string, from, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET next_fire_at = ?, updated_at = ?
		WHERE id = ? AND next_fire_at = ?`,
		formatInstant(next), formatInstant(time.Now()), id, formatInstant(from))
	if err != nil {
		return storeErr(err, "failed to advance next fire for job %s", id)
	}

	return nil
}

// ReplaceTrigger swaps a job's cron expression, timezone, and next fire
// time in one statement. Unlike UpdateNextFire this errors on a missing
// id: reschedule targets must exist.
func (s *Store) ReplaceTrigger(ctx context.Context, id, expression, timezone string, next time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET cron_expression = ?, timezone = ?, next_fire_at = ?, updated_at = ?
		WHERE id = ?`,
		expression, timezone, formatInstant(next), formatInstant(time.Now()), id)
	if err != nil {
		return storeErr(err, "failed to replace trigger for job %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr(err, "failed to check trigger replacement for job %s", id)
	}
	if rows == 0 {
		return errors.NewNotFoundError("job %s not found", id)
	}

	return nil
}

// ListDue returns every job due at or before asOf, soonest first, ties
// broken by insertion order. Parked jobs (next_fire_at IS NULL) are
// never returned.
func (s *Store) ListDue(ctx context.Context, asOf time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE next_fire_at IS NOT NULL AND next_fire_at <= ?
		ORDER BY next_fire_at ASC, rowid ASC`,
		formatInstant(asOf))
	if err != nil {
		return nil, storeErr(err, "failed to list due jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListAll returns every job, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, storeErr(err, "failed to list jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// NextScheduled returns the job with the earliest upcoming fire time,
// or (nil, nil) when nothing is scheduled.
func (s *Store) NextScheduled(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE next_fire_at IS NOT NULL
		ORDER BY next_fire_at ASC, rowid ASC
		LIMIT 1`)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "failed to get next scheduled job")
	}

	return job, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var nextFireAt sql.NullString
	var graceSeconds int
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID,
		&job.TaskID,
		&job.Expression,
		&job.Timezone,
		&nextFireAt,
		&graceSeconds,
		&job.Topic,
		&job.Title,
		&job.Body,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.MisfireGrace = time.Duration(graceSeconds) * time.Second

	if nextFireAt.Valid {
		t, err := parseInstant(nextFireAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_fire_at for job %s", job.ID)
		}
		job.NextFireAt = &t
	}
	if job.CreatedAt, err = parseInstant(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = parseInstant(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}

	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// formatInstant renders an instant for storage. Everything goes in as
// RFC3339 UTC so string order is time order.
func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseInstant(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func nullableInstant(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatInstant(*t)
}

// storeErr classifies a driver failure as a store outage so tick-time
// callers know to drop the cycle and retry on the next tick.
func storeErr(err error, format string, args ...interface{}) error {
	return errors.Wrapf(errors.Mark(err, errors.ErrStoreUnavailable), format, args...)
}
