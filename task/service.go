package task

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greenlonk/chime/cron"
	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/internal/util"
	"github.com/greenlonk/chime/logger"
	"github.com/greenlonk/chime/schedule"
)

// Defaults supplies fallback values for fields a caller may omit.
type Defaults struct {
	Timezone     string
	SnoozeFor    time.Duration
	MisfireGrace time.Duration
}

// Service drives the task lifecycle. Every transition keeps the task
// row and the scheduled-job table consistent: a task is pending exactly
// when a job with its id exists (a pending task whose job insert failed
// is the one tolerated exception, visible as "unscheduled" and repaired
// by rescheduling).
//
// Each transition runs as a single transaction whose task-row write is
// guarded on the status the transition was decided from. Two
// concurrent transitions on the same task therefore cannot both win,
// even across processes: the loser matches zero rows, re-reads, and
// re-evaluates from the fresh state.
//
// Service also implements schedule.ExecutionRecorder, turning tick
// outcomes into run stats and history entries.
type Service struct {
	db       *sql.DB
	tasks    *Store
	history  *HistoryStore
	jobs     *schedule.Store
	defaults Defaults
	log      *zap.SugaredLogger
}

var _ schedule.ExecutionRecorder = (*Service)(nil)

// NewService creates a Service and its stores over db.
func NewService(db *sql.DB, defaults Defaults) *Service {
	return &Service{
		db:       db,
		tasks:    NewStore(db),
		history:  NewHistoryStore(db),
		jobs:     schedule.NewStore(db),
		defaults: defaults,
		log:      logger.ComponentLogger("task"),
	}
}

// CreateRequest carries the caller-supplied fields for a new task.
type CreateRequest struct {
	Title          string
	Description    string
	Topic          string
	Body           string
	CronExpression string
	Timezone       string
	Priority       string
	Tags           []string
	Notes          string
	MisfireGrace   time.Duration
}

// Create validates the request, inserts the task, and schedules its
// job. Nothing is persisted unless the trigger resolves to a concrete
// first fire time.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if req.Title == "" {
		return nil, errors.New("task title is required")
	}
	if req.Topic == "" {
		return nil, errors.New("notification topic is required")
	}
	if req.Priority != "" && !ValidPriority(req.Priority) {
		return nil, errors.Newf("unknown priority %q (expected low, medium, or high)", req.Priority)
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = s.defaults.Timezone
	}
	grace := req.MisfireGrace
	if grace <= 0 {
		grace = s.defaults.MisfireGrace
	}

	firstFire, err := resolveTrigger(req.CronExpression, timezone, time.Now())
	if err != nil {
		return nil, err
	}

	t := &Task{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Description:    req.Description,
		Topic:          req.Topic,
		Body:           req.Body,
		CronExpression: req.CronExpression,
		Timezone:       timezone,
		Priority:       req.Priority,
		Status:         StatusPending,
		Tags:           req.Tags,
		Notes:          req.Notes,
		MisfireGrace:   grace,
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, err
	}

	if err := s.jobs.Add(ctx, jobForTask(t, &firstFire)); err != nil {
		// Undo the insert rather than leave an unscheduled task behind
		// on a create the caller will see as failed.
		if delErr := s.tasks.Delete(ctx, t.ID); delErr != nil {
			s.log.Errorw("Failed to roll back task after scheduling error",
				logger.FieldTaskID, t.ID,
				logger.FieldError, delErr,
			)
		}
		return nil, errors.Wrapf(err, "failed to schedule task %s", t.ID)
	}

	s.log.Infow("Task created",
		logger.FieldTaskID, t.ID,
		logger.FieldCron, t.CronExpression,
		logger.FieldTimezone, t.Timezone,
		logger.FieldNextFire, firstFire.Format(time.RFC3339),
	)
	return t, nil
}

// Get returns a task by id, or nil when no such task exists.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.tasks.Get(ctx, id)
}

// List returns tasks matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]*Task, error) {
	return s.tasks.List(ctx, f)
}

// Complete marks a task completed and unschedules it. Completing an
// already-completed task is a no-op that returns the task unchanged, so
// CompletedAt always records the first completion.
func (s *Service) Complete(ctx context.Context, id string) (*Task, error) {
	for {
		t, err := s.mustGet(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status == StatusCompleted {
			return t, nil
		}

		from := t.Status
		t.Status = StatusCompleted
		t.CompletedAt = util.Ptr(time.Now().UTC().Truncate(time.Second))
		t.SnoozedUntil = nil

		if err := s.deactivate(ctx, t, from); err != nil {
			if errors.Is(err, errStaleStatus) {
				continue
			}
			return nil, err
		}
		s.recordStatusChange(ctx, t.ID, from, StatusCompleted)

		s.log.Infow("Task completed", logger.FieldTaskID, t.ID)
		return t, nil
	}
}

// Snooze pauses a task until now+d, unscheduling it. A non-positive d
// uses the configured default. Snoozing an already-snoozed task just
// moves SnoozedUntil; it is not a new transition and writes no history.
func (s *Service) Snooze(ctx context.Context, id string, d time.Duration) (*Task, error) {
	if d <= 0 {
		d = s.defaults.SnoozeFor
	}

	for {
		t, err := s.mustGet(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status == StatusCompleted {
			return nil, errors.NewConflictError("task %s is completed and cannot be snoozed", id)
		}

		until := time.Now().UTC().Truncate(time.Second).Add(d)

		from := t.Status
		t.Status = StatusSnoozed
		t.SnoozedUntil = &until

		if err := s.deactivate(ctx, t, from); err != nil {
			if errors.Is(err, errStaleStatus) {
				continue
			}
			return nil, err
		}
		if from != StatusSnoozed {
			s.recordStatusChange(ctx, t.ID, from, StatusSnoozed)
		}

		s.log.Infow("Task snoozed",
			logger.FieldTaskID, t.ID,
			"until", until.Format(time.RFC3339),
		)
		return t, nil
	}
}

// Reactivate returns a snoozed or completed task to pending and
// schedules a fresh job. Fires that would have occurred while the task
// was inactive are not replayed: the next fire is computed from now.
// CompletedAt is kept as a record of the last completion.
func (s *Service) Reactivate(ctx context.Context, id string) (*Task, error) {
	for {
		t, err := s.mustGet(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status == StatusPending {
			return nil, errors.NewConflictError("task %s is already pending", id)
		}

		nextFire, err := resolveTrigger(t.CronExpression, t.Timezone, time.Now())
		if err != nil {
			return nil, errors.Wrapf(err, "cannot reactivate task %s", id)
		}

		from := t.Status
		t.Status = StatusPending
		t.SnoozedUntil = nil

		if err := s.activate(ctx, t, from, nextFire); err != nil {
			if errors.Is(err, errStaleStatus) {
				continue
			}
			return nil, err
		}
		s.recordStatusChange(ctx, t.ID, from, StatusPending)

		s.log.Infow("Task reactivated",
			logger.FieldTaskID, t.ID,
			logger.FieldNextFire, nextFire.Format(time.RFC3339),
		)
		return t, nil
	}
}

// Reschedule swaps a pending task's trigger. The new expression and
// timezone are validated before anything is touched, and the job and
// task rows change in one transaction so a crash cannot leave them
// describing different schedules. Rescheduling also repairs a pending
// task whose job row is missing.
func (s *Service) Reschedule(ctx context.Context, id, expression, timezone string) (*Task, error) {
	for {
		t, err := s.mustGet(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status != StatusPending {
			return nil, errors.NewConflictError("task %s is %s; only pending tasks can be rescheduled", id, t.Status)
		}

		tz := timezone
		if tz == "" {
			tz = t.Timezone
		}
		nextFire, err := resolveTrigger(expression, tz, time.Now())
		if err != nil {
			return nil, err
		}

		t.CronExpression = expression
		t.Timezone = tz

		if err := s.replaceTrigger(ctx, t, nextFire); err != nil {
			if errors.Is(err, errStaleStatus) {
				continue
			}
			return nil, err
		}

		s.log.Infow("Task rescheduled",
			logger.FieldTaskID, t.ID,
			logger.FieldCron, expression,
			logger.FieldTimezone, tz,
			logger.FieldNextFire, nextFire.Format(time.RFC3339),
		)
		return t, nil
	}
}

// replaceTrigger rewrites the task's trigger columns and its job row in
// one transaction. The task update is guarded on the row still being
// pending, so the repair insert below can never bring a task that a
// concurrent caller completed or snoozed back to life.
func (s *Service) replaceTrigger(ctx context.Context, t *Task, nextFire time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "failed to begin reschedule for task %s", t.ID)
	}
	defer tx.Rollback()

	t.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	now := formatInstant(t.UpdatedAt)
	next := formatInstant(nextFire)

	result, err := tx.ExecContext(ctx, `
		UPDATE tasks SET cron_expression = ?, timezone = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		t.CronExpression, t.Timezone, now, t.ID, StatusPending,
	)
	if err != nil {
		return storeErr(err, "failed to update trigger for task %s", t.ID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr(err, "failed to check trigger update for task %s", t.ID)
	}
	if rows == 0 {
		return errStaleStatus
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET cron_expression = ?, timezone = ?, next_fire_at = ?, updated_at = ?
		WHERE id = ?`,
		t.CronExpression, t.Timezone, next, now, t.ID,
	)
	if err != nil {
		return storeErr(err, "failed to update job for task %s", t.ID)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return storeErr(err, "failed to check job update for task %s", t.ID)
	}
	if rows == 0 {
		// No job row: this pending task lost its schedule. Recreate it.
		if err := insertJobTx(ctx, tx, t, nextFire); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err, "failed to commit reschedule for task %s", t.ID)
	}
	return nil
}

// Delete removes the task. The schema cascades the delete to the
// scheduled job and the task's history in the same statement.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.tasks.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Infow("Task deleted", logger.FieldTaskID, id)
	return nil
}

// History returns the task's audit trail, newest first.
func (s *Service) History(ctx context.Context, id string) ([]*HistoryEntry, error) {
	if _, err := s.mustGet(ctx, id); err != nil {
		return nil, err
	}
	return s.history.ListForTask(ctx, id)
}

// IsUnscheduled reports whether a pending task has lost its job row and
// needs a reschedule to start firing again.
func (s *Service) IsUnscheduled(ctx context.Context, t *Task) (bool, error) {
	if t.Status != StatusPending {
		return false, nil
	}
	job, err := s.jobs.Get(ctx, t.ID)
	if err != nil {
		return false, err
	}
	return job == nil, nil
}

// RecordExecuted implements schedule.ExecutionRecorder. It bumps the
// task's run stats and appends an executed history entry. A task
// deleted while its dispatch was in flight is silently skipped.
func (s *Service) RecordExecuted(ctx context.Context, taskID string, firedAt time.Time, duration time.Duration) error {
	count, err := s.tasks.IncrementRunStats(ctx, taskID, firedAt)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	return s.history.Append(ctx, taskID, HistoryExecuted, map[string]interface{}{
		"run_count": count,
	})
}

// RecordDispatchFailed implements schedule.ExecutionRecorder. Failed
// dispatches leave run stats untouched; only the history entry carries
// the failure.
func (s *Service) RecordDispatchFailed(ctx context.Context, taskID string, firedAt time.Time, duration time.Duration, dispatchErr error) error {
	gone, err := s.taskGone(ctx, taskID)
	if err != nil || gone {
		return err
	}
	return s.history.Append(ctx, taskID, HistoryExecutionFailed, map[string]interface{}{
		"error":       dispatchErr.Error(),
		"duration_ms": duration.Milliseconds(),
	})
}

// RecordMisfired implements schedule.ExecutionRecorder.
func (s *Service) RecordMisfired(ctx context.Context, taskID string, scheduledFor time.Time, overdue time.Duration) error {
	gone, err := s.taskGone(ctx, taskID)
	if err != nil || gone {
		return err
	}
	return s.history.Append(ctx, taskID, HistoryMisfired, map[string]interface{}{
		"scheduled_for":   scheduledFor.UTC().Format(time.RFC3339),
		"overdue_seconds": int64(overdue.Seconds()),
	})
}

// RecordSchedulingError implements schedule.ExecutionRecorder.
func (s *Service) RecordSchedulingError(ctx context.Context, taskID string, schedErr error) error {
	gone, err := s.taskGone(ctx, taskID)
	if err != nil || gone {
		return err
	}
	return s.history.Append(ctx, taskID, HistorySchedulingError, map[string]interface{}{
		"error": schedErr.Error(),
	})
}

// errStaleStatus reports that the task row's status moved between a
// transition's read and its guarded write. Callers re-read and
// re-evaluate the transition from the fresh row.
var errStaleStatus = errors.New("task status changed concurrently")

// writeLifecycleTx writes the task's lifecycle columns inside tx,
// succeeding only while the row still holds the status the transition
// was decided from. The loser of a concurrent transition matches zero
// rows and gets errStaleStatus; a deleted task looks the same and is
// told apart by the caller's re-read.
func writeLifecycleTx(ctx context.Context, tx *sql.Tx, t *Task, from string) error {
	t.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	result, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, snoozed_until = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		t.Status,
		nullableInstant(t.SnoozedUntil),
		nullableInstant(t.CompletedAt),
		formatInstant(t.UpdatedAt),
		t.ID,
		from,
	)
	if err != nil {
		return storeErr(err, "failed to update task %s", t.ID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr(err, "failed to check update of task %s", t.ID)
	}
	if rows == 0 {
		return errStaleStatus
	}
	return nil
}

// deactivate removes the task's job and writes its new lifecycle fields
// in one transaction: Complete and Snooze either fully happen or leave
// the row exactly as a concurrent transition made it.
func (s *Service) deactivate(ctx context.Context, t *Task, from string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "failed to begin transition for task %s", t.ID)
	}
	defer tx.Rollback()

	if err := writeLifecycleTx(ctx, tx, t, from); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, t.ID); err != nil {
		return storeErr(err, "failed to unschedule task %s", t.ID)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err, "failed to commit transition for task %s", t.ID)
	}
	return nil
}

// activate writes the pending status and a fresh job row in one
// transaction, so a reactivated task is never observable as pending
// without its schedule.
func (s *Service) activate(ctx context.Context, t *Task, from string, nextFire time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "failed to begin transition for task %s", t.ID)
	}
	defer tx.Rollback()

	if err := writeLifecycleTx(ctx, tx, t, from); err != nil {
		return err
	}
	if err := insertJobTx(ctx, tx, t, nextFire); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err, "failed to commit transition for task %s", t.ID)
	}
	return nil
}

// insertJobTx recreates the task's job row inside tx.
func insertJobTx(ctx context.Context, tx *sql.Tx, t *Task, nextFire time.Time) error {
	now := formatInstant(time.Now().UTC())
	_, err := tx.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, task_id, cron_expression, timezone, next_fire_at,
			misfire_grace_seconds, topic, title, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ID, t.CronExpression, t.Timezone, formatInstant(nextFire),
		int(t.MisfireGrace.Seconds()), t.Topic, t.Title, t.Body, now, now,
	)
	if err != nil {
		return storeErr(err, "failed to schedule task %s", t.ID)
	}
	return nil
}

// mustGet fetches a task and converts absence into a not-found error
// for callers that require the task to exist.
func (s *Service) mustGet(ctx context.Context, id string) (*Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewNotFoundError("task %s not found", id)
	}
	return t, nil
}

// taskGone reports whether the task no longer exists. History rows
// reference the tasks table, so recording against a deleted task would
// fail its foreign key.
func (s *Service) taskGone(ctx context.Context, taskID string) (bool, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	return t == nil, nil
}

func (s *Service) recordStatusChange(ctx context.Context, taskID, from, to string) {
	err := s.history.Append(ctx, taskID, HistoryStatusChange, map[string]interface{}{
		"old": from,
		"new": to,
	})
	if err != nil {
		// History is an audit trail, not part of the transition itself.
		s.log.Warnw("Failed to record status change",
			logger.FieldTaskID, taskID,
			logger.FieldError, err,
		)
	}
}

// resolveTrigger validates a cron expression and timezone together and
// returns the first fire strictly after ref. Any failure is an invalid
// schedule: triggers that cannot produce a fire time are rejected at
// the boundary instead of parking a job that will never run.
func resolveTrigger(expression, timezone string, ref time.Time) (time.Time, error) {
	spec, err := cron.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, errors.MarkInvalidSchedule(
			errors.Wrapf(err, "unknown timezone %q", timezone))
	}
	next, err := spec.Next(ref, loc)
	if err != nil {
		return time.Time{}, errors.MarkInvalidSchedule(err)
	}
	return next, nil
}

func jobForTask(t *Task, nextFire *time.Time) *schedule.Job {
	return &schedule.Job{
		ID:           t.ID,
		TaskID:       t.ID,
		Expression:   t.CronExpression,
		Timezone:     t.Timezone,
		NextFireAt:   nextFire,
		MisfireGrace: t.MisfireGrace,
		Topic:        t.Topic,
		Title:        t.Title,
		Body:         t.Body,
	}
}
