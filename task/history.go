package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/logger"
)

// History entry kinds. Lifecycle transitions write status_change; the
// scheduler writes the rest as tick outcomes.
const (
	HistoryStatusChange    = "status_change"
	HistoryExecuted        = "executed"
	HistoryExecutionFailed = "execution_failed"
	HistoryMisfired        = "misfired"
	HistorySchedulingError = "scheduling_error"
)

// HistoryEntry is one audit record for a task. Details carries
// kind-specific fields, e.g. {"old": "pending", "new": "snoozed"} for a
// status change or {"run_count": 3} for an execution.
type HistoryEntry struct {
	ID        int64                  `json:"id"`
	TaskID    string                 `json:"task_id"`
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HistoryStore persists the append-only task_history table. Entries are
// only ever removed by the task-delete cascade.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a history store backed by db.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append records one history entry for the task. A nil details map is
// stored as NULL.
func (s *HistoryStore) Append(ctx context.Context, taskID, kind string, details map[string]interface{}) error {
	var detailsJSON interface{}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal history details for task %s", taskID)
		}
		detailsJSON = string(data)
	}

	query := `
		INSERT INTO task_history (task_id, kind, timestamp, details)
		VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, taskID, kind, formatInstant(time.Now()), detailsJSON)
	if err != nil {
		return storeErr(err, "failed to append %s history for task %s", kind, taskID)
	}
	return nil
}

// ListForTask returns the task's history, newest first.
func (s *HistoryStore) ListForTask(ctx context.Context, taskID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, task_id, kind, timestamp, details
		FROM task_history
		WHERE task_id = ?
		ORDER BY timestamp DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, storeErr(err, "failed to list history for task %s", taskID)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, storeErr(err, "failed to scan history row for task %s", taskID)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "failed to iterate history for task %s", taskID)
	}
	return entries, nil
}

// DeleteForTask removes all history for a task. The delete cascade
// covers the normal path; this exists for manual pruning.
func (s *HistoryStore) DeleteForTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, taskID)
	if err != nil {
		return storeErr(err, "failed to delete history for task %s", taskID)
	}
	return nil
}

func scanHistoryEntry(rows *sql.Rows) (*HistoryEntry, error) {
	var e HistoryEntry
	var timestamp string
	var details sql.NullString

	if err := rows.Scan(&e.ID, &e.TaskID, &e.Kind, &timestamp, &details); err != nil {
		return nil, err
	}

	ts, err := parseInstant(timestamp)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timestamp on history entry %d", e.ID)
	}
	e.Timestamp = ts

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			// A corrupt details blob should not hide the entry itself.
			logger.Logger.Warnw("Failed to unmarshal history details",
				logger.FieldTaskID, e.TaskID,
				logger.FieldError, err,
			)
			e.Details = map[string]interface{}{}
		}
	}
	return &e, nil
}
