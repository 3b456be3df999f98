package schedule

import (
	"context"
	"time"
)

// Dispatcher delivers one notification. Implementations live in the
// notify package; the ticker only needs this single call.
type Dispatcher interface {
	Send(ctx context.Context, topic, title, body string) error
}

// ExecutionRecorder receives tick outcomes for history bookkeeping.
// The task service implements it; declaring it here avoids a circular
// dependency between schedule and task.
type ExecutionRecorder interface {
	// RecordExecuted is called after a successful dispatch. The
	// lifecycle layer increments the task's run stats and appends an
	// executed history entry.
	RecordExecuted(ctx context.Context, taskID string, firedAt time.Time, duration time.Duration) error

	// RecordDispatchFailed is called when delivery fails. Run stats
	// are not touched; the failure is history only.
	RecordDispatchFailed(ctx context.Context, taskID string, firedAt time.Time, duration time.Duration, dispatchErr error) error

	// RecordMisfired is called when an occurrence was abandoned for
	// being past its grace window.
	RecordMisfired(ctx context.Context, taskID string, scheduledFor time.Time, overdue time.Duration) error

	// RecordSchedulingError is called when a job was unscheduled
	// because its trigger could not produce a next occurrence.
	RecordSchedulingError(ctx context.Context, taskID string, schedErr error) error
}
