// Package schedule owns the durable trigger state for recurring
// notifications and the ticker loop that fires them.
//
// A Job is the scheduler's record of one task's active schedule: the
// cron expression, the timezone it is evaluated in, and the next
// instant it should fire. Jobs are derived and disposable. The task
// record is the source of truth; completing, snoozing, or deleting a
// task removes its job, and reactivating re-derives one.
package schedule

import "time"

// Job is one recurring notification trigger.
//
// NextFireAt is stored in UTC. A nil NextFireAt parks the job: it is
// kept in the store but never returned by the due scan.
type Job struct {
	ID           string
	TaskID       string
	Expression   string // five-field cron source text
	Timezone     string // IANA zone name the expression is evaluated in
	NextFireAt   *time.Time
	MisfireGrace time.Duration

	// Notification payload, copied from the owning task at scheduling
	// time so a tick never needs to join against the task table.
	Topic string
	Title string
	Body  string

	CreatedAt time.Time
	UpdatedAt time.Time
}
