// Package task implements the notification task lifecycle: the
// pending / snoozed / completed state machine, its persistence, and
// the execution history that tick outcomes append to.
//
// The task record is the source of truth. A pending task owns exactly
// one scheduled job carrying the same id; snoozing, completing, or
// deleting the task removes the job, and reactivating re-derives one.
package task

import (
	"strings"
	"time"
)

// Task lifecycle states.
const (
	StatusPending   = "pending"
	StatusSnoozed   = "snoozed"
	StatusCompleted = "completed"
)

// Priority levels, for display and list sorting only. Priority never
// affects dispatch order.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task is one recurring notification definition.
type Task struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Topic          string        `json:"topic"`
	Body           string        `json:"body,omitempty"`
	CronExpression string        `json:"cron_expression"`
	Timezone       string        `json:"timezone"`
	Priority       string        `json:"priority"`
	Status         string        `json:"status"`
	Tags           []string      `json:"tags,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	MisfireGrace   time.Duration `json:"misfire_grace_ns"`
	SnoozedUntil   *time.Time    `json:"snoozed_until,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	RunCount       int           `json:"run_count"`
	LastRun        *time.Time    `json:"last_run,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusSnoozed, StatusCompleted:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// joinTags flattens tags for storage; splitTags restores them. Tags are
// stored comma-separated, so commas inside a tag are not supported.
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
