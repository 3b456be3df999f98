package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/schedule"
	"github.com/greenlonk/chime/task"
)

// TaskCmd groups the task lifecycle operations.
var TaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage notification tasks",
	Long: `Manage notification tasks.

A task is a recurring reminder: a five-field cron expression, an IANA
timezone, and an ntfy payload (topic, title, body). Pending tasks fire
on schedule; snoozing or completing a task suspends it until it is
reactivated.

Examples:
  chime task add "Water the plants" --topic chores --cron "0 9 * * *"
  chime task add "Standup" --topic work --cron "0 9 * * 1-5" --tz Europe/Berlin
  chime task list --status pending --sort priority
  chime task show 4f3c2a1e
  chime task snooze 4f3c2a1e --for 36h
  chime task reschedule 4f3c2a1e --cron "30 18 * * *"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Long: `Create a task and schedule its first fire.

The cron expression and timezone are validated before anything is
stored; an expression that can never fire is rejected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long:  "List tasks, optionally filtered by status or priority and sorted by creation time, title, or priority.",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a task completed and stop its schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskComplete,
}

var taskSnoozeCmd = &cobra.Command{
	Use:   "snooze <task-id>",
	Short: "Suspend a task's schedule for a while",
	Long: `Suspend a task's schedule.

Snoozing removes the scheduled job entirely; the task will not fire
again until it is reactivated. The deadline is advisory — there is no
automatic wake-up.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskSnooze,
}

var taskReactivateCmd = &cobra.Command{
	Use:   "reactivate <task-id>",
	Short: "Return a snoozed or completed task to the schedule",
	Long: `Return a snoozed or completed task to pending.

The next fire is computed from now; occurrences missed while the task
was suspended are not replayed.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskReactivate,
}

var taskRescheduleCmd = &cobra.Command{
	Use:   "reschedule <task-id>",
	Short: "Swap a pending task's cron expression or timezone",
	Long: `Swap a pending task's trigger.

The new trigger is validated first; on failure the stored schedule is
left untouched. Rescheduling also repairs a pending task that lost its
scheduled job.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskReschedule,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task, its schedule, and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

func init() {
	taskAddCmd.Flags().String("topic", "", "ntfy topic to deliver to (required)")
	taskAddCmd.Flags().String("cron", "", "five-field cron expression (required)")
	taskAddCmd.Flags().String("tz", "", "IANA timezone (default from config)")
	taskAddCmd.Flags().String("body", "", "notification body")
	taskAddCmd.Flags().String("description", "", "free-form description")
	taskAddCmd.Flags().String("priority", "", "low, medium, or high (default medium)")
	taskAddCmd.Flags().StringSlice("tags", nil, "comma-separated tags")
	taskAddCmd.Flags().String("notes", "", "free-form notes")
	taskAddCmd.Flags().Duration("grace", 0, "misfire grace (e.g. 90s; default from config)")
	taskAddCmd.MarkFlagRequired("topic")
	taskAddCmd.MarkFlagRequired("cron")

	taskListCmd.Flags().String("status", "", "filter by status (pending, snoozed, completed)")
	taskListCmd.Flags().String("priority", "", "filter by priority (low, medium, high)")
	taskListCmd.Flags().String("sort", "", "sort order: created (default), title, priority")
	taskListCmd.Flags().Bool("json", false, "output as JSON")

	taskShowCmd.Flags().Bool("json", false, "output as JSON")

	taskSnoozeCmd.Flags().Duration("for", 0, "snooze duration (e.g. 36h; default from config)")

	taskRescheduleCmd.Flags().String("cron", "", "new five-field cron expression (required)")
	taskRescheduleCmd.Flags().String("tz", "", "new IANA timezone (default: keep current)")
	taskRescheduleCmd.MarkFlagRequired("cron")

	TaskCmd.AddCommand(taskAddCmd)
	TaskCmd.AddCommand(taskListCmd)
	TaskCmd.AddCommand(taskShowCmd)
	TaskCmd.AddCommand(taskCompleteCmd)
	TaskCmd.AddCommand(taskSnoozeCmd)
	TaskCmd.AddCommand(taskReactivateCmd)
	TaskCmd.AddCommand(taskRescheduleCmd)
	TaskCmd.AddCommand(taskDeleteCmd)
	TaskCmd.AddCommand(taskImportCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	topic, _ := cmd.Flags().GetString("topic")
	cronExpr, _ := cmd.Flags().GetString("cron")
	tz, _ := cmd.Flags().GetString("tz")
	body, _ := cmd.Flags().GetString("body")
	description, _ := cmd.Flags().GetString("description")
	priority, _ := cmd.Flags().GetString("priority")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	notes, _ := cmd.Flags().GetString("notes")
	grace, _ := cmd.Flags().GetDuration("grace")

	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	t, err := svc.Create(cmd.Context(), task.CreateRequest{
		Title:          strings.Join(args, " "),
		Description:    description,
		Topic:          topic,
		Body:           body,
		CronExpression: cronExpr,
		Timezone:       tz,
		Priority:       priority,
		Tags:           tags,
		Notes:          notes,
		MisfireGrace:   grace,
	})
	if err != nil {
		return err
	}

	pterm.Success.Printf("Task created: %s\n", t.ID)

	job, err := schedule.NewStore(database).Get(cmd.Context(), t.ID)
	if err == nil && job != nil && job.NextFireAt != nil {
		fmt.Printf("  Schedule:  %s (%s)\n", t.CronExpression, t.Timezone)
		fmt.Printf("  Next fire: %s\n", formatInZone(*job.NextFireAt, t.Timezone))
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	priority, _ := cmd.Flags().GetString("priority")
	sort, _ := cmd.Flags().GetString("sort")

	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	tasks, err := svc.List(cmd.Context(), task.Filter{
		Status:   status,
		Priority: priority,
		Sort:     sort,
	})
	if err != nil {
		return err
	}

	if shouldOutputJSON(cmd) {
		return outputJSON(tasks)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	// One scan of the job table instead of a lookup per task
	nextFires := make(map[string]*time.Time)
	if jobList, err := schedule.NewStore(database).ListAll(cmd.Context()); err == nil {
		for _, j := range jobList {
			nextFires[j.TaskID] = j.NextFireAt
		}
	}

	fmt.Printf("%-10s %-10s %-8s %-22s %-16s %s\n", "ID", "STATUS", "PRI", "NEXT FIRE", "CRON", "TITLE")
	for _, t := range tasks {
		fmt.Printf("%-10s %-10s %-8s %-22s %-16s %s\n",
			shortID(t.ID), t.Status, t.Priority,
			nextFireCell(t, nextFires), t.CronExpression, t.Title)
	}
	fmt.Printf("\n%d task(s)\n", len(tasks))
	return nil
}

// nextFireCell renders the NEXT FIRE column for one task. Only pending
// tasks fire; a pending task without a job is flagged so the operator
// knows to repair it.
func nextFireCell(t *task.Task, nextFires map[string]*time.Time) string {
	if t.Status != task.StatusPending {
		return "-"
	}
	next, ok := nextFires[t.ID]
	if !ok || next == nil {
		return "UNSCHEDULED"
	}
	return next.Local().Format("2006-01-02 15:04 MST")
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := resolveTaskID(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	t, err := svc.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.NewNotFoundError("no task with id %s", args[0])
	}

	if shouldOutputJSON(cmd) {
		return outputJSON(t)
	}

	fmt.Printf("Task %s\n", t.ID)
	fmt.Printf("  Title:       %s\n", t.Title)
	if t.Description != "" {
		fmt.Printf("  Description: %s\n", t.Description)
	}
	fmt.Printf("  Status:      %s\n", t.Status)
	fmt.Printf("  Priority:    %s\n", t.Priority)
	fmt.Printf("  Topic:       %s\n", t.Topic)
	if t.Body != "" {
		fmt.Printf("  Body:        %s\n", t.Body)
	}
	fmt.Printf("  Schedule:    %s (%s)\n", t.CronExpression, t.Timezone)
	fmt.Printf("  Grace:       %v\n", t.MisfireGrace)
	if len(t.Tags) > 0 {
		fmt.Printf("  Tags:        %s\n", strings.Join(t.Tags, ", "))
	}
	if t.Notes != "" {
		fmt.Printf("  Notes:       %s\n", t.Notes)
	}
	if t.SnoozedUntil != nil {
		fmt.Printf("  Snoozed to:  %s\n", formatLocal(t.SnoozedUntil))
	}
	if t.CompletedAt != nil {
		fmt.Printf("  Completed:   %s\n", formatLocal(t.CompletedAt))
	}
	fmt.Printf("  Runs:        %d", t.RunCount)
	if t.LastRun != nil {
		fmt.Printf(" (last %s)", formatLocal(t.LastRun))
	}
	fmt.Println()
	fmt.Printf("  Created:     %s\n", formatLocal(&t.CreatedAt))

	if t.Status == task.StatusPending {
		job, err := schedule.NewStore(database).Get(cmd.Context(), t.ID)
		if err == nil && job != nil && job.NextFireAt != nil {
			fmt.Printf("  Next fire:   %s\n", formatInZone(*job.NextFireAt, t.Timezone))
		}

		unscheduled, err := svc.IsUnscheduled(cmd.Context(), t)
		if err == nil && unscheduled {
			pterm.Println()
			pterm.Warning.Println("This task is pending but has no scheduled job (UNSCHEDULED).")
			pterm.Printf("Repair it with: chime task reschedule %s --cron %q\n", shortID(t.ID), t.CronExpression)
		}
	}
	return nil
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := resolveTaskID(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	t, err := svc.Complete(cmd.Context(), id)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Task completed: %s (%s)\n", shortID(t.ID), t.Title)
	return nil
}

func runTaskSnooze(cmd *cobra.Command, args []string) error {
	d, _ := cmd.Flags().GetDuration("for")

	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := resolveTaskID(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	t, err := svc.Snooze(cmd.Context(), id, d)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Task snoozed until %s: %s (%s)\n",
		formatLocal(t.SnoozedUntil), shortID(t.ID), t.Title)
	return nil
}

func runTaskReactivate(cmd *cobra.Command, args []string) error {
	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := resolveTaskID(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	t, err := svc.Reactivate(cmd.Context(), id)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Task reactivated: %s (%s)\n", shortID(t.ID), t.Title)

	job, err := schedule.NewStore(database).Get(cmd.Context(), t.ID)
	if err == nil && job != nil && job.NextFireAt != nil {
		fmt.Printf("  Next fire: %s\n", formatInZone(*job.NextFireAt, t.Timezone))
	}
	return nil
}

func runTaskReschedule(cmd *cobra.Command, args []string) error {
	cronExpr, _ := cmd.Flags().GetString("cron")
	tz, _ := cmd.Flags().GetString("tz")

	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := resolveTaskID(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	t, err := svc.Reschedule(cmd.Context(), id, cronExpr, tz)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Task rescheduled: %s (%s)\n", shortID(t.ID), t.Title)
	fmt.Printf("  Schedule: %s (%s)\n", t.CronExpression, t.Timezone)

	job, err := schedule.NewStore(database).Get(cmd.Context(), t.ID)
	if err == nil && job != nil && job.NextFireAt != nil {
		fmt.Printf("  Next fire: %s\n", formatInZone(*job.NextFireAt, t.Timezone))
	}
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := resolveTaskID(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	if err := svc.Delete(cmd.Context(), id); err != nil {
		return err
	}
	pterm.Success.Printf("Task deleted: %s\n", shortID(id))
	return nil
}

// resolveTaskID expands a unique id prefix to a full task id, so the
// short ids the tables print are usable as arguments.
func resolveTaskID(ctx context.Context, svc *task.Service, ref string) (string, error) {
	t, err := svc.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	if t != nil {
		return t.ID, nil
	}

	all, err := svc.List(ctx, task.Filter{})
	if err != nil {
		return "", err
	}
	var matches []string
	for _, candidate := range all {
		if strings.HasPrefix(candidate.ID, ref) {
			matches = append(matches, candidate.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", errors.NewNotFoundError("no task with id %s", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("task id %s is ambiguous (%d matches); use more characters", ref, len(matches))
	}
}

// shortID returns the first id segment, enough to address a task on the
// command line (commands resolve unique prefixes back to full ids).
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatLocal(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05 MST")
}

// formatInZone renders an instant in the task's own timezone, falling
// back to local time when the zone no longer loads.
func formatInZone(t time.Time, tz string) string {
	if loc, err := time.LoadLocation(tz); err == nil {
		return t.In(loc).Format("2006-01-02 15:04:05 MST")
	}
	return t.Local().Format("2006-01-02 15:04:05 MST")
}
