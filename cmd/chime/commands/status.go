package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/greenlonk/chime/config"
	"github.com/greenlonk/chime/schedule"
	"github.com/greenlonk/chime/task"
)

// StatusCmd summarizes what the scheduler is tracking.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler and database status",
	Long: `Show scheduler and database status: tasks by lifecycle state, live
scheduled jobs, the next upcoming fire, and where the data lives.

Example:
  chime status`,
	RunE: runStatus,
}

type statusReport struct {
	DatabasePath  string         `json:"database_path"`
	DatabaseBytes int64          `json:"database_bytes"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
	ScheduledJobs int            `json:"scheduled_jobs"`
	NextFireAt    *time.Time     `json:"next_fire_at,omitempty"`
	NextFireTask  string         `json:"next_fire_task,omitempty"`
	ProcessRSS    uint64         `json:"process_rss_bytes"`
}

func init() {
	StatusCmd.Flags().Bool("json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	report := statusReport{DatabasePath: cfg.DatabasePath()}

	if info, err := os.Stat(report.DatabasePath); err == nil {
		report.DatabaseBytes = info.Size()
	}

	report.TasksByStatus, err = task.NewStore(database).CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	jobs := schedule.NewStore(database)
	all, err := jobs.ListAll(cmd.Context())
	if err != nil {
		return err
	}
	report.ScheduledJobs = len(all)

	if next, err := jobs.NextScheduled(cmd.Context()); err == nil && next != nil {
		report.NextFireAt = next.NextFireAt
		report.NextFireTask = next.TaskID
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			report.ProcessRSS = mi.RSS
		}
	}

	if shouldOutputJSON(cmd) {
		return outputJSON(report)
	}

	total := 0
	for _, n := range report.TasksByStatus {
		total += n
	}

	fmt.Println("chime status")
	fmt.Printf("  Database:       %s (%s)\n", report.DatabasePath, humanBytes(report.DatabaseBytes))
	fmt.Printf("  Tasks:          %d pending, %d snoozed, %d completed (%d total)\n",
		report.TasksByStatus[task.StatusPending],
		report.TasksByStatus[task.StatusSnoozed],
		report.TasksByStatus[task.StatusCompleted],
		total)
	fmt.Printf("  Scheduled jobs: %d\n", report.ScheduledJobs)
	if report.NextFireAt != nil {
		fmt.Printf("  Next fire:      %s  [task:%s]\n",
			report.NextFireAt.Local().Format("2006-01-02 15:04:05 MST"),
			shortID(report.NextFireTask))
	} else {
		fmt.Printf("  Next fire:      none scheduled\n")
	}
	fmt.Printf("  Process memory: %s RSS\n", humanBytes(int64(report.ProcessRSS)))
	return nil
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
