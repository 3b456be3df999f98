package main

import (
	"fmt"
	"os"

	// Zone lookups must work on hosts without a system tzdata package;
	// every trigger carries an IANA timezone.
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/greenlonk/chime/cmd/chime/commands"
	"github.com/greenlonk/chime/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chime",
	Short: "Recurring reminders on cron schedules, delivered through ntfy",
	Long: `chime — recurring reminders on cron schedules.

Each task carries a five-field cron expression and an IANA timezone. A
foreground daemon evaluates the schedules, delivers notifications through
ntfy (and an optional exec hook), and records execution history. SQLite
holds tasks, scheduled jobs, and history.

Available commands:
  daemon  - Run the scheduler loop in the foreground
  task    - Manage tasks (add, list, show, complete, snooze, ...)
  history - Show a task's execution history
  send    - One-off notification through the configured channels
  status  - Scheduler and database status
  db      - Database operations (migrate, status, path)
  config  - Show and edit configuration
  version - Show version information

Examples:
  chime task add "Water the plants" --topic chores --cron "0 9 * * *"
  chime task list --status pending
  chime daemon
  chime config set ntfy.url https://ntfy.example.com`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json")
		if err := logger.InitializeWithVerbosity(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Structured JSON output (logs and command results)")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.TaskCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.SendCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
