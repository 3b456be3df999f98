package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// HistoryCmd shows a task's execution history, newest first.
var HistoryCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "Show a task's execution history",
	Long: `Show a task's execution history, newest first.

Each entry records one event: a status change, a delivered or failed
dispatch, a misfire, or a scheduling error.

Example:
  chime history 4f3c2a1e`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	HistoryCmd.Flags().Bool("json", false, "output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := resolveTaskID(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	entries, err := svc.History(cmd.Context(), id)
	if err != nil {
		return err
	}

	if shouldOutputJSON(cmd) {
		return outputJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No history recorded")
		return nil
	}

	fmt.Printf("%-20s %-18s %s\n", "TIMESTAMP", "KIND", "DETAILS")
	for _, e := range entries {
		fmt.Printf("%-20s %-18s %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Kind,
			formatDetails(e.Details))
	}
	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}

// formatDetails flattens a details map to sorted key=value pairs.
func formatDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
