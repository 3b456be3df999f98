package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// shouldOutputJSON reports whether a command should emit machine-readable
// output, from its local --json flag or the global one.
func shouldOutputJSON(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}
	globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json")
	return globalFlag
}

// verbosityOf returns the -v count from the root persistent flag.
func verbosityOf(cmd *cobra.Command) int {
	v, _ := cmd.Root().PersistentFlags().GetCount("verbose")
	return v
}

// outputJSON pretty-prints v to stdout.
func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
