package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/greenlonk/chime/config"
	"github.com/greenlonk/chime/logger"
)

// SendCmd delivers a one-off notification, bypassing the scheduler.
var SendCmd = &cobra.Command{
	Use:   "send <topic> <title> <body>",
	Short: "Send a one-off notification",
	Long: `Send a one-off notification through the configured channels.

Uses the same dispatcher stack as the daemon (ntfy plus the exec hook
if one is configured), so this doubles as a delivery test.

Example:
  chime send chores "Water the plants" "The ficus looks thirsty"`,
	Args: cobra.ExactArgs(3),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	topic, title, body := args[0], args[1], args[2]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	channels, _ := buildDispatchers(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.DispatchTimeout())
	defer cancel()

	started := time.Now()
	if err := channels.Send(ctx, topic, title, body); err != nil {
		return err
	}

	pterm.Success.Printf("Delivered to %s via %s\n", topic, cfg.Ntfy.URL)
	if logger.ShouldOutput(verbosityOf(cmd), logger.OutputTiming) {
		pterm.Printf("  delivery took %v\n", time.Since(started).Round(time.Millisecond))
	}
	return nil
}
