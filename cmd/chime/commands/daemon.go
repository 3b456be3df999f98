package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/greenlonk/chime/config"
	"github.com/greenlonk/chime/logger"
	"github.com/greenlonk/chime/notify"
	"github.com/greenlonk/chime/schedule"
	"github.com/greenlonk/chime/task"
)

// DaemonCmd runs the scheduler loop in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler loop",
	Long: `Run the chime daemon in foreground mode.

The daemon scans for due jobs once per tick, dispatches notifications
through the configured channels, advances each job to its next fire
time, and records execution history. Edits to the user config file are
picked up live (the ntfy rate limit retunes without a restart).

Runs until interrupted (Ctrl+C) with graceful shutdown: no new ticks
start, in-flight dispatches finish within their timeout.

Example:
  chime daemon          # run with the configured tick interval
  chime daemon -v       # with per-dispatch detail`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The logger was initialized from flags before config existed; honor
	// the configured output mode and theme now.
	verbosity, _ := cmd.Flags().GetCount("verbose")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	if cfg.Logging.JSON && !jsonLogs {
		if err := logger.InitializeWithVerbosity(true, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	logger.SetTheme(cfg.Logging.Theme)

	database, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	svc := task.NewService(database, task.Defaults{
		Timezone:     cfg.Tasks.DefaultTimezone,
		SnoozeFor:    cfg.SnoozeDuration(),
		MisfireGrace: cfg.MisfireGrace(),
	})

	channels, ntfyClient := buildDispatchers(cfg)

	jobs := schedule.NewStore(database)
	ticker := schedule.NewTicker(jobs, channels, svc, schedule.TickerConfig{
		Interval:        cfg.TickInterval(),
		DispatchTimeout: cfg.DispatchTimeout(),
	}, logger.Logger)
	ticker.Start()

	watcher := watchUserConfig(ntfyClient)

	printDaemonSummary(cmd.Context(), cfg, database, jobs, verbosityOf(cmd))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")

	// Stop components in reverse order of startup
	ticker.Stop()
	if watcher != nil {
		watcher.Stop()
	}

	pterm.Success.Println("Daemon stopped")
	return nil
}

// buildDispatchers assembles the notification channel stack from config:
// ntfy always, the exec hook when a command is configured. The ntfy
// client is returned separately so config reloads can retune its rate
// limit.
func buildDispatchers(cfg *config.Config) (notify.Multi, *notify.NtfyClient) {
	ntfyClient := notify.NewNtfyClient(cfg.Ntfy.URL, notify.NtfyOptions{
		Token:             cfg.Ntfy.Token,
		RatePerMinute:     cfg.Ntfy.RateLimitPerMinute,
		AllowPrivateHosts: cfg.Ntfy.AllowPrivateHosts,
		Timeout:           cfg.DispatchTimeout(),
	})

	channels := notify.Multi{ntfyClient}
	if cfg.Exec.Command != "" {
		channels = append(channels, notify.NewExecHook(cfg.Exec.Command))
	}
	return channels, ntfyClient
}

// watchUserConfig starts a watcher on ~/.chime/config.toml so edits take
// effect without a restart. Returns nil when the file does not exist yet;
// the daemon then runs on the loaded config until restarted.
func watchUserConfig(ntfyClient *notify.NtfyClient) *config.ConfigWatcher {
	configPath := config.UserConfigPath()
	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(configPath); err != nil {
		logger.Debugw("No user config file to watch", "path", configPath)
		return nil
	}

	watcher, err := config.NewConfigWatcher(configPath)
	if err != nil {
		logger.Warnw("Config watcher unavailable, continuing without hot reload",
			"path", configPath, "error", err)
		return nil
	}

	watcher.OnReload(func(newCfg *config.Config) error {
		ntfyClient.SetRateLimit(newCfg.Ntfy.RateLimitPerMinute)
		logger.SetTheme(newCfg.Logging.Theme)
		return nil
	})
	watcher.Start()
	config.SetGlobalWatcher(watcher)
	return watcher
}

// printDaemonSummary prints the startup block: the effective settings
// and what the scheduler is about to do.
func printDaemonSummary(ctx context.Context, cfg *config.Config, database *sql.DB, jobs *schedule.Store, verbosity int) {
	fmt.Println("chime daemon started")
	fmt.Printf("  Database:       %s\n", cfg.DatabasePath())
	fmt.Printf("  Tick interval:  %v\n", cfg.TickInterval())
	fmt.Printf("  Misfire grace:  %v\n", cfg.MisfireGrace())
	fmt.Printf("  ntfy:           %s\n", cfg.Ntfy.URL)
	if cfg.Exec.Command != "" {
		fmt.Printf("  Exec hook:      %s\n", cfg.Exec.Command)
	}
	if logger.ShouldOutput(verbosity, logger.OutputConfig) {
		fmt.Printf("  Dispatch limit: %v\n", cfg.DispatchTimeout())
		fmt.Printf("  Rate limit:     %.1f/min\n", cfg.Ntfy.RateLimitPerMinute)
		fmt.Printf("  Default zone:   %s\n", cfg.Tasks.DefaultTimezone)
	}

	counts, err := task.NewStore(database).CountByStatus(ctx)
	if err == nil {
		fmt.Printf("  Pending tasks:  %d\n", counts[task.StatusPending])
	}

	next, err := jobs.NextScheduled(ctx)
	if err == nil && next != nil && next.NextFireAt != nil {
		fmt.Printf("  Next fire:      %s  [task:%s]\n",
			next.NextFireAt.Local().Format(time.RFC3339), next.TaskID)
	}

	fmt.Println("\nPress Ctrl+C for graceful shutdown")
}
