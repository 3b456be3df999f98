package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/greenlonk/chime/task"
)

var taskImportCmd = &cobra.Command{
	Use:   "import <file.toml>",
	Short: "Create tasks in bulk from a TOML file",
	Long: `Create tasks in bulk from a TOML file.

Each task goes through the same validation as 'chime task add': an
entry with an invalid cron expression or timezone is reported and
skipped, the rest are created.

File format:

  [[tasks]]
  title = "Water the plants"
  topic = "chores"
  cron  = "0 9 * * *"
  # optional: timezone, body, description, priority, tags, notes,
  # grace_seconds

Example:
  chime task import reminders.toml`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskImport,
}

type importFile struct {
	Tasks []importTask `toml:"tasks"`
}

type importTask struct {
	Title        string   `toml:"title"`
	Description  string   `toml:"description"`
	Topic        string   `toml:"topic"`
	Body         string   `toml:"body"`
	Cron         string   `toml:"cron"`
	Timezone     string   `toml:"timezone"`
	Priority     string   `toml:"priority"`
	Tags         []string `toml:"tags"`
	Notes        string   `toml:"notes"`
	GraceSeconds int      `toml:"grace_seconds"`
}

func runTaskImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var file importFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	if len(file.Tasks) == 0 {
		return fmt.Errorf("%s contains no [[tasks]] entries", args[0])
	}

	svc, database, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	var created, failed int
	for i, entry := range file.Tasks {
		t, err := svc.Create(cmd.Context(), task.CreateRequest{
			Title:          entry.Title,
			Description:    entry.Description,
			Topic:          entry.Topic,
			Body:           entry.Body,
			CronExpression: entry.Cron,
			Timezone:       entry.Timezone,
			Priority:       entry.Priority,
			Tags:           entry.Tags,
			Notes:          entry.Notes,
			MisfireGrace:   time.Duration(entry.GraceSeconds) * time.Second,
		})
		if err != nil {
			failed++
			pterm.Error.Printf("tasks[%d] %q: %v\n", i, entry.Title, err)
			continue
		}
		created++
		pterm.Printf("  %s %s (%s)\n", pterm.LightGreen("✓ Created:"), t.Title, shortID(t.ID))
	}

	pterm.Println()
	if failed > 0 {
		pterm.Warning.Printf("Imported %d task(s), %d failed\n", created, failed)
		return fmt.Errorf("%d of %d tasks failed to import", failed, len(file.Tasks))
	}
	pterm.Success.Printf("Imported %d task(s)\n", created)
	return nil
}
