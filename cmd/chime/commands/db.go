package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/greenlonk/chime/config"
	"github.com/greenlonk/chime/db"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database operations",
	Long: `Database operations.

Examples:
  chime db migrate   # bring the schema up to date
  chime db status    # applied migrations and row counts
  chime db path      # print the database file path`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations and row counts",
	RunE:  runDbStatus,
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the database file path",
	RunE:  runDbPath,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
	DbCmd.AddCommand(dbPathCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Schema up to date (%d migrations applied)\n", len(versions))
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dbPath := cfg.DatabasePath()

	if _, err := os.Stat(dbPath); err != nil {
		fmt.Printf("Database: %s (not created yet; run 'chime db migrate')\n", dbPath)
		return nil
	}

	// Open without migrating so status never mutates the schema
	database, err := db.Open(dbPath, nil)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("Database: %s\n", dbPath)

	versions, err := db.AppliedVersions(database)
	if err != nil {
		fmt.Println("Migrations: none applied (run 'chime db migrate')")
		return nil
	}
	fmt.Printf("Migrations: %d applied", len(versions))
	if len(versions) > 0 {
		fmt.Printf(" (latest %s)", versions[len(versions)-1])
	}
	fmt.Println()

	for _, table := range []string{"tasks", "scheduled_jobs", "task_history"} {
		var count int
		if err := database.QueryRowContext(cmd.Context(),
			"SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			continue
		}
		fmt.Printf("  %-15s %d rows\n", table, count)
	}
	return nil
}

func runDbPath(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// Bare path so shell scripts can consume it
	fmt.Println(cfg.DatabasePath())
	return nil
}
