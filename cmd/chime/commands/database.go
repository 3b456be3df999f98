package commands

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/greenlonk/chime/config"
	"github.com/greenlonk/chime/db"
	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/logger"
	"github.com/greenlonk/chime/task"
)

// openDatabase opens and migrates a database at the specified path.
// If dbPath is empty, the configured path is used (default ~/.chime/chime.db).
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		dbPath = cfg.DatabasePath()
	}

	// The default location lives under ~/.chime, which may not exist yet
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
		}
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// openService wires a task service against the configured database.
// The caller owns the returned handle and must Close it.
func openService() (*task.Service, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, nil, err
	}

	svc := task.NewService(database, task.Defaults{
		Timezone:     cfg.Tasks.DefaultTimezone,
		SnoozeFor:    cfg.SnoozeDuration(),
		MisfireGrace: cfg.MisfireGrace(),
	})
	return svc, database, nil
}
