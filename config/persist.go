package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before
// modifying a config file.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // no file to back up
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Rotate: .back3 dropped, .back2 -> .back3, .back1 -> .back2,
	// current -> .back1
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Logger.Warnw("Failed to delete old config backup",
			"path", back3,
			logger.FieldError, err,
		)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// loadOrInitializeUserConfig loads the user config file, or starts an
// empty document when none exists yet.
func loadOrInitializeUserConfig() (map[string]interface{}, string, error) {
	configPath := UserConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .chime directory")
	}

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse user config")
		}
	} else {
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveUserConfig writes the document back with a backup, marking the
// write so the watcher does not reload our own change.
func saveUserConfig(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write user config")
	}

	return nil
}

// SetValue updates one key (dot notation, e.g. "ntfy.url") in the user
// config file, creating intermediate sections as needed.
func SetValue(key string, value interface{}) error {
	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return err
	}

	if err := setNested(config, key, value); err != nil {
		return err
	}

	return saveUserConfig(config, configPath)
}

// setNested walks the dotted key through the document, creating tables
// on the way down and replacing the leaf.
func setNested(doc map[string]interface{}, key string, value interface{}) error {
	parts := strings.Split(key, ".")
	node := doc
	for i, part := range parts {
		if part == "" {
			return errors.Newf("invalid config key %q", key)
		}
		if i == len(parts)-1 {
			node[part] = value
			return nil
		}
		child, ok := node[part].(map[string]interface{})
		if !ok {
			if _, exists := node[part]; exists {
				return errors.Newf("config key %q is a value, not a section", strings.Join(parts[:i+1], "."))
			}
			child = make(map[string]interface{})
			node[part] = child
		}
		node = child
	}
	return nil
}
