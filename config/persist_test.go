package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

func TestSetNested(t *testing.T) {
	t.Run("creates sections on demand", func(t *testing.T) {
		doc := map[string]interface{}{}
		if err := setNested(doc, "ntfy.url", "https://example.com"); err != nil {
			t.Fatalf("setNested() failed: %v", err)
		}

		section, ok := doc["ntfy"].(map[string]interface{})
		if !ok {
			t.Fatalf("expected ntfy section, got %T", doc["ntfy"])
		}
		if section["url"] != "https://example.com" {
			t.Errorf("expected url set, got %v", section["url"])
		}
	})

	t.Run("updates existing section", func(t *testing.T) {
		doc := map[string]interface{}{
			"daemon": map[string]interface{}{"tick_interval_seconds": 1},
		}
		if err := setNested(doc, "daemon.dispatch_timeout_seconds", 20); err != nil {
			t.Fatalf("setNested() failed: %v", err)
		}

		section := doc["daemon"].(map[string]interface{})
		if section["tick_interval_seconds"] != 1 {
			t.Error("existing key should be preserved")
		}
		if section["dispatch_timeout_seconds"] != 20 {
			t.Errorf("expected new key set, got %v", section["dispatch_timeout_seconds"])
		}
	})

	t.Run("top-level key", func(t *testing.T) {
		doc := map[string]interface{}{}
		if err := setNested(doc, "verbose", true); err != nil {
			t.Fatalf("setNested() failed: %v", err)
		}
		if doc["verbose"] != true {
			t.Errorf("expected top-level key set, got %v", doc["verbose"])
		}
	})

	t.Run("scalar in the middle of the path", func(t *testing.T) {
		doc := map[string]interface{}{"daemon": 42}
		err := setNested(doc, "daemon.tick_interval_seconds", 1)
		if err == nil {
			t.Error("expected error when intermediate key is a value")
		}
	})
}

func TestCreateBackupRotation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	readBack := func(path string) string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read %s: %v", path, err)
		}
		return string(data)
	}

	write := func(content string) {
		if err := os.WriteFile(configPath, []byte(content), DefaultFilePermissions); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}

	// No config yet: backup is a no-op
	if err := createBackup(configPath); err != nil {
		t.Fatalf("createBackup() on missing file failed: %v", err)
	}
	if _, err := os.Stat(configPath + ".back1"); !os.IsNotExist(err) {
		t.Error("expected no backup for missing config")
	}

	write("v1")
	createBackup(configPath)
	if got := readBack(configPath + ".back1"); got != "v1" {
		t.Errorf("back1 = %q, want v1", got)
	}

	write("v2")
	createBackup(configPath)
	if got := readBack(configPath + ".back1"); got != "v2" {
		t.Errorf("back1 = %q, want v2", got)
	}
	if got := readBack(configPath + ".back2"); got != "v1" {
		t.Errorf("back2 = %q, want v1", got)
	}

	write("v3")
	createBackup(configPath)

	write("v4")
	createBackup(configPath)
	if got := readBack(configPath + ".back1"); got != "v4" {
		t.Errorf("back1 = %q, want v4", got)
	}
	if got := readBack(configPath + ".back2"); got != "v3" {
		t.Errorf("back2 = %q, want v3", got)
	}
	// v1 fell off the end of the rotation
	if got := readBack(configPath + ".back3"); got != "v2" {
		t.Errorf("back3 = %q, want v2", got)
	}
}

func TestSetValue(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := SetValue("ntfy.url", "https://set.example.com"); err != nil {
		t.Fatalf("SetValue() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpHome, ".chime", "config.toml"))
	if err != nil {
		t.Fatalf("user config not written: %v", err)
	}

	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("written config is not valid TOML: %v", err)
	}
	section, ok := doc["ntfy"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected ntfy section, got %T", doc["ntfy"])
	}
	if section["url"] != "https://set.example.com" {
		t.Errorf("url = %v", section["url"])
	}

	// Second write preserves the first key and rotates a backup
	if err := SetValue("daemon.tick_interval_seconds", 2); err != nil {
		t.Fatalf("second SetValue() failed: %v", err)
	}

	data, _ = os.ReadFile(filepath.Join(tmpHome, ".chime", "config.toml"))
	if !strings.Contains(string(data), "set.example.com") {
		t.Error("first value lost on second write")
	}
	if _, err := os.Stat(filepath.Join(tmpHome, ".chime", "config.toml.back1")); err != nil {
		t.Errorf("expected backup after second write: %v", err)
	}
}
