package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/greenlonk/chime/config"
)

// ConfigCmd groups configuration operations.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and edit configuration",
	Long: `Show and edit configuration.

Configuration sources (in order of precedence):
1. Environment variables (CHIME_* prefix)
2. Project config (chime.toml, searched upward from CWD)
3. User config (~/.chime/config.toml)
4. System config (/etc/chime/config.toml)
5. Default values

Examples:
  chime config show                  # effective configuration
  chime config show --format yaml
  chime config get ntfy.url
  chime config set ntfy.url https://ntfy.example.com
  chime config validate
  chime config where`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Display the merged configuration from all sources, in TOML, JSON, or YAML.",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get one configuration value",
	Long:  "Get a configuration value by dotted key (e.g. ntfy.url, daemon.tick_interval_seconds).",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist one configuration value",
	Long: `Write a configuration value to the user config file
(~/.chime/config.toml), keeping rotating backups of the previous
contents. Environment variables still override persisted values.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files are in effect",
	RunE:  runConfigWhere,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Render viper's merged map rather than the typed struct so the
	// printed keys are the same dotted names 'config set' accepts.
	settings := config.GetViper().AllSettings()
	redactToken(settings)

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# chime configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# chime configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

// redactToken keeps the ntfy bearer token out of terminal output and
// shell history captures.
func redactToken(settings map[string]interface{}) {
	ntfy, ok := settings["ntfy"].(map[string]interface{})
	if !ok {
		return
	}
	if token, ok := ntfy["token"].(string); ok && token != "" {
		ntfy["token"] = "[redacted]"
	}
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	if _, err := config.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !config.GetViper().IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	fmt.Println(config.Get(key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	if err := config.SetValue(key, parseScalar(raw)); err != nil {
		return err
	}

	pterm.Success.Printf("Set %s = %s\n", key, raw)
	fmt.Printf("  Written to %s\n", config.UserConfigPath())
	return nil
}

// parseScalar types a command-line value the way TOML would: integer,
// then float, then bool, falling back to string.
func parseScalar(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")

	printSource := func(n int, label, path string) {
		state := "absent"
		if path == "" {
			state = "-"
		} else if _, err := os.Stat(path); err == nil {
			state = "active"
		}
		if path == "" {
			path = "(none found)"
		}
		fmt.Printf("  %d. [%-7s] %-40s %s\n", n, label, path, state)
	}

	fmt.Printf("  1. [%-7s] %-40s %s\n", "DEFAULT", "built-in defaults", "active")
	printSource(2, "SYSTEM", config.SystemConfigPath)
	printSource(3, "USER", config.UserConfigPath())
	printSource(4, "PROJECT", config.ProjectConfigPath())
	fmt.Printf("  5. [%-7s] %-40s %s\n", "ENV", "CHIME_* environment variables", "active")
	return nil
}
