package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/am"
	"github.com/teranos/dialpulse/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.Control + " Manage dialpulse configuration",
	Long: sym.Control + ` am - Manage dialpulse configuration

Configuration sources (in order of precedence):
1. Environment variables (DIALPULSE_* prefix)
2. Project config (./am.toml, searched up from the working directory)
3. User config (~/.dialpulse/am.toml)
4. System config (/etc/dialpulse/am.toml)
5. Default values

A running Pulse daemon watches these files and picks up
dialer.global_cps without a restart.

Examples:
  dialpulse am show                      # Show current configuration
  dialpulse am show --format json
  dialpulse am get dialer.global_cps
  dialpulse am set dialer.global_cps 25  # Written to the user config
  dialpulse am validate
  dialpulse am where`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, dialer.global_cps)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a configuration value to the user config",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files are loaded",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		masked := *cfg
		if masked.Telephony.APIKey != "" {
			masked.Telephony.APIKey = "********"
		}
		data, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "toml":
		fmt.Println("# dialpulse configuration")
		return am.WriteTOML(os.Stdout, cfg)

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Println(v.Get(key))
	return nil
}

// parseValue keeps TOML types: integers, floats and booleans stay typed
func parseValue(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]
	if key == "dialer.global_cps" {
		cps, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("dialer.global_cps must be an integer: %w", err)
		}
		if err := am.UpdateGlobalCPS(cps); err != nil {
			return err
		}
	} else {
		path := am.UserConfigPath()
		if path == "" {
			return fmt.Errorf("could not determine home directory")
		}
		if err := am.SetValue(path, key, parseValue(raw)); err != nil {
			return err
		}
	}
	fmt.Printf("✓ %s = %s\n", key, raw)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/dialpulse/am.toml")
	fmt.Printf("  3. [USER]     %s\n", am.UserConfigPath())
	fmt.Println("  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Println("  5. [ENV]      DIALPULSE_* environment variables")
	fmt.Println()

	paths := am.ConfigPaths()
	if len(paths) == 0 {
		fmt.Println("No configuration files found; using defaults")
		return nil
	}
	fmt.Println("Loaded files:")
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
	return nil
}
