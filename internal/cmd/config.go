package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/stagehand/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View stagehand configuration",
	Long: `View stagehand configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/stagehand/stagehand.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "boot:")
	fmt.Fprintf(out, "  manifest: %s\n", cfg.Boot.Manifest)
	fmt.Fprintf(out, "  only_increase: %v\n", cfg.Boot.OnlyIncrease)
	fmt.Fprintf(out, "  animated: %v\n", cfg.Boot.Animated)
	fmt.Fprintf(out, "  fan_out: %v\n", cfg.Boot.FanOut)
	fmt.Fprintf(out, "  tick_interval_ms: %d\n", cfg.Boot.TickIntervalMs)
	fmt.Fprintf(out, "  join_grace_ms: %d\n", cfg.Boot.JoinGraceMs)
	fmt.Fprintf(out, "  chain: %v\n", cfg.Boot.Chain)
	fmt.Fprintf(out, "  watch_debounce_ms: %d\n", cfg.Boot.WatchDebounceMs)
	fmt.Fprintf(out, "  http_timeout_ms: %d\n", cfg.Boot.HTTPTimeoutMs)

	fmt.Fprintln(out, "progress:")
	fmt.Fprintf(out, "  width: %d\n", cfg.Progress.Width)
	fmt.Fprintf(out, "  show_percentage: %v\n", cfg.Progress.ShowPercentage)
	fmt.Fprintf(out, "  gradient_start: %s\n", cfg.Progress.GradientStart)
	fmt.Fprintf(out, "  gradient_end: %s\n", cfg.Progress.GradientEnd)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  dir: %s\n", cfg.Logging.Dir)

	fmt.Fprintln(out, "metrics:")
	fmt.Fprintf(out, "  addr: %s\n", cfg.Metrics.Addr)

	fmt.Fprintln(out, "telemetry:")
	fmt.Fprintf(out, "  endpoint: %s\n", cfg.Telemetry.Endpoint)
	fmt.Fprintf(out, "  service_name: %s\n", cfg.Telemetry.ServiceName)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Stagehand Configuration

boot:
  # Stage manifest to run
  manifest: stagehand.yaml
  # Never move the progress bar backwards
  only_increase: true
  # Animate the bar towards each new target
  animated: true
  # Run every unit an instance carries, not just the first
  fan_out: false
  # Frame length yielded between units, in milliseconds (0 = no frame wait)
  tick_interval_ms: 16
  # How long a restart waits for the superseded run, in milliseconds
  join_grace_ms: 5000
  # Hand off to the manifest's next stage once ready
  chain: true

# Terminal progress bar
progress:
  width: 48
  show_percentage: true

logging:
  # debug, info, warn, error
  level: info
  # Directory for boot.log (empty = stderr)
  dir: ""

# Prometheus endpoint, e.g. ":9464" (empty = disabled)
metrics:
  addr: ""

# OTLP/HTTP collector URL (empty = disabled)
telemetry:
  endpoint: ""
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. $HOME/.config/stagehand/stagehand.yaml\n")
	fmt.Fprintf(out, "  3. ./stagehand.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: STAGEHAND_* (e.g., STAGEHAND_BOOT_FAN_OUT)")

	return nil
}
