package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. STAGEHAND_BOOT_FAN_OUT.
const EnvPrefix = "STAGEHAND"

// Config represents the complete stagehand configuration
type Config struct {
	Boot      BootConfig      `mapstructure:"boot"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// BootConfig controls how a stage runs
type BootConfig struct {
	// Manifest is the stage manifest to run (default: "stagehand.yaml")
	Manifest string `mapstructure:"manifest"`
	// OnlyIncrease clamps progress requests that would move the bar backwards (default: true)
	OnlyIncrease bool `mapstructure:"only_increase"`
	// Animated asks the progress surface to animate towards each new target (default: true)
	Animated bool `mapstructure:"animated"`
	// FanOut runs every unit an instance carries instead of only the first (default: false)
	FanOut bool `mapstructure:"fan_out"`
	// TickIntervalMs is the frame length the scheduler yields for between units (0 = no frame wait)
	TickIntervalMs int `mapstructure:"tick_interval_ms"`
	// JoinGraceMs bounds the wait for a superseded run on restart
	JoinGraceMs int `mapstructure:"join_grace_ms"`
	// Chain hands off to the manifest's next stage after a stage is ready (default: true)
	Chain bool `mapstructure:"chain"`
	// WatchDebounceMs collapses bursts of manifest writes in watch mode
	WatchDebounceMs int `mapstructure:"watch_debounce_ms"`
	// HTTPTimeoutMs is the timeout of the shared HTTP client used by http_check steps
	HTTPTimeoutMs int `mapstructure:"http_timeout_ms"`
}

// ProgressConfig controls the terminal progress bar
type ProgressConfig struct {
	// Width is the bar width in columns (default: 48, min: 10, max: 96)
	Width int `mapstructure:"width"`
	// ShowPercentage prints the percentage next to the bar (default: true)
	ShowPercentage bool `mapstructure:"show_percentage"`
	// GradientStart and GradientEnd are hex colors of the bar fill
	GradientStart string `mapstructure:"gradient_start"`
	GradientEnd   string `mapstructure:"gradient_end"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Level is the minimum level written: debug, info, warn, error (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where boot.log is written. Empty means stderr.
	Dir string `mapstructure:"dir"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics, e.g. ":9464". Empty disables it.
	Addr string `mapstructure:"addr"`
}

// TelemetryConfig controls OpenTelemetry tracing
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint. Empty disables tracing.
	Endpoint string `mapstructure:"endpoint"`
	// ServiceName is reported as service.name (default: "stagehand")
	ServiceName string `mapstructure:"service_name"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Boot: BootConfig{
			Manifest:        "stagehand.yaml",
			OnlyIncrease:    true,
			Animated:        true,
			FanOut:          false,
			TickIntervalMs:  16, // ~60 frames per second
			JoinGraceMs:     5000,
			Chain:           true,
			WatchDebounceMs: 100,
			HTTPTimeoutMs:   5000,
		},
		Progress: ProgressConfig{
			Width:          48,
			ShowPercentage: true,
			GradientStart:  "#A78BFA",
			GradientEnd:    "#10B981",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stagehand",
		},
	}
}

// TickInterval returns the scheduler frame length as a Duration
func (c *BootConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// JoinGrace returns the restart join grace as a Duration
func (c *BootConfig) JoinGrace() time.Duration {
	return time.Duration(c.JoinGraceMs) * time.Millisecond
}

// WatchDebounce returns the manifest watch debounce as a Duration
func (c *BootConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// HTTPTimeout returns the shared HTTP client timeout as a Duration
func (c *BootConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Boot defaults
	viper.SetDefault("boot.manifest", defaults.Boot.Manifest)
	viper.SetDefault("boot.only_increase", defaults.Boot.OnlyIncrease)
	viper.SetDefault("boot.animated", defaults.Boot.Animated)
	viper.SetDefault("boot.fan_out", defaults.Boot.FanOut)
	viper.SetDefault("boot.tick_interval_ms", defaults.Boot.TickIntervalMs)
	viper.SetDefault("boot.join_grace_ms", defaults.Boot.JoinGraceMs)
	viper.SetDefault("boot.chain", defaults.Boot.Chain)
	viper.SetDefault("boot.watch_debounce_ms", defaults.Boot.WatchDebounceMs)
	viper.SetDefault("boot.http_timeout_ms", defaults.Boot.HTTPTimeoutMs)

	// Progress defaults
	viper.SetDefault("progress.width", defaults.Progress.Width)
	viper.SetDefault("progress.show_percentage", defaults.Progress.ShowPercentage)
	viper.SetDefault("progress.gradient_start", defaults.Progress.GradientStart)
	viper.SetDefault("progress.gradient_end", defaults.Progress.GradientEnd)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Observability defaults
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
	viper.SetDefault("telemetry.endpoint", defaults.Telemetry.Endpoint)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
}

// Load reads the configuration from viper into a Config struct.
// It validates the configuration and returns an error if validation fails.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "stagehand")
	}
	// Fall back to ~/.config/stagehand
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stagehand"
	}
	return filepath.Join(home, ".config", "stagehand")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "stagehand.yaml")
}
