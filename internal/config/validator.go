package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "boot.join_grace_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// hexColorRegex validates #RGB and #RRGGBB colors
var hexColorRegex = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Bounds for numeric settings
const (
	minProgressWidth = 10
	maxProgressWidth = 96
	maxTickMs        = 1000
	maxJoinGraceMs   = 60_000
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBoot()...)
	errors = append(errors, c.validateProgress()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateObservability()...)

	return errors
}

// validateBoot validates the BootConfig
func (c *Config) validateBoot() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Boot.Manifest) == "" {
		errors = append(errors, ValidationError{
			Field:   "boot.manifest",
			Value:   c.Boot.Manifest,
			Message: "must not be empty",
		})
	}

	if c.Boot.TickIntervalMs < 0 || c.Boot.TickIntervalMs > maxTickMs {
		errors = append(errors, ValidationError{
			Field:   "boot.tick_interval_ms",
			Value:   c.Boot.TickIntervalMs,
			Message: fmt.Sprintf("must be between 0 and %d", maxTickMs),
		})
	}

	// Negative skips the wait entirely; anything above a minute hides a stuck run
	if c.Boot.JoinGraceMs > maxJoinGraceMs {
		errors = append(errors, ValidationError{
			Field:   "boot.join_grace_ms",
			Value:   c.Boot.JoinGraceMs,
			Message: fmt.Sprintf("exceeds maximum of %d", maxJoinGraceMs),
		})
	}

	if c.Boot.WatchDebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "boot.watch_debounce_ms",
			Value:   c.Boot.WatchDebounceMs,
			Message: "must be non-negative",
		})
	}

	if c.Boot.HTTPTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "boot.http_timeout_ms",
			Value:   c.Boot.HTTPTimeoutMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateProgress validates the ProgressConfig
func (c *Config) validateProgress() []ValidationError {
	var errors []ValidationError

	if c.Progress.Width < minProgressWidth || c.Progress.Width > maxProgressWidth {
		errors = append(errors, ValidationError{
			Field:   "progress.width",
			Value:   c.Progress.Width,
			Message: fmt.Sprintf("must be between %d and %d", minProgressWidth, maxProgressWidth),
		})
	}

	for field, value := range map[string]string{
		"progress.gradient_start": c.Progress.GradientStart,
		"progress.gradient_end":   c.Progress.GradientEnd,
	} {
		if value != "" && !hexColorRegex.MatchString(value) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   value,
				Message: "must be a hex color like #A78BFA",
			})
		}
	}
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateObservability validates the MetricsConfig and TelemetryConfig
func (c *Config) validateObservability() []ValidationError {
	var errors []ValidationError

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			errors = append(errors, ValidationError{
				Field:   "metrics.addr",
				Value:   c.Metrics.Addr,
				Message: "must be host:port",
			})
		}
	}

	if c.Telemetry.Endpoint != "" {
		u, err := url.Parse(c.Telemetry.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "telemetry.endpoint",
				Value:   c.Telemetry.Endpoint,
				Message: "must be an http(s) URL",
			})
		}
	}

	return errors
}
