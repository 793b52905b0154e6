package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfiguration is wrapped by every ValidationError.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string

	// Err optionally carries a more specific cause, e.g. ErrMissingPort.
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfiguration, e.Err}
	}
	return []error{ErrInvalidConfiguration}
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or the joined field errors.
func Validate(cfg *Config) error {
	var errs []error

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Observability.LogFormat] {
		errs = append(errs, invalid("log_format", "must be 'json' or 'text' (got %q)", cfg.Observability.LogFormat))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[cfg.Observability.LogLevel] {
		errs = append(errs, invalid("log_level", "must be debug, info, warn or error (got %q)", cfg.Observability.LogLevel))
	}

	if cfg.Stream.GracePeriod.Std() <= 0 {
		errs = append(errs, invalid("grace_period", "must be positive"))
	}
	if cfg.Stream.GracePeriod.Std() > 5*time.Minute {
		errs = append(errs, invalid("grace_period", "must be at most 5m (got %v)", cfg.Stream.GracePeriod.Std()))
	}

	if cfg.Stream.Manifest == "" {
		errs = append(errs, invalid("manifest", "must not be empty"))
	}

	if cfg.Stream.TailLines < 1 {
		errs = append(errs, invalid("tail_lines", "must be at least 1"))
	}

	if cfg.Events.Buffer < 1 {
		errs = append(errs, invalid("buffer", "must be at least 1"))
	}

	if cfg.Paths.BuildDir == "" {
		errs = append(errs, invalid("build_dir", "must not be empty"))
	}

	if cfg.Paths.ProjectRoot == "" && len(cfg.Paths.Markers) == 0 {
		errs = append(errs, invalid("markers", "at least one root marker is required when project_root is unset"))
	}

	if cfg.History.Enabled && cfg.History.Path == "" {
		errs = append(errs, invalid("history.path", "required when history is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
