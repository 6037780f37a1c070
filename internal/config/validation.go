package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors. The returned error is a
// ValidationErrors when non-nil.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors
	add := func(field, msg string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(msg, args...)})
	}

	if c.Version < 1 || c.Version > Version {
		add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	if c.Document.EditorVersion == "" {
		add("document.editor_version", "must not be empty")
	}

	if c.Storage.Path == "" {
		add("storage.path", "must not be empty")
	}
	if c.Storage.BusyTimeoutMs < 0 {
		add("storage.busy_timeout_ms", "must not be negative")
	}
	if c.Storage.VerifyConcurrency < 1 {
		add("storage.verify_concurrency", "must be at least 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format", "unknown format %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "discard":
	case "file", "both":
		if c.Logging.FilePath == "" {
			add("logging.file_path", "required when output is %s", c.Logging.Output)
		}
	default:
		add("logging.output", "unknown output %q", c.Logging.Output)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen", "invalid address %q: %v", c.Metrics.Listen, err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
