package config

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid or unusable configuration value.
// It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Invalid builds a ConfigError for field.
func Invalid(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a startup failure (unopenable store, bad engine) to field.
func Wrap(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Reason: "unusable", Err: err}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
