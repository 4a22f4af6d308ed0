package config

import (
	"errors"
	"fmt"
)

// ErrInvalid matches every *ConfigError.
var ErrInvalid = errors.New("invalid configuration")

// ConfigError reports a missing or malformed configuration value.
// It is fatal at startup.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	s := "config"
	if e.Field != "" {
		s += " " + e.Field
	}
	s += ": " + e.Msg
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrInvalid }

func invalid(field, msg string, err error) *ConfigError {
	return &ConfigError{Field: field, Msg: msg, Err: err}
}
