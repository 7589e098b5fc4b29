package config

import (
	"errors"
	"fmt"
)

// Errors returned by the engine.
var (
	// ErrSettingNotFound indicates the key resolves to no value.
	ErrSettingNotFound = errors.New("setting not found")

	// ErrTypeMismatch indicates the value type doesn't match the expected type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidOptions indicates the engine options are malformed.
	ErrInvalidOptions = errors.New("invalid options")
)

// TypeError is returned when a typed getter finds a value of another type.
type TypeError struct {
	// Path is the setting key.
	Path string
	// Expected is the expected type name.
	Expected string
	// Actual is the actual type name.
	Actual string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("type error for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Is implements error matching for TypeError.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}
