package config

import (
	"errors"
	"fmt"
)

// Configuration errors. Failures of parsing, template resolution and index
// generation wrap one of these.
var (
	// ErrInvalid is returned for malformed documents: missing fields, wrong
	// types, bad hex keys or unparseable conditions.
	ErrInvalid = errors.New("config: invalid")

	// ErrNotFound is returned when a referenced file or selector is missing.
	ErrNotFound = errors.New("config: not found")

	// ErrCircularImport is returned when template imports form a cycle.
	ErrCircularImport = errors.New("config: circular import")
)

// Invalidf returns an ErrInvalid wrapping the formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound wrapping the formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
