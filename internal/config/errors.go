package config

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationFailed wraps every validation problem.
	ErrValidationFailed = errors.New("validation failed")

	// ErrFileNotFound is returned when an explicitly named file is missing.
	ErrFileNotFound = errors.New("config file not found")
)

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
