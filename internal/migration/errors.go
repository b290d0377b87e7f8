package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means no usable connection parameters could be resolved.
	ErrConfiguration = errors.New("configuration error")

	// ErrNoMigrationsFound means the migrations directory is missing or empty.
	ErrNoMigrationsFound = errors.New("no migrations found")

	// ErrConnectivity means a session could not be established for a migration.
	ErrConnectivity = errors.New("connectivity error")

	// ErrExecution means the database rejected the migration.
	ErrExecution = errors.New("execution error")

	// ErrTimeout means the migration exceeded its execution bound.
	ErrTimeout = errors.New("migration timed out")
)

// Error wraps a per-file failure with the migration it belongs to.
type Error struct {
	File File
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.File.Name, e.Kind)
	case errors.Is(e.Err, e.Kind):
		// The cause already names its kind.
		return fmt.Sprintf("%s: %v", e.File.Name, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.File.Name, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds a per-file error of the given kind.
func NewError(file File, kind error, err error) *Error {
	return &Error{File: file, Kind: kind, Err: err}
}
