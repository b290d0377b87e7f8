package migration

import (
	"fmt"
	"time"
)

// File is a single migration discovered on disk.
type File struct {
	Path string `json:"path" yaml:"path"`
	Name string `json:"name" yaml:"name"`
	// Key is the ordinal key. Files run in ascending Key order.
	Key string `json:"-" yaml:"-"`
}

func (f File) String() string {
	return f.Name
}

// Status is the terminal state of an attempted migration.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText lets reports encode the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result records the outcome of one attempted migration.
type Result struct {
	File     File          `json:"migration" yaml:"migration"`
	Status   Status        `json:"status" yaml:"status"`
	Stdout   string        `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Duration time.Duration `json:"-" yaml:"-"`
	Err      error         `json:"-" yaml:"-"`
}

// Succeeded reports whether the migration was applied.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// DurationMs is the elapsed time in whole milliseconds.
func (r Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
