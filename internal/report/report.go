// Package report folds migration results into counts, renders summaries and
// decides the process exit status.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/lockplane/migrun/internal/migration"
)

// Report summarizes one run.
type Report struct {
	RunID string
	// Target is the redacted connection string.
	Target      string
	Discovered  int
	Results     []migration.Result
	Skipped     []migration.File
	Interrupted bool

	SuccessCount int
	FailureCount int
}

// New folds results into a report. discovered is the number of files found
// on disk, which may exceed len(results) under the halt policy.
func New(discovered int, results []migration.Result, skipped []migration.File) Report {
	r := Report{
		Discovered: discovered,
		Results:    results,
		Skipped:    skipped,
	}
	for _, res := range results {
		if res.Succeeded() {
			r.SuccessCount++
		} else {
			r.FailureCount++
		}
	}
	return r
}

// Attempted is the number of migrations that were tried.
func (r Report) Attempted() int {
	return len(r.Results)
}

// NotAttempted counts files neither tried nor skipped.
func (r Report) NotAttempted() int {
	n := r.Discovered - r.Attempted() - len(r.Skipped)
	if n < 0 {
		return 0
	}
	return n
}

// Success reports whether the run should be treated as successful: nothing
// failed, the run was not interrupted, and at least one migration was
// attempted or every discovered migration was already applied.
func (r Report) Success() bool {
	if r.FailureCount > 0 || r.Interrupted {
		return false
	}
	if r.Attempted() > 0 {
		return true
	}
	return r.Discovered > 0 && len(r.Skipped) == r.Discovered
}

// ExitCode is 0 on success and 1 otherwise.
func (r Report) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}

// WriteText renders the human-readable summary block.
func (r Report) WriteText(w io.Writer) error {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	var b strings.Builder
	_, _ = bold.Fprintln(&b, "Migration summary")
	if r.Target != "" {
		fmt.Fprintf(&b, "  Target:        %s\n", r.Target)
	}
	fmt.Fprintf(&b, "  Discovered:    %d\n", r.Discovered)
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "  Skipped:       %d (already applied)\n", len(r.Skipped))
	}
	fmt.Fprintf(&b, "  Attempted:     %d\n", r.Attempted())
	fmt.Fprintf(&b, "  Succeeded:     %s\n", green.Sprint(r.SuccessCount))
	if r.FailureCount > 0 {
		fmt.Fprintf(&b, "  Failed:        %s\n", red.Sprint(r.FailureCount))
	} else {
		fmt.Fprintf(&b, "  Failed:        %d\n", r.FailureCount)
	}
	if n := r.NotAttempted(); n > 0 {
		fmt.Fprintf(&b, "  Not attempted: %s\n", yellow.Sprint(n))
	}

	var failed []migration.Result
	for _, res := range r.Results {
		if !res.Succeeded() {
			failed = append(failed, res)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n")
		_, _ = bold.Fprintln(&b, "Failures")
		for _, res := range failed {
			fmt.Fprintf(&b, "  %s %s (%s)\n", red.Sprint("✗"), res.File.Name, res.Status)
			if res.Err != nil {
				fmt.Fprintf(&b, "      %v\n", res.Err)
			}
		}
	}

	b.WriteString("\n")
	switch {
	case r.Success():
		_, _ = green.Fprintln(&b, "✓ All migrations applied")
	case r.Interrupted:
		_, _ = yellow.Fprintln(&b, "⚠ Run interrupted")
	case r.Attempted() == 0:
		_, _ = red.Fprintln(&b, "✗ No migrations were attempted")
	default:
		_, _ = red.Fprintf(&b, "✗ %d of %d migrations failed\n", r.FailureCount, r.Attempted())
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type summary struct {
	RunID        string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Target       string        `json:"target,omitempty" yaml:"target,omitempty"`
	Success      bool          `json:"success" yaml:"success"`
	ExitCode     int           `json:"exit_code" yaml:"exit_code"`
	Interrupted  bool          `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	Discovered   int           `json:"discovered" yaml:"discovered"`
	Attempted    int           `json:"attempted" yaml:"attempted"`
	SuccessCount int           `json:"success_count" yaml:"success_count"`
	FailureCount int           `json:"failure_count" yaml:"failure_count"`
	Skipped      []string      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Results      []resultEntry `json:"results" yaml:"results"`
}

type resultEntry struct {
	Name       string           `json:"name" yaml:"name"`
	Path       string           `json:"path" yaml:"path"`
	Status     migration.Status `json:"status" yaml:"status"`
	DurationMs int64            `json:"duration_ms" yaml:"duration_ms"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	Stdout     string           `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr     string           `json:"stderr,omitempty" yaml:"stderr,omitempty"`
}

func (r Report) summary() summary {
	s := summary{
		RunID:        r.RunID,
		Target:       r.Target,
		Success:      r.Success(),
		ExitCode:     r.ExitCode(),
		Interrupted:  r.Interrupted,
		Discovered:   r.Discovered,
		Attempted:    r.Attempted(),
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		Results:      make([]resultEntry, 0, len(r.Results)),
	}
	for _, f := range r.Skipped {
		s.Skipped = append(s.Skipped, f.Name)
	}
	for _, res := range r.Results {
		e := resultEntry{
			Name:       res.File.Name,
			Path:       res.File.Path,
			Status:     res.Status,
			DurationMs: res.DurationMs(),
			Stdout:     res.Stdout,
			Stderr:     res.Stderr,
		}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		s.Results = append(s.Results, e)
	}
	return s
}

// WriteJSON renders the summary as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.summary()); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteYAML renders the summary as YAML.
func (r Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r.summary()); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// Write renders the report in the named format: text, json or yaml.
func (r Report) Write(w io.Writer, format string) error {
	switch format {
	case "", "text":
		return r.WriteText(w)
	case "json":
		return r.WriteJSON(w)
	case "yaml":
		return r.WriteYAML(w)
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}
