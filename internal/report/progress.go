package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/lockplane/migrun/internal/ledger"
	"github.com/lockplane/migrun/internal/migration"
)

// maxDiagnosticLines bounds the stderr lines echoed under a failed migration.
const maxDiagnosticLines = 5

// Progress prints one line per attempted migration as the run advances.
type Progress struct {
	W io.Writer
	// Verbose also announces each migration before it starts.
	Verbose bool
}

func NewProgress(w io.Writer, verbose bool) *Progress {
	return &Progress{W: w, Verbose: verbose}
}

func (p *Progress) Started(file migration.File) {
	if p.Verbose {
		fmt.Fprintf(p.W, "→ Applying %s\n", file.Name)
	}
}

func (p *Progress) Finished(result migration.Result) {
	elapsed := formatDuration(result.Duration)
	switch result.Status {
	case migration.StatusSucceeded:
		fmt.Fprintf(p.W, "%s %s (%s)\n", color.GreenString("✓"), result.File.Name, elapsed)
		return
	case migration.StatusTimedOut:
		fmt.Fprintf(p.W, "%s %s timed out (%s)\n", color.RedString("✗"), result.File.Name, elapsed)
	default:
		fmt.Fprintf(p.W, "%s %s failed (%s)\n", color.RedString("✗"), result.File.Name, elapsed)
	}

	for _, line := range diagnostics(result) {
		fmt.Fprintf(p.W, "    %s\n", line)
	}
}

func (p *Progress) Skipped(file migration.File, entry ledger.Entry) {
	fmt.Fprintf(p.W, "%s %s already applied\n", color.YellowString("-"), file.Name)
}

// diagnostics picks what to show under a failed migration: the client's
// stderr when there is any, otherwise the error.
func diagnostics(result migration.Result) []string {
	text := strings.TrimSpace(result.Stderr)
	if text == "" && result.Err != nil {
		text = result.Err.Error()
	}
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	if len(lines) > maxDiagnosticLines {
		extra := len(lines) - maxDiagnosticLines
		lines = append(lines[:maxDiagnosticLines], fmt.Sprintf("... (%d more lines)", extra))
	}
	return lines
}
