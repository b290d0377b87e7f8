package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/ledger"
	"github.com/lockplane/migrun/internal/migration"
)

var statusOpts runOptions

func init() {
	rootCmd.AddCommand(statusCmd)
	addConnectionFlags(statusCmd, &statusOpts)
	statusCmd.Flags().BoolVar(&statusOpts.noPrompt, "no-prompt", false, "Never prompt for missing connection details")
}

var statusCmd = &cobra.Command{
	Use:   "status [migrations-dir]",
	Short: "List migrations in execution order without running them",
	Long: `Status lists the migrations that apply would run, in the order it would run
them. When a ledger is configured it also shows which are already applied.
No SQL is executed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), &statusOpts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

type statusEntry struct {
	Name      string     `json:"name" yaml:"name"`
	Path      string     `json:"path" yaml:"path"`
	Applied   *bool      `json:"applied,omitempty" yaml:"applied,omitempty"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
	Changed   bool       `json:"changed,omitempty" yaml:"changed,omitempty"`
}

func runStatus(ctx context.Context, opts *runOptions, args []string, stdout, stderr io.Writer) error {
	format, err := outputFormat(opts.output)
	if err != nil {
		return err
	}

	rc, err := opts.load(args, stderr)
	if err != nil {
		return err
	}

	files, err := migration.Discover(rc.run.MigrationsDir, rc.run.Extension)
	if err != nil {
		return err
	}

	var applied map[string]ledger.Entry
	if rc.run.Ledger != config.LedgerNone {
		var conn connection.Config
		if rc.run.Ledger == config.LedgerTable {
			conn, err = opts.resolveConnection(ctx, rc)
			if err != nil {
				return err
			}
		}
		store, err := ledger.Open(ctx, rc.run, conn, rc.logger)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer func() { _ = store.Close() }()

		applied, err = store.Applied(ctx)
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}
	}

	entries := make([]statusEntry, 0, len(files))
	for _, f := range files {
		e := statusEntry{Name: f.Name, Path: f.Path}
		if applied != nil {
			entry, ok := applied[f.Name]
			e.Applied = &ok
			if ok {
				at := entry.AppliedAt
				e.AppliedAt = &at
				if content, err := migration.Load(f); err == nil && entry.Checksum != "" {
					e.Changed = entry.Checksum != migration.Checksum(content)
				}
			}
		}
		entries = append(entries, e)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(stdout, "%d migrations in %s\n", len(entries), rc.run.MigrationsDir)
	for i, e := range entries {
		line := fmt.Sprintf("%3d. %s", i+1, e.Name)
		switch {
		case e.Applied == nil:
		case *e.Applied && e.Changed:
			line += " " + color.YellowString("applied %s, changed since", e.AppliedAt.Format(time.RFC3339))
		case *e.Applied:
			line += " " + color.GreenString("applied %s", e.AppliedAt.Format(time.RFC3339))
		default:
			line += " " + color.CyanString("pending")
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}
