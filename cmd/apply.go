package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lockplane/migrun/internal/executor"
	"github.com/lockplane/migrun/internal/ledger"
	"github.com/lockplane/migrun/internal/migration"
	"github.com/lockplane/migrun/internal/report"
	"github.com/lockplane/migrun/internal/session"
)

var applyOpts runOptions

func init() {
	rootCmd.AddCommand(applyCmd)

	f := applyCmd.Flags()
	addConnectionFlags(applyCmd, &applyOpts)
	f.StringVar(&applyOpts.policy, "policy", "", "Failure policy: halt or continue (default halt)")
	f.StringVar(&applyOpts.backend, "backend", "", "Execution backend: process, driver or api (default driver)")
	f.StringVar(&applyOpts.timeout, "timeout", "", "Per-migration timeout, e.g. 30s or 5m (default 5m)")
	f.StringVar(&applyOpts.transaction, "transaction", "", "Transaction mode: none or per-file (default none)")
	f.IntVar(&applyOpts.maxOutput, "max-output", 0, "Bytes of client output kept per migration (default 2000)")
	f.BoolVar(&applyOpts.noPrompt, "no-prompt", false, "Never prompt for missing connection details")
}

// addConnectionFlags registers the flags shared by commands that connect.
func addConnectionFlags(cmd *cobra.Command, opts *runOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.dbURL, "db-url", "", "Database connection string (postgresql://, sqlite://, file:, libsql://)")
	f.StringVar(&opts.host, "host", "", "Database host")
	f.StringVar(&opts.port, "port", "", "Database port (default 5432)")
	f.StringVar(&opts.database, "database", "", "Database name (default postgres)")
	f.StringVar(&opts.user, "user", "", "Database user (default postgres)")
	f.StringVar(&opts.projectRef, "project-ref", "", "Hosted project ref; derives the database host")
	f.StringVar(&opts.ledger, "ledger", "", "Record applied migrations: none, table or file (default none)")
	f.StringVarP(&opts.output, "output", "o", "text", "Output format: text, json or yaml")
}

var applyCmd = &cobra.Command{
	Use:   "apply [migrations-dir]",
	Short: "Apply every migration in the directory, in filename order",
	Long: `Apply runs each SQL file in the migrations directory against the database in
filename order, one file per session. With --policy halt (the default) the run
stops at the first failure; with --policy continue every file is attempted.

The exit status is 0 only when every attempted migration succeeded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		code, err := runApply(ctx, &applyOpts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func runApply(ctx context.Context, opts *runOptions, args []string, stdout, stderr io.Writer) (int, error) {
	format, err := outputFormat(opts.output)
	if err != nil {
		return 1, err
	}

	rc, err := opts.load(args, stderr)
	if err != nil {
		return 1, err
	}

	files, err := migration.Discover(rc.run.MigrationsDir, rc.run.Extension)
	if err != nil {
		return 1, err
	}
	rc.logger.WithField("count", len(files)).Debug("Discovered migrations")

	conn, err := opts.resolveConnection(ctx, rc)
	if err != nil {
		return 1, err
	}

	opener, err := session.NewOpener(rc.run, rc.env, rc.logger)
	if err != nil {
		return 1, err
	}

	store, err := ledger.Open(ctx, rc.run, conn, rc.logger)
	if err != nil {
		return 1, fmt.Errorf("failed to open ledger: %w", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	progressOut := stdout
	if format != "text" {
		progressOut = stderr
	}

	exec := &executor.Executor{
		Config:   rc.run,
		Conn:     conn,
		Opener:   opener,
		Ledger:   store,
		Observer: report.NewProgress(progressOut, verbose),
		Logger:   rc.logger,
	}
	out, err := exec.Run(ctx, files)
	if err != nil {
		return 1, err
	}

	rep := report.New(len(files), out.Results, out.Skipped)
	rep.RunID = out.RunID
	rep.Target = conn.Redacted()
	rep.Interrupted = out.Interrupted

	if format == "text" {
		fmt.Fprintln(stdout)
	}
	if err := rep.Write(stdout, format); err != nil {
		return 1, err
	}
	return rep.ExitCode(), nil
}

func outputFormat(format string) (string, error) {
	switch format {
	case "":
		return "text", nil
	case "text", "json", "yaml":
		return format, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q (want text, json or yaml)", migration.ErrConfiguration, format)
	}
}
