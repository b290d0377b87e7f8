package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/logging"
	"github.com/lockplane/migrun/internal/migration"
	"github.com/lockplane/migrun/internal/prompt"
)

// runOptions are the command-line overrides shared by apply and status.
// Empty values leave migrun.toml or the defaults in effect.
type runOptions struct {
	dbURL      string
	host       string
	port       string
	database   string
	user       string
	projectRef string

	policy      string
	backend     string
	timeout     string
	transaction string
	ledger      string
	maxOutput   int
	output      string
	noPrompt    bool

	// workDir is where migrun.toml lookup starts; empty means the cwd.
	workDir string
	// processEnv replaces os.Environ in tests.
	processEnv []string
	// prompter replaces the terminal prompt in tests.
	prompter connection.Prompter
}

// runContext is everything a command needs once configuration is settled.
type runContext struct {
	env    config.Environ
	cfg    *config.Config
	run    config.RunConfig
	logger *logrus.Logger
}

func (o *runOptions) load(args []string, stderr io.Writer) (*runContext, error) {
	processEnv := o.processEnv
	if processEnv == nil {
		processEnv = os.Environ()
	}
	env, err := config.LoadEnviron(processEnv, envFiles...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
	}

	cfg, err := config.LoadConfig(o.workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
	}

	run := cfg.RunConfig(env)
	if err := o.apply(&run, args); err != nil {
		return nil, fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
	}
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
	}

	level := run.LogLevel
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(stderr, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
	}
	if cfg.ConfigFilePath != "" {
		logger.WithField("path", cfg.ConfigFilePath).Debug("Loaded settings")
	}

	return &runContext{env: env, cfg: cfg, run: run, logger: logger}, nil
}

// apply layers command-line overrides onto the run configuration.
func (o *runOptions) apply(run *config.RunConfig, args []string) error {
	if len(args) > 0 && args[0] != "" {
		run.MigrationsDir = args[0]
	}
	if o.policy != "" {
		run.Policy = config.FailurePolicy(o.policy)
	}
	if o.backend != "" {
		run.Backend = config.Backend(o.backend)
	}
	if o.transaction != "" {
		run.Transaction = config.TransactionMode(o.transaction)
	}
	if o.ledger != "" {
		run.Ledger = config.LedgerMode(o.ledger)
	}
	if o.timeout != "" {
		d, err := time.ParseDuration(o.timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid --timeout %q", o.timeout)
		}
		run.Timeout = d
	}
	if o.maxOutput > 0 {
		run.MaxOutputBytes = o.maxOutput
	}
	return nil
}

// resolveConnection runs the connection resolver across every source tier.
func (o *runOptions) resolveConnection(ctx context.Context, s *runContext) (connection.Config, error) {
	explicit := connection.Explicit{
		URL: o.dbURL,
		Fields: connection.Config{
			Host:       o.host,
			Database:   o.database,
			User:       o.user,
			ProjectRef: o.projectRef,
		},
	}
	if o.port != "" {
		port, err := connection.ParsePort(o.port)
		if err != nil {
			return connection.Config{}, fmt.Errorf("%w: invalid --port: %v", migration.ErrConfiguration, err)
		}
		explicit.Fields.Port = port
	}
	if explicit.Fields.Host == "" && o.projectRef != "" {
		explicit.Fields.Host = fmt.Sprintf(connection.DefaultHostTemplate, o.projectRef)
	}

	resolver := connection.Resolver{
		Sources: []connection.Source{
			explicit,
			connection.Env{Values: s.env, Names: s.run.EnvNames},
			connection.ProjectFile{Path: s.run.ProjectConfigPath},
		},
		Prompter: o.interactivePrompter(),
		Logger:   s.logger,
	}

	conn, err := resolver.Resolve(ctx)
	if err != nil {
		return connection.Config{}, err
	}
	s.logger.WithFields(conn.LogFields()).Debug("Resolved connection")
	return conn, nil
}

func (o *runOptions) interactivePrompter() connection.Prompter {
	if o.noPrompt {
		return nil
	}
	if o.prompter != nil {
		return o.prompter
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return nil
	}
	return prompt.NewTerminal()
}
