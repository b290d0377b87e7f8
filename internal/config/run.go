package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/lockplane/migrun/internal/connection"
)

// FailurePolicy decides what happens after a migration fails.
type FailurePolicy string

const (
	// PolicyHalt stops at the first failing migration.
	PolicyHalt FailurePolicy = "halt"
	// PolicyContinue attempts every migration regardless of failures.
	PolicyContinue FailurePolicy = "continue"
)

// Backend selects the DatabaseSession implementation.
type Backend string

const (
	BackendProcess Backend = "process"
	BackendDriver  Backend = "driver"
	BackendAPI     Backend = "api"
)

// TransactionMode controls whether each file is wrapped in a transaction.
type TransactionMode string

const (
	// TransactionNone hands the file to the database as written.
	TransactionNone TransactionMode = "none"
	// TransactionPerFile wraps each file in a single transaction.
	TransactionPerFile TransactionMode = "per-file"
)

// LedgerMode selects where applied migrations are recorded.
type LedgerMode string

const (
	LedgerNone  LedgerMode = "none"
	LedgerTable LedgerMode = "table"
	LedgerFile  LedgerMode = "file"
)

const (
	DefaultMigrationsDir  = "supabase/migrations"
	DefaultProjectConfig  = "supabase/config.toml"
	DefaultTimeout        = 5 * time.Minute
	DefaultMaxOutputBytes = 2000
	DefaultLedgerTable    = "migrun_ledger"
	DefaultLedgerFile     = ".migrun-state.json"
	DefaultProcessClient  = "psql"
	DefaultAPIURL         = "https://api.supabase.com"
	DefaultAccessTokenEnv = "SUPABASE_ACCESS_TOKEN"
)

// DefaultLogLevel keeps logs quiet next to the progress output.
const DefaultLogLevel = "warn"

// RunConfig is the explicit configuration of a single run. It is built once
// at the command boundary and passed down; nothing below reads process state.
type RunConfig struct {
	MigrationsDir  string
	Extension      string
	Policy         FailurePolicy
	Backend        Backend
	Transaction    TransactionMode
	Timeout        time.Duration
	MaxOutputBytes int

	Ledger      LedgerMode
	LedgerTable string
	LedgerFile  string

	PostgresDriver string
	ProcessClient  string
	ProcessArgs    []string
	APIURL         string
	// APIToken is a credential and must never be logged.
	APIToken string

	ProjectConfigPath string
	EnvNames          connection.EnvNames
	LogLevel          string
}

// RunConfig builds the run configuration from settings, falling back to
// defaults. Relative paths are resolved against the settings file directory.
func (c *Config) RunConfig(env Environ) RunConfig {
	if c == nil {
		c = &Config{}
	}
	base := c.ConfigDir()
	if base == "" {
		base = c.ProjectDir()
	}

	run := RunConfig{
		MigrationsDir:     resolvePath(orDefault(c.MigrationsDir, DefaultMigrationsDir), base),
		Extension:         orDefault(c.Extension, ".sql"),
		Policy:            FailurePolicy(orDefault(c.FailurePolicy, string(PolicyHalt))),
		Backend:           Backend(orDefault(c.Backend, string(BackendDriver))),
		Transaction:       TransactionMode(orDefault(c.Transaction, string(TransactionNone))),
		Timeout:           c.Timeout.Duration,
		MaxOutputBytes:    c.MaxOutputBytes,
		Ledger:            LedgerMode(orDefault(c.Ledger, string(LedgerNone))),
		LedgerTable:       orDefault(c.LedgerTable, DefaultLedgerTable),
		LedgerFile:        resolvePath(orDefault(c.LedgerFile, DefaultLedgerFile), base),
		PostgresDriver:    orDefault(c.PostgresDriver, "postgres"),
		ProcessClient:     orDefault(c.Process.Client, DefaultProcessClient),
		ProcessArgs:       append([]string(nil), c.Process.Args...),
		APIURL:            strings.TrimRight(orDefault(c.API.URL, DefaultAPIURL), "/"),
		ProjectConfigPath: resolvePath(orDefault(c.ProjectConfig, DefaultProjectConfig), base),
		LogLevel:          orDefault(c.LogLevel, DefaultLogLevel),
		EnvNames: connection.EnvNames{
			URL:        orDefault(c.Env.DatabaseURL, connection.DefaultEnvNames.URL),
			ProjectRef: orDefault(c.Env.ProjectRef, connection.DefaultEnvNames.ProjectRef),
			Host:       orDefault(c.Env.Host, connection.DefaultEnvNames.Host),
			Password:   orDefault(c.Env.Password, connection.DefaultEnvNames.Password),
		},
	}
	if run.Timeout <= 0 {
		run.Timeout = DefaultTimeout
	}
	if run.MaxOutputBytes <= 0 {
		run.MaxOutputBytes = DefaultMaxOutputBytes
	}
	run.APIToken = env.Get(orDefault(c.Env.AccessToken, DefaultAccessTokenEnv))
	return run
}

// Validate rejects unknown enum values, e.g. from command-line overrides.
func (r RunConfig) Validate() error {
	switch r.Policy {
	case PolicyHalt, PolicyContinue:
	default:
		return fmt.Errorf("unknown failure policy %q (want halt or continue)", r.Policy)
	}
	switch r.Backend {
	case BackendProcess, BackendDriver, BackendAPI:
	default:
		return fmt.Errorf("unknown backend %q (want process, driver or api)", r.Backend)
	}
	switch r.Transaction {
	case TransactionNone, TransactionPerFile:
	default:
		return fmt.Errorf("unknown transaction mode %q (want none or per-file)", r.Transaction)
	}
	switch r.Ledger {
	case LedgerNone, LedgerTable, LedgerFile:
	default:
		return fmt.Errorf("unknown ledger mode %q (want none, table or file)", r.Ledger)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if r.MigrationsDir == "" {
		return fmt.Errorf("migrations directory cannot be empty")
	}
	return nil
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
