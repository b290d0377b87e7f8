package connection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/logging"
	"github.com/lockplane/migrun/internal/migration"
)

const (
	SourceExplicit = "explicit"
	SourceEnv      = "env"
	SourceFile     = "file"
	SourcePrompt   = "prompt"

	// DefaultHostTemplate derives a database host from a project ref.
	DefaultHostTemplate = "db.%s.supabase.co"
)

// Source yields a partial connection config. Empty fields mean the source
// has no opinion.
type Source interface {
	Name() string
	Lookup(ctx context.Context) (Config, error)
}

// Field is a value the prompt tier may ask a human for.
type Field struct {
	Name        string
	Label       string
	Placeholder string
	Secret      bool
}

// Prompter asks a human for a single value. Implementations must suppress
// echo for secret fields.
type Prompter interface {
	Ask(ctx context.Context, field Field) (string, error)
}

// Resolver merges connection sources, highest precedence first.
type Resolver struct {
	Sources []Source
	// Prompter is the last resort for missing values. Nil disables prompting.
	Prompter Prompter
	Logger   logrus.FieldLogger
}

// Resolve returns a fully populated connection config or an error wrapping
// migration.ErrConfiguration.
func (r *Resolver) Resolve(ctx context.Context) (Config, error) {
	var cfg Config
	for _, src := range r.Sources {
		partial, err := src.Lookup(ctx)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s source: %v", migration.ErrConfiguration, src.Name(), err)
		}
		cfg.merge(partial.rebind(cfg.Host), src.Name())
		r.logger().WithFields(partial.LogFields()).Debugf("Consulted %s connection source", src.Name())
	}

	if cfg.Host == "" && cfg.ProjectRef != "" && cfg.IsNetwork() {
		cfg.Host = fmt.Sprintf(DefaultHostTemplate, cfg.ProjectRef)
	}
	cfg.applyDefaults()

	if err := r.prompt(ctx, &cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
	}

	r.logger().WithFields(cfg.LogFields()).Info("Resolved database connection")
	return cfg, nil
}

func (r *Resolver) prompt(ctx context.Context, cfg *Config) error {
	if r.Prompter == nil || cfg.IsSQLite() {
		return nil
	}

	if cfg.Host == "" {
		host, err := r.Prompter.Ask(ctx, Field{Name: "host", Label: "Database host", Placeholder: "db.<project-ref>.supabase.co"})
		if err != nil {
			return fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
		}
		cfg.Host = strings.TrimSpace(host)
		cfg.Source = SourcePrompt
	}
	if cfg.Host == "" {
		return nil
	}

	if cfg.Password == "" {
		password, err := r.Prompter.Ask(ctx, Field{Name: "password", Label: "Database password", Secret: true})
		if err != nil {
			return fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
		}
		cfg.Password = password
	}
	return nil
}

func (r *Resolver) logger() logrus.FieldLogger {
	if r.Logger == nil {
		return logging.Discard()
	}
	return r.Logger
}

func validate(cfg Config) error {
	if cfg.IsSQLite() {
		if cfg.Database == "" {
			return errors.New("no SQLite database path resolved")
		}
		return nil
	}
	if cfg.Host == "" {
		return errors.New("no database host resolved (pass --db-url, set an environment variable, or link a project)")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	return nil
}

// Explicit is the command-line tier: a connection string and/or discrete fields.
type Explicit struct {
	URL    string
	Fields Config
}

func (e Explicit) Name() string { return SourceExplicit }

func (e Explicit) Lookup(ctx context.Context) (Config, error) {
	cfg := e.Fields
	if strings.TrimSpace(e.URL) != "" {
		parsed, err := Parse(e.URL)
		if err != nil {
			return Config{}, err
		}
		if parsed.IsSQLite() && cfg.Host != "" {
			return Config{}, fmt.Errorf("a database host cannot be combined with a SQLite connection string")
		}
		// Discrete fields win over the URL they accompany.
		cfg.merge(parsed, SourceExplicit)
	}
	return cfg, nil
}

// EnvNames holds the environment variable names consulted by Env.
type EnvNames struct {
	URL        string
	ProjectRef string
	Host       string
	Password   string
}

// DefaultEnvNames are used when migrun.toml does not override them.
var DefaultEnvNames = EnvNames{
	URL:        "DATABASE_URL",
	ProjectRef: "SUPABASE_PROJECT_REF",
	Host:       "SUPABASE_DB_HOST",
	Password:   "SUPABASE_DB_PASSWORD",
}

// Env is the environment tier. It reads from a snapshot, never from the
// live process environment.
type Env struct {
	Values map[string]string
	Names  EnvNames
}

func (e Env) Name() string { return SourceEnv }

func (e Env) Lookup(ctx context.Context) (Config, error) {
	var cfg Config
	if raw := e.get(e.Names.URL); raw != "" {
		parsed, err := Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.Names.URL, err)
		}
		cfg = parsed
	}
	password := e.get(e.Names.Password)
	cfg.hostlessPassword = password
	if host := e.get(e.Names.Host); host != "" {
		cfg = cfg.rebind(host)
		cfg.Host = host
	}
	if ref := e.get(e.Names.ProjectRef); ref != "" {
		cfg.ProjectRef = ref
		if cfg.Host == "" {
			cfg.Host = fmt.Sprintf(DefaultHostTemplate, ref)
		}
	}
	if cfg.Password == "" {
		cfg.Password = password
	}
	return cfg, nil
}

func (e Env) get(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(e.Values[name])
}

var projectIDPattern = regexp.MustCompile(`(?m)^\s*project_id\s*=\s*["']([^"']+)["']`)

// ProjectFile is the project config tier. Only the project_id scalar is
// read, by pattern match.
type ProjectFile struct {
	Path string
}

func (p ProjectFile) Name() string { return SourceFile }

func (p ProjectFile) Lookup(ctx context.Context) (Config, error) {
	if p.Path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to read %s: %w", p.Path, err)
	}

	ref := ExtractProjectRef(string(data))
	if ref == "" {
		return Config{}, nil
	}
	return Config{
		ProjectRef: ref,
		Host:       fmt.Sprintf(DefaultHostTemplate, ref),
	}, nil
}

// ExtractProjectRef returns the project_id value from a project config file.
func ExtractProjectRef(content string) string {
	m := projectIDPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
