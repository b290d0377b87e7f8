package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
)

// FileName is the project settings file looked up from the working directory.
const FileName = "migrun.toml"

//go:embed schema.json
var settingsSchema string

// Duration decodes TOML strings such as "90s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// EnvSettings names the environment variables consulted for connection values.
type EnvSettings struct {
	DatabaseURL string `toml:"database_url"`
	ProjectRef  string `toml:"project_ref"`
	Host        string `toml:"host"`
	Password    string `toml:"password"`
	AccessToken string `toml:"access_token"`
}

// ProcessSettings configures the external client backend.
type ProcessSettings struct {
	Client string   `toml:"client"`
	Args   []string `toml:"args"`
}

// APISettings configures the HTTP query endpoint backend.
type APISettings struct {
	URL string `toml:"url"`
}

// Config represents migrun.toml.
type Config struct {
	MigrationsDir  string          `toml:"migrations_dir"`
	Extension      string          `toml:"extension"`
	FailurePolicy  string          `toml:"failure_policy"`
	Backend        string          `toml:"backend"`
	Transaction    string          `toml:"transaction"`
	Timeout        Duration        `toml:"timeout"`
	MaxOutputBytes int             `toml:"max_output_bytes"`
	Ledger         string          `toml:"ledger"`
	LedgerTable    string          `toml:"ledger_table"`
	LedgerFile     string          `toml:"ledger_file"`
	ProjectConfig  string          `toml:"project_config"`
	PostgresDriver string          `toml:"postgres_driver"`
	LogLevel       string          `toml:"log_level"`
	Env            EnvSettings     `toml:"env"`
	Process        ProcessSettings `toml:"process"`
	API            APISettings     `toml:"api"`

	ConfigFilePath string `toml:"-"`
	configDir      string
	projectDir     string
}

// ConfigDir is the directory holding migrun.toml, or "" when none was found.
func (c *Config) ConfigDir() string {
	if c == nil {
		return ""
	}
	return c.configDir
}

// ProjectDir is the nearest project root at or above the start directory.
func (c *Config) ProjectDir() string {
	if c == nil {
		return ""
	}
	return c.projectDir
}

// LoadConfig walks up from startDir looking for migrun.toml, stopping at the
// first project root. A missing file yields an empty Config.
func LoadConfig(startDir string) (*Config, error) {
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		startDir = wd
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			config, err := readConfig(configPath)
			if err != nil {
				return nil, err
			}
			config.projectDir = findProjectRoot(dir)
			return config, nil
		}

		if isProjectRoot(dir) {
			return &Config{projectDir: dir}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := validateConfig(data); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	config.ConfigFilePath = path
	config.configDir = filepath.Dir(path)
	return &config, nil
}

// validateConfig checks the raw document against the embedded JSON schema.
func validateConfig(data []byte) error {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(settingsSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func findProjectRoot(dir string) string {
	for {
		if isProjectRoot(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// resolvePath makes a settings path absolute relative to base.
func resolvePath(path, base string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}
