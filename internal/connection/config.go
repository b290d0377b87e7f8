package connection

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	SchemePostgres = "postgresql"
	SchemeSQLite   = "sqlite"
	SchemeFile     = "file"
	SchemeLibSQL   = "libsql"

	DefaultPort     = 5432
	DefaultDatabase = "postgres"
	DefaultUser     = "postgres"
)

// secretParams are query parameters that carry credentials.
var secretParams = []string{"password", "authToken", "auth_token"}

// Config describes a single database connection.
//
// The password is never included in String, Redacted or LogFields output.
type Config struct {
	Scheme   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Params   url.Values

	// ProjectRef identifies a hosted project when the host was derived from it.
	ProjectRef string
	// Source names the tier that supplied the host.
	Source string

	// hostlessPassword is a password not bound to any connection URL.
	hostlessPassword string
}

// Parse reads a URI-style connection string.
//
// Accepted forms are postgres://, postgresql://, sqlite://, file: and
// libsql:// URLs, and bare SQLite file paths ending in .db, .sqlite or
// .sqlite3. Percent-encoded credentials are decoded.
func Parse(raw string) (Config, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Config{}, fmt.Errorf("connection string cannot be empty")
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "sqlite://"):
		path, query := splitQuery(raw[len("sqlite://"):])
		return Config{Scheme: SchemeSQLite, Database: path, Params: query}, nil
	case strings.HasPrefix(lower, "file:"):
		path, query := splitQuery(raw[len("file:"):])
		return Config{Scheme: SchemeFile, Database: path, Params: query}, nil
	case isSQLiteFilePath(lower):
		return Config{Scheme: SchemeSQLite, Database: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		// url.Parse echoes the input, which may contain the password.
		return Config{}, fmt.Errorf("invalid connection string")
	}

	cfg := Config{Params: u.Query()}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		cfg.Scheme = SchemePostgres
	case "libsql":
		cfg.Scheme = SchemeLibSQL
	default:
		return Config{}, fmt.Errorf("unsupported connection scheme %q", u.Scheme)
	}

	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	cfg.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := ParsePort(p)
		if err != nil {
			return Config{}, err
		}
		cfg.Port = port
	}
	cfg.Database = strings.TrimPrefix(u.Path, "/")
	return cfg, nil
}

// ParsePort validates a TCP port number.
func ParsePort(port string) (int, error) {
	if port == "" {
		return 0, fmt.Errorf("port cannot be empty")
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return n, nil
}

func splitQuery(s string) (string, url.Values) {
	idx := strings.Index(s, "?")
	if idx < 0 {
		return s, nil
	}
	q, err := url.ParseQuery(s[idx+1:])
	if err != nil {
		return s[:idx], nil
	}
	return s[:idx], q
}

func isSQLiteFilePath(lower string) bool {
	if strings.Contains(lower, "://") {
		return false
	}
	return strings.HasSuffix(lower, ".db") ||
		strings.HasSuffix(lower, ".sqlite") ||
		strings.HasSuffix(lower, ".sqlite3") ||
		lower == ":memory:"
}

// IsSQLite reports whether the connection targets a local SQLite database.
func (c Config) IsSQLite() bool {
	return c.Scheme == SchemeSQLite || c.Scheme == SchemeFile
}

// IsNetwork reports whether the connection needs a host.
func (c Config) IsNetwork() bool {
	return !c.IsSQLite()
}

// Address returns host:port.
func (c Config) Address() string {
	if c.Port == 0 {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the full connection string, including the password.
// It must only be handed to a database driver.
func (c Config) URL() string {
	return c.format(false)
}

// Redacted returns the connection string with credentials masked.
func (c Config) Redacted() string {
	return c.format(true)
}

func (c Config) String() string {
	return c.Redacted()
}

func (c Config) format(redact bool) string {
	params := c.Params
	if redact && len(params) > 0 {
		params = cloneValues(params)
		for _, key := range secretParams {
			if params.Has(key) {
				params.Set(key, "xxxxx")
			}
		}
	}

	switch c.Scheme {
	case SchemeSQLite, SchemeFile:
		s := c.Database
		if c.Scheme == SchemeFile {
			s = "file:" + s
		}
		if len(params) > 0 {
			s += "?" + params.Encode()
		}
		return s
	}

	u := url.URL{
		Scheme: c.Scheme,
		Host:   c.Address(),
	}
	if c.Database != "" {
		u.Path = "/" + c.Database
	}
	if c.User != "" {
		switch {
		case c.Password == "":
			u.User = url.User(c.User)
		case redact:
			u.User = url.UserPassword(c.User, "xxxxx")
		default:
			u.User = url.UserPassword(c.User, c.Password)
		}
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// LogFields describes the connection for structured logs. The password is omitted.
func (c Config) LogFields() logrus.Fields {
	fields := logrus.Fields{
		"scheme":   c.Scheme,
		"database": c.Database,
	}
	if c.IsNetwork() {
		fields["host"] = c.Host
		fields["port"] = c.Port
		fields["user"] = c.User
	}
	if c.ProjectRef != "" {
		fields["project_ref"] = c.ProjectRef
	}
	if c.Source != "" {
		fields["source"] = c.Source
	}
	return fields
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// rebind returns c with the values that belong to its own host dropped when
// the connection is pinned to a different host.
func (c Config) rebind(host string) Config {
	if host == "" || c.Host == "" || strings.EqualFold(c.Host, host) {
		return c
	}
	return Config{
		Scheme:           c.Scheme,
		Host:             c.Host,
		ProjectRef:       c.ProjectRef,
		Password:         c.hostlessPassword,
		hostlessPassword: c.hostlessPassword,
	}
}

// merge fills the empty fields of c from other.
func (c *Config) merge(other Config, source string) {
	if c.Scheme != "" && other.Scheme != "" && c.Scheme != other.Scheme {
		return
	}
	// A host without a scheme is a network target.
	if c.Scheme == "" && c.Host != "" && other.IsSQLite() {
		if c.Password == "" {
			c.Password = other.hostlessPassword
		}
		return
	}
	if c.Scheme == "" {
		c.Scheme = other.Scheme
	}
	if c.Host == "" && other.Host != "" {
		c.Host = other.Host
		c.Source = source
	}
	if c.Port == 0 {
		c.Port = other.Port
	}
	if c.Database == "" {
		c.Database = other.Database
	}
	if c.User == "" {
		c.User = other.User
	}
	if c.Password == "" {
		c.Password = other.Password
	}
	if c.ProjectRef == "" {
		c.ProjectRef = other.ProjectRef
	}
	if len(other.Params) > 0 {
		if c.Params == nil {
			c.Params = url.Values{}
		}
		for k, vals := range other.Params {
			if !c.Params.Has(k) {
				c.Params[k] = append([]string(nil), vals...)
			}
		}
	}
}

// applyDefaults fills conventional values for hosted Postgres.
func (c *Config) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = SchemePostgres
	}
	if c.Scheme != SchemePostgres {
		return
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.User == "" {
		c.User = DefaultUser
	}
}
