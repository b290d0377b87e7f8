package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/logging"
	"github.com/lockplane/migrun/internal/migration"
)

// psql exits with 2 when the connection to the server fails or goes bad.
const psqlConnectionFailure = 2

// ProcessOpener runs each migration through an external psql client.
type ProcessOpener struct {
	Client string
	// Args are placed before the connection arguments.
	Args        []string
	Transaction config.TransactionMode
	// Env is the environment handed to the child process.
	Env    config.Environ
	Logger logrus.FieldLogger
}

func (o *ProcessOpener) Open(ctx context.Context, conn connection.Config) (Session, error) {
	if conn.Scheme != connection.SchemePostgres {
		return nil, fmt.Errorf("%w: process backend only supports postgres connections, got %s", migration.ErrConnectivity, conn.Scheme)
	}

	path, err := exec.LookPath(o.Client)
	if err != nil {
		return nil, fmt.Errorf("%w: database client %q not found: %v", migration.ErrConnectivity, o.Client, err)
	}

	logger := o.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &processSession{
		path:   path,
		args:   buildArgs(o.Args, conn, o.Transaction),
		env:    buildEnv(o.Env, conn),
		logger: logger,
	}, nil
}

type processSession struct {
	path   string
	args   []string
	env    []string
	logger logrus.FieldLogger
}

func (s *processSession) Execute(ctx context.Context, sql string) (Outcome, error) {
	cmd := exec.CommandContext(ctx, s.path, s.args...)
	cmd.Env = s.env
	cmd.Stdin = strings.NewReader(sql)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.WithField("client", s.path).Debug("Spawning database client")
	err := cmd.Run()

	outcome := Outcome{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitStatus: cmd.ProcessState.ExitCode(),
	}
	if err == nil {
		return outcome, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == psqlConnectionFailure {
			return outcome, fmt.Errorf("%w: client exited with status %d", migration.ErrConnectivity, exitErr.ExitCode())
		}
		return outcome, fmt.Errorf("%w: client exited with status %d", migration.ErrExecution, exitErr.ExitCode())
	}
	return outcome, fmt.Errorf("%w: failed to run client: %v", migration.ErrConnectivity, err)
}

func (s *processSession) Close() error {
	return nil
}

// buildArgs never includes the password; it travels in PGPASSWORD.
func buildArgs(prefix []string, conn connection.Config, tx config.TransactionMode) []string {
	args := append([]string(nil), prefix...)
	args = append(args,
		"--no-psqlrc",
		"--quiet",
		"--set", "ON_ERROR_STOP=1",
		"--host", conn.Host,
		"--port", strconv.Itoa(conn.Port),
		"--username", conn.User,
		"--dbname", conn.Database,
	)
	if tx == config.TransactionPerFile {
		args = append(args, "--single-transaction")
	}
	return append(args, "--file", "-")
}

func buildEnv(base config.Environ, conn connection.Config) []string {
	env := make(map[string]string, len(base)+3)
	for k, v := range base {
		env[k] = v
	}
	if conn.Password != "" {
		env["PGPASSWORD"] = conn.Password
	} else {
		delete(env, "PGPASSWORD")
	}
	if mode := conn.Params.Get("sslmode"); mode != "" {
		env["PGSSLMODE"] = mode
	}
	env["PGAPPNAME"] = "migrun"

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
