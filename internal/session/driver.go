package session

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/logging"
	"github.com/lockplane/migrun/internal/migration"
)

const defaultPingTimeout = 10 * time.Second

// DriverOpener runs migrations through a native database/sql driver.
type DriverOpener struct {
	// PostgresDriver is "postgres" (lib/pq) or "pgx".
	PostgresDriver string
	Transaction    config.TransactionMode
	PingTimeout    time.Duration
	Logger         logrus.FieldLogger

	// OpenDB replaces sql.Open, for tests.
	OpenDB func(driverName, dsn string) (*sql.DB, error)
}

func (o *DriverOpener) Open(ctx context.Context, conn connection.Config) (Session, error) {
	driverName := SQLDriverName(conn, o.PostgresDriver)
	openDB := o.OpenDB
	if openDB == nil {
		openDB = sql.Open
	}

	// Driver errors are not wrapped: some echo the DSN, which holds the password.
	db, err := openDB(driverName, DSN(conn))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s connection to %s", migration.ErrConnectivity, driverName, conn.Redacted())
	}

	timeout := o.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to ping %s: %v", migration.ErrConnectivity, conn.Redacted(), err)
	}

	logger := o.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger.WithField("driver", driverName).Debug("Opened database session")

	return &driverSession{db: db, tx: o.Transaction}, nil
}

type driverSession struct {
	db *sql.DB
	tx config.TransactionMode
}

func (s *driverSession) Execute(ctx context.Context, query string) (Outcome, error) {
	if s.tx == config.TransactionPerFile {
		return s.executeInTransaction(ctx, query)
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return failed(ctx, err)
	}
	return Outcome{Stdout: summarize(res)}, nil
}

func (s *driverSession) executeInTransaction(ctx context.Context, query string) (Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{ExitStatus: 1, Stderr: err.Error()}, ctx.Err()
		}
		return Outcome{ExitStatus: 1, Stderr: err.Error()}, fmt.Errorf("%w: failed to begin transaction: %v", migration.ErrConnectivity, err)
	}

	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return failed(ctx, err)
	}

	if err := tx.Commit(); err != nil {
		return failed(ctx, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return Outcome{Stdout: summarize(res)}, nil
}

func (s *driverSession) Close() error {
	return s.db.Close()
}

func failed(ctx context.Context, err error) (Outcome, error) {
	outcome := Outcome{ExitStatus: 1, Stderr: err.Error()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, ctxErr
	}
	return outcome, fmt.Errorf("%w: %v", migration.ErrExecution, err)
}

func summarize(res sql.Result) string {
	if res == nil {
		return "OK"
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "OK"
	}
	return fmt.Sprintf("OK (%d rows affected)", n)
}

// SQLDriverName maps a connection to the registered database/sql driver.
func SQLDriverName(conn connection.Config, postgresDriver string) string {
	switch conn.Scheme {
	case connection.SchemeSQLite, connection.SchemeFile:
		return "sqlite"
	case connection.SchemeLibSQL:
		return "libsql"
	default:
		if postgresDriver == "pgx" {
			return "pgx"
		}
		return "postgres"
	}
}

// DSN returns the driver connection string. Postgres connections without an
// explicit sslmode get "disable" for local hosts and "require" otherwise.
func DSN(conn connection.Config) string {
	if conn.Scheme != connection.SchemePostgres {
		return conn.URL()
	}
	if conn.Params.Get("sslmode") != "" {
		return conn.URL()
	}

	params := url.Values{}
	for k, v := range conn.Params {
		params[k] = append([]string(nil), v...)
	}
	switch conn.Host {
	case "localhost", "127.0.0.1", "::1":
		params.Set("sslmode", "disable")
	default:
		params.Set("sslmode", "require")
	}
	conn.Params = params
	return conn.URL()
}
