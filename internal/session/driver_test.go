package session

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/migration"
	"github.com/lockplane/migrun/internal/testutil"
)

func openSQLite(t *testing.T, conn connection.Config, tx config.TransactionMode) Session {
	t.Helper()

	opener := &DriverOpener{Transaction: tx}
	sess, err := opener.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func countRows(t *testing.T, conn connection.Config, table string) int {
	t.Helper()

	db, err := sql.Open("sqlite", conn.Database)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}
	return n
}

func TestDriverSession_SQLiteMultiStatement(t *testing.T) {
	conn := testutil.SQLite(t)
	sess := openSQLite(t, conn, config.TransactionNone)

	outcome, err := sess.Execute(context.Background(), `
CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL);
INSERT INTO users (email) VALUES ('a@example.com');
INSERT INTO users (email) VALUES ('b@example.com');
`)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.HasPrefix(outcome.Stdout, "OK") {
		t.Errorf("expected OK summary, got %q", outcome.Stdout)
	}

	if n := countRows(t, conn, "users"); n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}

func TestDriverSession_ExecutionError(t *testing.T) {
	sess := openSQLite(t, testutil.SQLite(t), config.TransactionNone)

	outcome, err := sess.Execute(context.Background(), "INSERT INTO missing VALUES (1);")
	if !errors.Is(err, migration.ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	if !strings.Contains(outcome.Stderr, "missing") {
		t.Errorf("expected diagnostics to mention the table, got %q", outcome.Stderr)
	}
	if outcome.ExitStatus == 0 {
		t.Error("expected non-zero exit status")
	}
}

func TestDriverSession_PerFileTransactionRollsBack(t *testing.T) {
	conn := testutil.SQLite(t)
	setup := openSQLite(t, conn, config.TransactionNone)
	if _, err := setup.Execute(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY);"); err != nil {
		t.Fatalf("setup Execute returned error: %v", err)
	}

	sess := openSQLite(t, conn, config.TransactionPerFile)
	_, err := sess.Execute(context.Background(), `
INSERT INTO items (id) VALUES (1);
INSERT INTO nope (id) VALUES (2);
`)
	if !errors.Is(err, migration.ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}

	if n := countRows(t, conn, "items"); n != 0 {
		t.Errorf("expected rollback to leave 0 rows, got %d", n)
	}
}

func TestDriverOpener_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	opener := &DriverOpener{
		OpenDB: func(driverName, dsn string) (*sql.DB, error) {
			if driverName != "postgres" {
				t.Errorf("expected postgres driver, got %q", driverName)
			}
			return db, nil
		},
	}

	_, err = opener.Open(context.Background(), postgresConn())
	if !errors.Is(err, migration.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
	if strings.Contains(err.Error(), "s3cret-pass") {
		t.Errorf("error leaked password: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDriverSession_TransactionWithMock(t *testing.T) {
	db, mock, err := sqlmock.New(
		sqlmock.MonitorPingsOption(true),
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
	)
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}

	const stmt = "ALTER TABLE users ADD COLUMN name text;"
	mock.ExpectPing()
	mock.ExpectBegin()
	mock.ExpectExec(stmt).WillReturnError(errors.New(`column "name" already exists`))
	mock.ExpectRollback()
	mock.ExpectClose()

	opener := &DriverOpener{
		PostgresDriver: "pgx",
		Transaction:    config.TransactionPerFile,
		OpenDB: func(driverName, dsn string) (*sql.DB, error) {
			if driverName != "pgx" {
				t.Errorf("expected pgx driver, got %q", driverName)
			}
			return db, nil
		},
	}

	sess, err := opener.Open(context.Background(), postgresConn())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	outcome, err := sess.Execute(context.Background(), stmt)
	if !errors.Is(err, migration.ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	if !strings.Contains(outcome.Stderr, "already exists") {
		t.Errorf("expected diagnostics in stderr, got %q", outcome.Stderr)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDriverSession_CommitWithMock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}

	const stmt = "UPDATE users SET active = true;"
	mock.ExpectBegin()
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	opener := &DriverOpener{
		Transaction: config.TransactionPerFile,
		OpenDB:      func(string, string) (*sql.DB, error) { return db, nil },
	}
	sess, err := opener.Open(context.Background(), postgresConn())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer func() { _ = sess.Close() }()

	outcome, err := sess.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if outcome.Stdout != "OK (3 rows affected)" {
		t.Errorf("unexpected stdout: %q", outcome.Stdout)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLDriverName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scheme   string
		postgres string
		want     string
	}{
		{connection.SchemePostgres, "", "postgres"},
		{connection.SchemePostgres, "pgx", "pgx"},
		{connection.SchemeSQLite, "pgx", "sqlite"},
		{connection.SchemeFile, "", "sqlite"},
		{connection.SchemeLibSQL, "", "libsql"},
	}

	for _, tt := range tests {
		got := SQLDriverName(connection.Config{Scheme: tt.scheme}, tt.postgres)
		if got != tt.want {
			t.Errorf("SQLDriverName(%s, %q) = %q, want %q", tt.scheme, tt.postgres, got, tt.want)
		}
	}
}

func TestDSN_SSLMode(t *testing.T) {
	t.Parallel()

	remote := postgresConn()
	if got := DSN(remote); !strings.Contains(got, "sslmode=require") {
		t.Errorf("expected sslmode=require for remote host, got %q", got)
	}

	local := postgresConn()
	local.Host = "localhost"
	if got := DSN(local); !strings.Contains(got, "sslmode=disable") {
		t.Errorf("expected sslmode=disable for localhost, got %q", got)
	}

	explicit := postgresConn()
	explicit.Params = map[string][]string{"sslmode": {"verify-full"}}
	if got := DSN(explicit); !strings.Contains(got, "sslmode=verify-full") {
		t.Errorf("expected explicit sslmode preserved, got %q", got)
	}
	if explicit.Params.Get("sslmode") != "verify-full" {
		t.Error("DSN must not modify the caller's params")
	}
}

func TestDriverSession_Postgres(t *testing.T) {
	conn := testutil.Postgres(t)
	testutil.DropTables(t, conn, "migrun_driver_test")
	t.Cleanup(func() { testutil.DropTables(t, conn, "migrun_driver_test") })

	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			opener := &DriverOpener{PostgresDriver: driver, Transaction: config.TransactionPerFile}
			sess, err := opener.Open(context.Background(), conn)
			if err != nil {
				t.Fatalf("Open returned error: %v", err)
			}
			defer func() { _ = sess.Close() }()

			_, err = sess.Execute(context.Background(), `
CREATE TABLE IF NOT EXISTS migrun_driver_test (id int PRIMARY KEY);
INSERT INTO migrun_driver_test (id) VALUES (1) ON CONFLICT DO NOTHING;
`)
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}

			_, err = sess.Execute(context.Background(), "INSERT INTO migrun_driver_test (id) VALUES (1);")
			if !errors.Is(err, migration.ErrExecution) {
				t.Fatalf("expected ErrExecution for duplicate key, got %v", err)
			}
		})
	}
}
