package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/migration"
	"github.com/lockplane/migrun/internal/testutil"
)

func TestTableStore_SQLite(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SQLite(t)

	store, err := OpenTableStore(ctx, conn, config.DefaultLedgerTable, "", nil)
	if err != nil {
		t.Fatalf("OpenTableStore returned error: %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Record(ctx, Entry{Name: "001_init.sql", Checksum: "abc", RunID: "run-1", AppliedAt: now}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := store.Record(ctx, Entry{Name: "001_init.sql", Checksum: "def", RunID: "run-2", AppliedAt: now}); err != nil {
		t.Fatalf("second Record returned error: %v", err)
	}

	applied, err := store.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied returned error: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(applied))
	}
	got := applied["001_init.sql"]
	if got.Checksum != "def" || got.RunID != "run-2" || !got.AppliedAt.Equal(now) {
		t.Errorf("unexpected entry %+v", got)
	}

	// Reopening must not fail on the existing table.
	again, err := OpenTableStore(ctx, conn, config.DefaultLedgerTable, "", nil)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	_ = again.Close()
}

func TestTableStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrun_ledger (
    name TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    run_id TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM migrun_ledger WHERE name = $1").
		WithArgs("001_init.sql").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO migrun_ledger (name, checksum, run_id, applied_at) VALUES ($1, $2, $3, $4)").
		WithArgs("001_init.sql", "abc", "run-1", "2024-05-01T12:00:00Z").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store, err := NewTableStore(context.Background(), db, "migrun_ledger", PlaceholderDollar, nil)
	if err != nil {
		t.Fatalf("NewTableStore returned error: %v", err)
	}

	err = store.Record(context.Background(), Entry{
		Name:      "001_init.sql",
		Checksum:  "abc",
		RunID:     "run-1",
		AppliedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewTableStore_RejectsBadName(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()

	_, err = NewTableStore(context.Background(), db, "ledger; DROP TABLE users", PlaceholderQuestion, nil)
	if !errors.Is(err, migration.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestOpen_Modes(t *testing.T) {
	t.Parallel()

	store, err := Open(context.Background(), config.RunConfig{Ledger: config.LedgerNone}, connection.Config{}, nil)
	if err != nil || store != nil {
		t.Errorf("expected nil store for disabled ledger, got %v, %v", store, err)
	}

	path := filepath.Join(t.TempDir(), "state.json")
	store, err = Open(context.Background(), config.RunConfig{Ledger: config.LedgerFile, LedgerFile: path}, connection.Config{}, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if fs, ok := store.(*FileStore); !ok || fs.Path != path {
		t.Errorf("expected file store at %s, got %#v", path, store)
	}
}

func TestTableStore_Postgres(t *testing.T) {
	conn := testutil.Postgres(t)
	const table = "migrun_ledger_test"
	testutil.DropTables(t, conn, table)
	t.Cleanup(func() { testutil.DropTables(t, conn, table) })

	ctx := context.Background()
	store, err := OpenTableStore(ctx, conn, table, "pgx", nil)
	if err != nil {
		t.Fatalf("OpenTableStore returned error: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Record(ctx, Entry{Name: "001_init.sql", Checksum: "abc", RunID: "run-1", AppliedAt: time.Now()}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	applied, err := store.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied returned error: %v", err)
	}
	if _, ok := applied["001_init.sql"]; !ok {
		t.Errorf("expected recorded entry, got %v", applied)
	}
}
