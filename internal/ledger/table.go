package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/logging"
	"github.com/lockplane/migrun/internal/migration"
	"github.com/lockplane/migrun/internal/session"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Placeholder styles for the supported dialects.
const (
	PlaceholderDollar   = "$"
	PlaceholderQuestion = "?"
)

// TableStore keeps the ledger in a table inside the target database.
type TableStore struct {
	db          *sql.DB
	table       string
	placeholder string
	logger      logrus.FieldLogger
}

// OpenTableStore connects with the native driver for conn and creates the
// ledger table if needed.
func OpenTableStore(ctx context.Context, conn connection.Config, table, postgresDriver string, logger logrus.FieldLogger) (*TableStore, error) {
	driverName := session.SQLDriverName(conn, postgresDriver)
	db, err := sql.Open(driverName, session.DSN(conn))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open ledger connection to %s", migration.ErrConnectivity, conn.Redacted())
	}

	placeholder := PlaceholderQuestion
	if conn.Scheme == connection.SchemePostgres {
		placeholder = PlaceholderDollar
	}

	store, err := NewTableStore(ctx, db, table, placeholder, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewTableStore wraps an open database. The store owns db and closes it.
func NewTableStore(ctx context.Context, db *sql.DB, table, placeholder string, logger logrus.FieldLogger) (*TableStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid ledger table name %q", migration.ErrConfiguration, table)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	s := &TableStore{db: db, table: table, placeholder: placeholder, logger: logger}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TableStore) param(n int) string {
	if s.placeholder == PlaceholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *TableStore) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    run_id TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`, s.table)

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%w: failed to create ledger table %s: %v", migration.ErrConnectivity, s.table, err)
	}
	s.logger.WithField("table", s.table).Debug("Ledger table ready")
	return nil
}

func (s *TableStore) Applied(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name, checksum, run_id, applied_at FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]Entry)
	for rows.Next() {
		var e Entry
		var appliedAt string
		if err := rows.Scan(&e.Name, &e.Checksum, &e.RunID, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, appliedAt); err == nil {
			e.AppliedAt = t
		}
		applied[e.Name] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return applied, nil
}

// Record upserts the entry: a re-applied migration replaces its earlier row.
func (s *TableStore) Record(ctx context.Context, entry Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := fmt.Sprintf("DELETE FROM %s WHERE name = %s", s.table, s.param(1))
	if _, err := tx.ExecContext(ctx, del, entry.Name); err != nil {
		return fmt.Errorf("failed to clear ledger entry %s: %w", entry.Name, err)
	}

	ins := fmt.Sprintf("INSERT INTO %s (name, checksum, run_id, applied_at) VALUES (%s, %s, %s, %s)",
		s.table, s.param(1), s.param(2), s.param(3), s.param(4))
	appliedAt := entry.AppliedAt.UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, ins, entry.Name, entry.Checksum, entry.RunID, appliedAt); err != nil {
		return fmt.Errorf("failed to record ledger entry %s: %w", entry.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger entry %s: %w", entry.Name, err)
	}
	return nil
}

func (s *TableStore) Close() error {
	return s.db.Close()
}
