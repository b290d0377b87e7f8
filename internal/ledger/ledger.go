// Package ledger records which migrations have been applied so later runs can
// skip them. Recording is opt-in; without a ledger every run re-attempts every
// discovered file.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
)

// Entry is one applied migration.
type Entry struct {
	Name      string    `json:"name" yaml:"name"`
	Checksum  string    `json:"checksum" yaml:"checksum"`
	RunID     string    `json:"run_id" yaml:"run_id"`
	AppliedAt time.Time `json:"applied_at" yaml:"applied_at"`
}

// Store persists ledger entries.
type Store interface {
	// Applied returns recorded entries keyed by migration name.
	Applied(ctx context.Context) (map[string]Entry, error)
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// Open returns the store selected by the run configuration, or nil when the
// ledger is disabled.
func Open(ctx context.Context, run config.RunConfig, conn connection.Config, logger logrus.FieldLogger) (Store, error) {
	switch run.Ledger {
	case config.LedgerNone, "":
		return nil, nil
	case config.LedgerFile:
		return NewFileStore(run.LedgerFile), nil
	case config.LedgerTable:
		store, err := OpenTableStore(ctx, conn, run.LedgerTable, run.PostgresDriver, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported ledger mode: %s", run.Ledger)
	}
}
