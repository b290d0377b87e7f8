package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/logging"
)

// Outcome is what a backend reports for one executed payload.
type Outcome struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Session executes SQL against one connection. A session serves exactly one
// migration and must be closed afterwards.
type Session interface {
	// Execute runs the whole payload as a unit. Errors wrap
	// migration.ErrConnectivity or migration.ErrExecution.
	Execute(ctx context.Context, sql string) (Outcome, error)
	Close() error
}

// Opener acquires fresh sessions.
type Opener interface {
	Open(ctx context.Context, conn connection.Config) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, conn connection.Config) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, conn connection.Config) (Session, error) {
	return f(ctx, conn)
}

// NewOpener returns the backend selected by the run configuration.
func NewOpener(run config.RunConfig, env config.Environ, logger logrus.FieldLogger) (Opener, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	switch run.Backend {
	case config.BackendProcess:
		return &ProcessOpener{
			Client:      run.ProcessClient,
			Args:        run.ProcessArgs,
			Transaction: run.Transaction,
			Env:         env,
			Logger:      logger,
		}, nil
	case config.BackendDriver:
		return &DriverOpener{
			PostgresDriver: run.PostgresDriver,
			Transaction:    run.Transaction,
			Logger:         logger,
		}, nil
	case config.BackendAPI:
		return &APIOpener{
			BaseURL:     run.APIURL,
			Token:       run.APIToken,
			Transaction: run.Transaction,
			Logger:      logger,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", run.Backend)
	}
}
