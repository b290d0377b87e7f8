// Package executor applies discovered migrations one at a time, in order,
// each through its own database session.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/ledger"
	"github.com/lockplane/migrun/internal/logging"
	"github.com/lockplane/migrun/internal/migration"
	"github.com/lockplane/migrun/internal/session"
)

// TruncationMarker is appended to diagnostics cut at the output bound.
const TruncationMarker = "... (truncated)"

// Observer is notified as the run progresses.
type Observer interface {
	Started(file migration.File)
	Finished(result migration.Result)
	Skipped(file migration.File, entry ledger.Entry)
}

// Outcome is everything a run produced.
type Outcome struct {
	RunID   string
	Results []migration.Result
	// Skipped lists files the ledger marked as already applied.
	Skipped []migration.File
	// Interrupted is set when the parent context ended the run early.
	Interrupted bool
}

// Executor runs migrations strictly sequentially.
type Executor struct {
	Config config.RunConfig
	Conn   connection.Config
	Opener session.Opener
	// Ledger is optional. When nil every file is attempted.
	Ledger   ledger.Store
	Observer Observer
	Logger   logrus.FieldLogger
	// RunID is generated when empty.
	RunID string
	// Now is overridden by tests.
	Now func() time.Time
}

// Run attempts files in the order given. Per-file failures are captured in
// the results; the returned error is reserved for failures that prevent the
// run from starting, such as an unreadable ledger.
func (e *Executor) Run(ctx context.Context, files []migration.File) (Outcome, error) {
	if e.Opener == nil {
		return Outcome{}, fmt.Errorf("executor has no session opener")
	}

	runID := e.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := e.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithField("run_id", runID)

	out := Outcome{RunID: runID}

	var applied map[string]ledger.Entry
	if e.Ledger != nil {
		var err error
		applied, err = e.Ledger.Applied(ctx)
		if err != nil {
			return out, fmt.Errorf("failed to read ledger: %w", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"migrations": len(files),
		"policy":     e.Config.Policy,
		"backend":    e.Config.Backend,
	}).Info("Starting migration run")

	for _, file := range files {
		if ctx.Err() != nil {
			out.Interrupted = true
			logger.Warn("Run interrupted, remaining migrations not attempted")
			break
		}

		if entry, ok := applied[file.Name]; ok {
			e.skip(file, entry, logger)
			out.Skipped = append(out.Skipped, file)
			continue
		}

		if e.Observer != nil {
			e.Observer.Started(file)
		}
		content, err := migration.Load(file)
		if err != nil {
			result := migration.Result{
				File:   file,
				Status: migration.StatusFailed,
				Err:    migration.NewError(file, migration.ErrExecution, err),
			}
			out.Results = append(out.Results, result)
			e.notifyFinished(result)
			if e.Config.Policy != config.PolicyContinue {
				break
			}
			continue
		}

		result := e.apply(ctx, file, content, logger)
		out.Results = append(out.Results, result)
		e.notifyFinished(result)

		if result.Succeeded() {
			e.record(ctx, file, content, runID, logger)
			continue
		}

		if ctx.Err() != nil {
			out.Interrupted = true
			break
		}
		if e.Config.Policy != config.PolicyContinue {
			logger.WithField("migration", file.Name).Warn("Halting after failed migration")
			break
		}
	}

	return out, nil
}

// apply runs one migration in a fresh session that is closed before returning.
func (e *Executor) apply(ctx context.Context, file migration.File, content string, logger logrus.FieldLogger) migration.Result {
	log := logger.WithField("migration", file.Name)
	start := e.now()
	result := migration.Result{File: file, Status: migration.StatusRunning}

	sess, err := e.Opener.Open(ctx, e.Conn)
	if err != nil {
		result.Status = migration.StatusFailed
		result.Duration = e.now().Sub(start)
		result.Err = migration.NewError(file, migration.ErrConnectivity, err)
		log.WithError(err).Error("Failed to open session")
		return result
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close session")
		}
	}()

	timeout := e.Config.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := sess.Execute(execCtx, content)
	result.Duration = e.now().Sub(start)
	result.Stdout = Truncate(outcome.Stdout, e.Config.MaxOutputBytes)
	result.Stderr = Truncate(outcome.Stderr, e.Config.MaxOutputBytes)

	switch {
	case err == nil:
		result.Status = migration.StatusSucceeded
		log.WithField("duration", result.Duration.Round(time.Millisecond)).Info("Migration applied")
	case ctx.Err() != nil:
		// The parent was cancelled, not the per-file bound.
		result.Status = migration.StatusFailed
		result.Err = migration.NewError(file, migration.ErrExecution, ctx.Err())
		log.Warn("Migration interrupted")
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Status = migration.StatusTimedOut
		result.Err = migration.NewError(file, migration.ErrTimeout, fmt.Errorf("exceeded %s", timeout))
		log.WithField("timeout", timeout).Error("Migration timed out")
	case errors.Is(err, migration.ErrConnectivity):
		result.Status = migration.StatusFailed
		result.Err = migration.NewError(file, migration.ErrConnectivity, err)
		log.WithError(err).Error("Lost connection while applying migration")
	default:
		result.Status = migration.StatusFailed
		result.Err = migration.NewError(file, migration.ErrExecution, err)
		log.WithError(err).Error("Migration failed")
	}
	return result
}

func (e *Executor) record(ctx context.Context, file migration.File, content, runID string, logger logrus.FieldLogger) {
	if e.Ledger == nil {
		return
	}
	entry := ledger.Entry{
		Name:      file.Name,
		Checksum:  migration.Checksum(content),
		RunID:     runID,
		AppliedAt: e.now().UTC(),
	}
	if err := e.Ledger.Record(ctx, entry); err != nil {
		logger.WithError(err).WithField("migration", file.Name).Error("Failed to record migration in ledger")
	}
}

// skip reports an already applied file, warning when its content no longer
// matches the recorded checksum.
func (e *Executor) skip(file migration.File, entry ledger.Entry, logger logrus.FieldLogger) {
	if entry.Checksum != "" {
		content, err := migration.Load(file)
		switch {
		case err != nil:
			logger.WithError(err).WithField("migration", file.Name).Warn("Cannot verify checksum of applied migration")
		case entry.Checksum != migration.Checksum(content):
			logger.WithField("migration", file.Name).Warn("Applied migration has changed since it was recorded")
		}
	}
	if e.Observer != nil {
		e.Observer.Skipped(file, entry)
	}
}

func (e *Executor) notifyFinished(result migration.Result) {
	if e.Observer != nil {
		e.Observer.Finished(result)
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Truncate bounds s to at most limit bytes of content, cutting on a rune
// boundary and appending TruncationMarker. A non-positive limit disables it.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
