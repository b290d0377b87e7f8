package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/logging"
	"github.com/lockplane/migrun/internal/migration"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// APIOpener runs migrations through a hosted project's SQL query endpoint.
type APIOpener struct {
	BaseURL     string
	Token       string
	Transaction config.TransactionMode
	Client      *http.Client
	Logger      logrus.FieldLogger
}

func (o *APIOpener) Open(ctx context.Context, conn connection.Config) (Session, error) {
	if conn.ProjectRef == "" {
		return nil, fmt.Errorf("%w: api backend needs a project ref", migration.ErrConnectivity)
	}
	if o.Token == "" {
		return nil, fmt.Errorf("%w: api backend needs an access token", migration.ErrConnectivity)
	}

	client := o.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/database/query", o.BaseURL, url.PathEscape(conn.ProjectRef))
	return &apiSession{
		endpoint: endpoint,
		token:    o.Token,
		tx:       o.Transaction,
		client:   client,
		logger:   logger,
	}, nil
}

type apiSession struct {
	endpoint string
	token    string
	tx       config.TransactionMode
	client   *http.Client
	logger   logrus.FieldLogger
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *apiSession) Execute(ctx context.Context, sql string) (Outcome, error) {
	if s.tx == config.TransactionPerFile {
		sql = "BEGIN;\n" + sql + "\nCOMMIT;"
	}

	body, err := json.Marshal(queryRequest{Query: sql})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: failed to encode request: %v", migration.ErrExecution, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: failed to build request: %v", migration.ErrConnectivity, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "migrun")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{ExitStatus: 1}, ctxErr
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return Outcome{ExitStatus: 1}, fmt.Errorf("%w: request failed: %v", migration.ErrConnectivity, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{ExitStatus: 1}, ctxErr
		}
		return Outcome{ExitStatus: 1}, fmt.Errorf("%w: failed to read response: %v", migration.ErrConnectivity, err)
	}

	s.logger.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("Query endpoint responded")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{Stdout: string(data)}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Outcome{ExitStatus: 1, Stderr: string(data)}, fmt.Errorf("%w: endpoint rejected credentials (HTTP %d)", migration.ErrConnectivity, resp.StatusCode)
	default:
		return Outcome{ExitStatus: 1, Stderr: string(data)}, fmt.Errorf("%w: endpoint returned HTTP %d", migration.ErrExecution, resp.StatusCode)
	}
}

func (s *apiSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
