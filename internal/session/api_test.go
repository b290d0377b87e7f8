package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lockplane/migrun/internal/config"
	"github.com/lockplane/migrun/internal/connection"
	"github.com/lockplane/migrun/internal/migration"
)

func apiConn() connection.Config {
	conn := postgresConn()
	conn.ProjectRef = "abcdefghijklmnop"
	return conn
}

func TestAPISession_Success(t *testing.T) {
	var got queryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/projects/abcdefghijklmnop/database/query" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sbp_token" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	opener := &APIOpener{BaseURL: server.URL, Token: "sbp_token", Transaction: config.TransactionPerFile}
	sess, err := opener.Open(context.Background(), apiConn())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer func() { _ = sess.Close() }()

	outcome, err := sess.Execute(context.Background(), "CREATE TABLE t (id int);")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if outcome.Stdout != "[]" {
		t.Errorf("unexpected stdout %q", outcome.Stdout)
	}
	if !strings.HasPrefix(got.Query, "BEGIN;") || !strings.HasSuffix(got.Query, "COMMIT;") {
		t.Errorf("expected per-file transaction wrapping, got %q", got.Query)
	}
}

func TestAPISession_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, migration.ErrExecution},
		{"unauthorized", http.StatusUnauthorized, migration.ErrConnectivity},
		{"forbidden", http.StatusForbidden, migration.ErrConnectivity},
		{"server error", http.StatusInternalServerError, migration.ErrExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"syntax error at or near \"CREAT\""}`))
			}))
			defer server.Close()

			opener := &APIOpener{BaseURL: server.URL, Token: "sbp_token"}
			sess, err := opener.Open(context.Background(), apiConn())
			if err != nil {
				t.Fatalf("Open returned error: %v", err)
			}
			defer func() { _ = sess.Close() }()

			outcome, err := sess.Execute(context.Background(), "CREAT TABLE t ();")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !strings.Contains(outcome.Stderr, "syntax error") {
				t.Errorf("expected response body in stderr, got %q", outcome.Stderr)
			}
		})
	}
}

func TestAPISession_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	opener := &APIOpener{BaseURL: url, Token: "sbp_token"}
	sess, err := opener.Open(context.Background(), apiConn())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	_, err = sess.Execute(context.Background(), "SELECT 1;")
	if !errors.Is(err, migration.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
}

func TestAPIOpener_RequiresRefAndToken(t *testing.T) {
	t.Parallel()

	if _, err := (&APIOpener{BaseURL: "http://x"}).Open(context.Background(), apiConn()); !errors.Is(err, migration.ErrConnectivity) {
		t.Errorf("expected ErrConnectivity without token, got %v", err)
	}
	if _, err := (&APIOpener{BaseURL: "http://x", Token: "t"}).Open(context.Background(), postgresConn()); !errors.Is(err, migration.ErrConnectivity) {
		t.Errorf("expected ErrConnectivity without project ref, got %v", err)
	}
}

func TestNewOpener(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backend config.Backend
		check   func(Opener) bool
	}{
		{config.BackendProcess, func(o Opener) bool { _, ok := o.(*ProcessOpener); return ok }},
		{config.BackendDriver, func(o Opener) bool { _, ok := o.(*DriverOpener); return ok }},
		{config.BackendAPI, func(o Opener) bool { _, ok := o.(*APIOpener); return ok }},
	}

	for _, tt := range tests {
		opener, err := NewOpener(config.RunConfig{Backend: tt.backend}, nil, nil)
		if err != nil {
			t.Fatalf("NewOpener(%s) returned error: %v", tt.backend, err)
		}
		if !tt.check(opener) {
			t.Errorf("NewOpener(%s) returned %T", tt.backend, opener)
		}
	}

	if _, err := NewOpener(config.RunConfig{Backend: "carrier-pigeon"}, nil, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
