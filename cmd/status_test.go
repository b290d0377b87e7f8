package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunStatus_ListsInExecutionOrder(t *testing.T) {
	p := newProject(t, threeMigrations)
	opts := p.options()

	var stdout bytes.Buffer
	if err := runStatus(context.Background(), opts, []string{p.migrations}, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("runStatus returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	want := []string{
		"3 migrations in " + p.migrations,
		"  1. 001_users.sql",
		"  2. 002_posts.sql",
		"  3. 010_tags.sql",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("unexpected status output:\n%s", stdout.String())
	}
	if _, err := os.Stat(p.dbPath); !os.IsNotExist(err) {
		t.Error("status must not touch the database")
	}
}

func TestRunStatus_WithFileLedger(t *testing.T) {
	p := newProject(t, threeMigrations)
	opts := p.options()
	opts.ledger = "file"

	if code, err := runApply(context.Background(), opts, []string{p.migrations}, &bytes.Buffer{}, &bytes.Buffer{}); err != nil || code != 0 {
		t.Fatalf("apply: code=%d err=%v", code, err)
	}

	// A new migration and an edited one.
	if err := os.WriteFile(filepath.Join(p.migrations, "020_more.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatalf("Failed to write migration: %v", err)
	}
	if err := os.WriteFile(filepath.Join(p.migrations, "010_tags.sql"), []byte("CREATE TABLE tags (id INTEGER, name TEXT);"), 0o600); err != nil {
		t.Fatalf("Failed to rewrite migration: %v", err)
	}

	statusOpts := p.options()
	statusOpts.ledger = "file"
	statusOpts.output = "json"

	var stdout bytes.Buffer
	if err := runStatus(context.Background(), statusOpts, []string{p.migrations}, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("runStatus returned error: %v", err)
	}

	var entries []struct {
		Name    string `json:"name"`
		Applied *bool  `json:"applied"`
		Changed bool   `json:"changed"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		t.Fatalf("expected JSON output: %v\n%s", err, stdout.String())
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	wantApplied := map[string]bool{
		"001_users.sql": true,
		"002_posts.sql": true,
		"010_tags.sql":  true,
		"020_more.sql":  false,
	}
	for _, e := range entries {
		if e.Applied == nil || *e.Applied != wantApplied[e.Name] {
			t.Errorf("%s: unexpected applied state %v", e.Name, e.Applied)
		}
		if e.Changed != (e.Name == "010_tags.sql") {
			t.Errorf("%s: unexpected changed flag %v", e.Name, e.Changed)
		}
	}
}
