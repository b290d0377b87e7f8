package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const fileVersion = "1"

// FileStore keeps the ledger in a JSON file next to the project.
type FileStore struct {
	Path string
}

type fileState struct {
	Version string  `json:"version"` // file format version
	Applied []Entry `json:"applied"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return &fileState{Version: fileVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse ledger file %s: %w", s.Path, err)
	}
	return &state, nil
}

func (s *FileStore) save(state *fileState) error {
	dir := filepath.Dir(s.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	// Write to a temp file first so a crash never leaves a torn ledger.
	tempFile := s.Path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := os.Rename(tempFile, s.Path); err != nil {
		return fmt.Errorf("failed to save ledger file: %w", err)
	}
	return nil
}

func (s *FileStore) Applied(ctx context.Context) (map[string]Entry, error) {
	state, err := s.load()
	if err != nil {
		return nil, err
	}

	applied := make(map[string]Entry, len(state.Applied))
	for _, e := range state.Applied {
		applied[e.Name] = e
	}
	return applied, nil
}

// Record adds or replaces the entry for entry.Name.
func (s *FileStore) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range state.Applied {
		if state.Applied[i].Name == entry.Name {
			state.Applied[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		state.Applied = append(state.Applied, entry)
	}
	sort.Slice(state.Applied, func(i, j int) bool {
		return state.Applied[i].Name < state.Applied[j].Name
	})

	state.Version = fileVersion
	return s.save(state)
}

func (s *FileStore) Close() error {
	return nil
}
