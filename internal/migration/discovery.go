package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtension marks files eligible for execution.
const DefaultExtension = ".sql"

// Discover lists the migration files directly inside dir, ordered by filename.
//
// Subdirectories are not descended into. Files that do not end in ext are
// ignored. Paths that are missing or not directories return
// ErrNoMigrationsFound, as do directories with no matching files.
func Discover(dir, ext string) ([]File, error) {
	if ext == "" {
		ext = DefaultExtension
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: directory %s does not exist", ErrNoMigrationsFound, dir)
		}
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNoMigrationsFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", dir, err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		files = append(files, File{
			Path: filepath.Join(dir, entry.Name()),
			Name: entry.Name(),
			Key:  entry.Name(),
		})
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrNoMigrationsFound, ext, dir)
	}

	Sort(files)
	return files, nil
}

// Sort orders files by ordinal key, breaking ties on the full path.
func Sort(files []File) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Key != files[j].Key {
			return files[i].Key < files[j].Key
		}
		return files[i].Path < files[j].Path
	})
}

// Load reads the whole migration as one SQL payload.
func Load(f File) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read migration %s: %w", f.Name, err)
	}
	return string(data), nil
}

// Checksum returns the hex SHA-256 of a migration payload.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
