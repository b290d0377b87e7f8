package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environ is a snapshot of environment variables taken once at startup.
type Environ map[string]string

// LoadEnviron merges dotenv files with the process environment.
//
// Values from earlier files win over later ones, and the process environment
// wins over every file. Missing files are skipped.
func LoadEnviron(processEnv []string, dotenvPaths ...string) (Environ, error) {
	env := Environ{}

	for i := len(dotenvPaths) - 1; i >= 0; i-- {
		path := dotenvPaths[i]
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to access %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}

		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for k, v := range values {
			env[k] = v
		}
	}

	for _, kv := range processEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}

	return env, nil
}

// Get returns the value for key, or "" if unset.
func (e Environ) Get(key string) string {
	if e == nil || key == "" {
		return ""
	}
	return e[key]
}
