package utils

import (
	"os"
	"path/filepath"
)

// rootMarkers identify the project root when walking up from the working directory.
var rootMarkers = []string{"equipscan.yaml", "go.mod"}

// GetProjectRoot returns the nearest directory at or above the working
// directory holding equipscan.yaml or go.mod, or "." when there is none.
func GetProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		for _, m := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

// GetDataDir returns data/ under the project root; the default database lives there.
func GetDataDir() string {
	return filepath.Join(GetProjectRoot(), "data")
}

// EnvOrDefault reads key from the environment, falling back to def.
func EnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
