package config

import (
	"os"
	"path/filepath"
)

// DefaultHomeDir returns the default kgraph home directory.
// It uses ~/.kgraph or falls back to a temporary directory if user home
// cannot be determined.
func DefaultHomeDir() string {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kgraph")
	}
	return filepath.Join(userHome, ".kgraph")
}

// DefaultConfigPath returns the default config file path for a given home directory.
func DefaultConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}
