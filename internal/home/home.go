package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the tanjia home directory.
	DefaultDirName = ".tanjia"

	// PostgresDirName is the subdirectory the local database container mounts.
	PostgresDirName = "postgres"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// PidFileName records the running server's process ID.
	PidFileName = "tanjia.pid"
)

// Dir represents the tanjia home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.tanjia).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// PostgresPath returns the local database data directory.
func (d *Dir) PostgresPath() string {
	return filepath.Join(d.path, PostgresDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// PidPath returns the path to the server PID file.
func (d *Dir) PidPath() string {
	return filepath.Join(d.path, PidFileName)
}

// EnsureExists creates the home directory if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	return nil
}

// EnsurePostgresDir creates the local database data directory.
func (d *Dir) EnsurePostgresDir() error {
	if err := os.MkdirAll(d.PostgresPath(), 0o700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
