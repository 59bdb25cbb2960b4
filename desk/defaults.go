// Package desk holds process-wide defaults shared by the help desk packages.
package desk

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "helpdesk"
	DefaultDatabaseType = "libsql"
	DefaultListenAddr   = ":8080"
	DefaultKnowledgeDir = "kb"
)

var (
	// DefaultConfigPath is where LoadConfig looks after the working directory.
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	// DefaultDatabaseDir holds the embedded database files.
	DefaultDatabaseDir = filepath.Join(userDataDir(), DefaultAppName)
	// DefaultDatabaseDSN is the embedded database file path.
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, "helpdesk.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
