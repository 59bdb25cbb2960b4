// Package db opens the help desk database and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

// Options holds configuration for embedded database connections.
type Options struct {
	Driver       string // "libsql" or "sqlite"
	Path         string // Path to .db file
	MaxOpenConns int
	Logger       zerolog.Logger
}

// Open connects to the embedded database, verifies it and applies migrations.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	driver, dsn, err := dataSource(opts.Driver, opts.Path)
	if err != nil {
		return nil, err
	}

	opts.Logger.Info().Str("driver", driver).Str("path", opts.Path).Msg("Connecting to embedded database")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := verify(ctx, db, opts.Logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := Migrate(ctx, db, opts.Logger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// dataSource maps a driver name to the registered sql driver and its DSN.
func dataSource(driver, path string) (string, string, error) {
	switch driver {
	case "", "libsql":
		return "libsql", "file:" + path, nil
	case "sqlite":
		// modernc applies pragmas per connection through _pragma parameters
		return "sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path), nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// verify checks connectivity and the built-in features the schema relies on.
func verify(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}

	// Knowledge search depends on FTS5
	if _, err := db.ExecContext(ctx, "CREATE VIRTUAL TABLE IF NOT EXISTS temp._fts5_probe USING fts5(content)"); err != nil {
		return fmt.Errorf("FTS5 is not available in this build: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS temp._fts5_probe")
	logger.Debug().Msg("FTS5 extension verified")

	return nil
}
