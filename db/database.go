package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed Database.
var ErrClosed = errors.New("db: database is closed")

// Database owns the SQLite connection. Open creates the parent directory,
// connects in WAL mode and applies the embedded migrations.
type Database struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger *zap.Logger) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// golang-migrate closes the connection it is given.
	if err := MigrateUpFromPath(path); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	logger.Named("db").Debug("database opened", zap.String("path", path))
	return &Database{db: conn, path: path, logger: logger.Named("db")}, nil
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Close is idempotent.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return ErrClosed
	}
	return d.db.PingContext(ctx)
}

func (d *Database) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db.ExecContext(ctx, query, args...)
}

// query runs fn over the result rows while holding the read lock.
func (d *Database) query(ctx context.Context, fn func(*sql.Rows) error, query string, args ...any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return ErrClosed
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if err := fn(rows); err != nil {
		return err
	}
	return rows.Err()
}

func (d *Database) queryRow(ctx context.Context, dest []any, query string, args ...any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return ErrClosed
	}
	return d.db.QueryRowContext(ctx, query, args...).Scan(dest...)
}
