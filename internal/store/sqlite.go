// ABOUTME: Process-wide owner of the SQLite connection pool
// ABOUTME: Lazily opens the store on Acquire (running EnsureCurrent) and closes it on Release

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// MemoryPath opens a private in-memory database. Useful for tests; it
// cannot be snapshotted or restored.
const MemoryPath = ":memory:"

// Handle owns the single *sql.DB for one store file. Components keep the
// *Handle and call Acquire whenever they need the database, so a Release
// (as done by restore) is observed by everyone on their next Acquire.
//
// Handle does not serialize administrative operations against each other;
// callers do that (see maintenance.Coordinator).
type Handle struct {
	mu     sync.Mutex
	path   string
	db     *sql.DB
	logger *slog.Logger
}

// NewHandle returns a handle for the store at path. Nothing is opened
// until the first Acquire.
func NewHandle(path string, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		path:   path,
		logger: logger.With("component", "store"),
	}
}

// Path returns the database file path
func (h *Handle) Path() string {
	return h.path
}

// InMemory reports whether the handle points at an in-memory database
func (h *Handle) InMemory() bool {
	return h.path == MemoryPath
}

// Acquire returns the open database, opening it and bringing its schema up
// to date first if needed. A schema failure is returned as *SchemaError and
// leaves the handle closed.
func (h *Handle) Acquire(ctx context.Context) (*sql.DB, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db != nil {
		return h.db, nil
	}

	db, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	h.db = db
	return db, nil
}

func (h *Handle) open(ctx context.Context) (*sql.DB, error) {
	if !h.InMemory() {
		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, dataSourceName(h.path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer: one connection keeps pragmas, transactions and
	// in-memory databases consistent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := EnsureCurrent(ctx, db, h.logger); err != nil {
		db.Close()
		return nil, err
	}

	h.logger.Info("SQLite store opened", "path", h.path)
	return db, nil
}

// Release closes the database if it is open. The next Acquire reopens it.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	h.logger.Info("SQLite store closed", "path", h.path)
	return nil
}

// Close is Release under the name io.Closer callers expect
func (h *Handle) Close() error {
	return h.Release()
}

// withTx runs fn inside a transaction, rolling back on error
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
