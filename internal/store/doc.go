// Package store owns the chitchat SQLite database and its schema lifecycle.
//
// # Handle
//
// A Handle is the single process-wide owner of the connection pool for one
// database file:
//
//	h := store.NewHandle("/var/lib/chitchat/chitchat.db", logger)
//	db, err := h.Acquire(ctx) // opens lazily, runs EnsureCurrent
//	...
//	h.Release()               // closes; the next Acquire reopens
//
// Every component keeps the *Handle and calls Acquire when it needs the
// database. Restore relies on this: it releases the handle, replaces the file
// and acquires it again, and nobody holds a stale *sql.DB.
//
// # SQLite Configuration
//
// Pragmas are part of the DSN so they apply to every pooled connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// The default build uses modernc.org/sqlite. Build with -tags sqlite_cgo to
// use github.com/mattn/go-sqlite3 instead.
//
// # Schema
//
// EnsureCurrent runs on every open and has three independent parts:
//
//  1. Base schema: CREATE TABLE/INDEX IF NOT EXISTS for the current shape.
//  2. Migrations: the ordered Migrations list, each applied at most once and
//     recorded in schema_migrations in the same transaction.
//  3. Reconciliation: missing expected columns are added with their
//     defaults. Nothing is ever renamed or dropped.
//
// Structural changes (table rebuilds) go in Migrations. Plain new columns go
// in the expected column list. Any failure is a *SchemaError and the process
// must not serve traffic.
//
// # Timestamps
//
// All timestamps are stored as TEXT in TimeLayout (UTC, millisecond
// precision, fixed width).
package store
