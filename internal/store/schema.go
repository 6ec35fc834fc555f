// ABOUTME: Brings a store to the current schema on every open
// ABOUTME: Base CREATE IF NOT EXISTS definitions, then ledger migrations, then column reconciliation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// SchemaError reports a failure while bringing the schema up to date.
// The store must not be used after one.
type SchemaError struct {
	Step string // "base", "ledger", "migration" or "reconcile"
	Name string // migration name or table.column, when applicable
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("schema %s %s: %v", e.Step, e.Name, e.Err)
	}
	return fmt.Sprintf("schema %s: %v", e.Step, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// EnsureCurrent applies the base schema, any pending ledger migrations and
// the additive column reconciliation. Safe to run on every startup.
func EnsureCurrent(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.ExecContext(ctx, baseSchema); err != nil {
		return &SchemaError{Step: "base", Err: err}
	}

	if err := applyMigrations(ctx, db, Migrations, logger); err != nil {
		return err
	}

	return reconcileColumns(ctx, db, expectedColumns, logger)
}

// baseSchema is the current shape of every table. Indexes here must only
// reference columns that every historical shape of their table has; newer
// columns are added by reconciliation after this runs.
const baseSchema = `
	CREATE TABLE IF NOT EXISTS rooms (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		created_by     TEXT,
		created_at     TEXT NOT NULL,
		is_temporary   INTEGER NOT NULL DEFAULT 0,
		retention_mode TEXT NOT NULL DEFAULT 'inherit',
		retention_days INTEGER,
		topic          TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		room_id     TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id     TEXT,
		body        TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		edited_at   TEXT,
		reply_to_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_created
		ON messages(room_id, created_at);

	CREATE TABLE IF NOT EXISTS pinned_messages (
		message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
		room_id    TEXT NOT NULL,
		pinned_by  TEXT,
		pinned_at  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pinned_messages_room
		ON pinned_messages(room_id);

	CREATE TABLE IF NOT EXISTS attachments (
		id           TEXT PRIMARY KEY,
		storage_path TEXT NOT NULL,
		mime_type    TEXT NOT NULL DEFAULT 'application/octet-stream',
		size_bytes   INTEGER NOT NULL DEFAULT 0,
		owner_id     TEXT,
		created_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_attachments (
		message_id    TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		attachment_id TEXT NOT NULL REFERENCES attachments(id) ON DELETE CASCADE,
		PRIMARY KEY (message_id, attachment_id)
	);

	CREATE INDEX IF NOT EXISTS idx_message_attachments_attachment
		ON message_attachments(attachment_id);

	CREATE TABLE IF NOT EXISTS maintenance_log (
		entry_id    TEXT PRIMARY KEY,
		operation   TEXT NOT NULL,
		actor       TEXT NOT NULL DEFAULT '',
		ts          TEXT NOT NULL,
		detail_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_maintenance_log_ts
		ON maintenance_log(ts);
`
