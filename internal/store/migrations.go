// ABOUTME: Ordered, ledger-tracked one-shot migrations
// ABOUTME: Each migration runs at most once ever, in the same transaction as its ledger row

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration is a structural change that must run exactly once, in order.
// Names are permanent: never rename, reorder or remove an entry.
type Migration struct {
	Name string
	SQL  string
}

// LedgerEntry records an applied migration
type LedgerEntry struct {
	Name      string
	AppliedAt time.Time
}

const ledgerSchema = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)
`

// Migrations is append-only.
var Migrations = []Migration{
	{
		// Early stores created message_attachments without cascading
		// deletes, which left links to pruned messages behind.
		Name: "0001_message_attachments_cascade",
		SQL: `
			CREATE TABLE message_attachments_new (
				message_id    TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				attachment_id TEXT NOT NULL REFERENCES attachments(id) ON DELETE CASCADE,
				PRIMARY KEY (message_id, attachment_id)
			);
			INSERT OR IGNORE INTO message_attachments_new (message_id, attachment_id)
				SELECT message_id, attachment_id FROM message_attachments
				WHERE message_id IN (SELECT id FROM messages)
				  AND attachment_id IN (SELECT id FROM attachments);
			DROP TABLE message_attachments;
			ALTER TABLE message_attachments_new RENAME TO message_attachments;
			CREATE INDEX IF NOT EXISTS idx_message_attachments_attachment
				ON message_attachments(attachment_id);
		`,
	},
	{
		Name: "0002_pinned_messages_cascade",
		SQL: `
			CREATE TABLE pinned_messages_new (
				message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
				room_id    TEXT NOT NULL,
				pinned_by  TEXT,
				pinned_at  TEXT NOT NULL
			);
			INSERT OR IGNORE INTO pinned_messages_new (message_id, room_id, pinned_by, pinned_at)
				SELECT message_id, room_id, pinned_by, pinned_at FROM pinned_messages
				WHERE message_id IN (SELECT id FROM messages);
			DROP TABLE pinned_messages;
			ALTER TABLE pinned_messages_new RENAME TO pinned_messages;
			CREATE INDEX IF NOT EXISTS idx_pinned_messages_room
				ON pinned_messages(room_id);
		`,
	},
	{
		Name: "0003_attachments_storage_path_index",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_attachments_storage_path
				ON attachments(storage_path);
		`,
	},
}

func applyMigrations(ctx context.Context, db *sql.DB, migrations []Migration, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		return &SchemaError{Step: "ledger", Err: err}
	}

	applied, err := appliedNames(ctx, db)
	if err != nil {
		return &SchemaError{Step: "ledger", Err: err}
	}

	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}

		err := withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("executing migration: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
				m.Name, FormatTime(time.Now()),
			); err != nil {
				return fmt.Errorf("recording migration: %w", err)
			}
			return nil
		})
		if err != nil {
			return &SchemaError{Step: "migration", Name: m.Name, Err: err}
		}

		logger.Info("applied migration", "name", m.Name)
	}

	return nil
}

func appliedNames(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger rows: %w", err)
	}
	return applied, nil
}

// AppliedMigrations lists the ledger in application order
func (h *Handle) AppliedMigrations(ctx context.Context) ([]LedgerEntry, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT name, applied_at FROM schema_migrations ORDER BY applied_at, name`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var appliedAt string
		if err := rows.Scan(&e.Name, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		if e.AppliedAt, err = ParseTime(appliedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger rows: %w", err)
	}
	return entries, nil
}
