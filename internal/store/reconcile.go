// ABOUTME: Additive column reconciliation for stores created with older table shapes
// ABOUTME: Adds missing expected columns with documented defaults; never renames or drops

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// expectedColumn is a column the current schema expects. definition is
// used verbatim in ALTER TABLE ... ADD COLUMN, so NOT NULL columns must
// carry a DEFAULT.
type expectedColumn struct {
	table      string
	column     string
	definition string
}

// Columns added after the first release of each table.
//
//	rooms.is_temporary    0 (persistent)
//	rooms.retention_mode  'inherit'
//	rooms.retention_days  NULL (unset)
//	rooms.topic           ''
//	messages.edited_at    NULL
//	messages.reply_to_id  NULL
var expectedColumns = []expectedColumn{
	{"rooms", "is_temporary", "INTEGER NOT NULL DEFAULT 0"},
	{"rooms", "retention_mode", "TEXT NOT NULL DEFAULT 'inherit'"},
	{"rooms", "retention_days", "INTEGER"},
	{"rooms", "topic", "TEXT NOT NULL DEFAULT ''"},
	{"messages", "edited_at", "TEXT"},
	{"messages", "reply_to_id", "TEXT"},
}

func reconcileColumns(ctx context.Context, db *sql.DB, expected []expectedColumn, logger *slog.Logger) error {
	live := make(map[string]map[string]bool)

	for _, c := range expected {
		cols, ok := live[c.table]
		if !ok {
			var err error
			cols, err = tableColumns(ctx, db, c.table)
			if err != nil {
				return &SchemaError{Step: "reconcile", Name: c.table, Err: err}
			}
			live[c.table] = cols
		}
		if cols[c.column] {
			continue
		}

		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, c.table, c.column, c.definition)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return &SchemaError{Step: "reconcile", Name: c.table + "." + c.column, Err: err}
		}
		cols[c.column] = true
		logger.Info("added missing column", "table", c.table, "column", c.column)
	}

	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns of %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return cols, nil
}
