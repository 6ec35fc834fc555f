// ABOUTME: Maintenance journal entity and store methods
// ABOUTME: Records which administrative operation ran, who ran it and what it changed

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JournalEntry is one completed maintenance operation
type JournalEntry struct {
	ID        string         // UUID v4
	Operation string         // "backup", "restore", "relocate", "reap", ...
	Actor     string         // OS user or service name
	Timestamp time.Time      // when it finished
	Detail    map[string]any // operation summary
}

// JournalFilter specifies filtering options for listing journal entries
type JournalFilter struct {
	Since     *time.Time // entries at or after this time
	Operation *string    // filter by operation
	Limit     int        // max results (default 100, max 1000)
}

// AppendJournal appends an entry to the maintenance journal.
// Generates ID and Timestamp if not set.
func (h *Handle) AppendJournal(ctx context.Context, e *JournalEntry) error {
	db, err := h.Acquire(ctx)
	if err != nil {
		return err
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling journal detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO maintenance_log (entry_id, operation, actor, ts, detail_json)
		VALUES (?, ?, ?, ?, ?)
	`,
		e.ID,
		e.Operation,
		e.Actor,
		FormatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	h.logger.Debug("appended journal entry", "id", e.ID, "operation", e.Operation, "actor", e.Actor)
	return nil
}

// normalizeJournalLimit applies default (100) and cap (1000)
func normalizeJournalLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const journalQuery = `
	SELECT entry_id, operation, actor, ts, detail_json
	FROM maintenance_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR operation = ?)
	ORDER BY ts DESC, entry_id
	LIMIT ?
`

// ListJournal returns entries matching the filter, newest first
func (h *Handle) ListJournal(ctx context.Context, f JournalFilter) ([]JournalEntry, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var since *string
	if f.Since != nil {
		s := FormatTime(*f.Since)
		since = &s
	}

	rows, err := db.QueryContext(ctx, journalQuery,
		since, since,
		f.Operation, f.Operation,
		normalizeJournalLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []JournalEntry{}
	for rows.Next() {
		var e JournalEntry
		var ts string
		var detailJSON *string
		if err := rows.Scan(&e.ID, &e.Operation, &e.Actor, &ts, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		if e.Timestamp, err = ParseTime(ts); err != nil {
			return nil, err
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling journal detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}
	return entries, nil
}
