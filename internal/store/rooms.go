// ABOUTME: Room persistence and retention candidate queries
// ABOUTME: Rooms are owned by the application; this package reads their retention fields

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRoom inserts a room. ID and CreatedAt are filled in when empty.
func (h *Handle) CreateRoom(ctx context.Context, room *Room) error {
	db, err := h.Acquire(ctx)
	if err != nil {
		return err
	}

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	if room.RetentionMode == "" {
		room.RetentionMode = RetentionInherit
	}

	var days any
	if room.RetentionDays != nil {
		days = *room.RetentionDays
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, topic, is_temporary, retention_mode, retention_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		room.ID,
		room.Name,
		room.Topic,
		room.IsTemporary,
		string(room.RetentionMode),
		days,
		FormatTime(room.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}

	h.logger.Debug("created room", "id", room.ID, "retention_mode", room.RetentionMode)
	return nil
}

// GetRoom retrieves a room by ID.
// Returns ErrNotFound if the room doesn't exist.
func (h *Handle) GetRoom(ctx context.Context, id string) (*Room, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, name, topic, is_temporary, retention_mode, retention_days, created_at
		FROM rooms
		WHERE id = ?
	`, id)

	room, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	return room, nil
}

// ListRetentionRooms returns every non-temporary room. Temporary rooms are
// cleaned up by their own lifecycle and never pruned by retention.
// Only ID, IsTemporary and the retention fields are populated; other
// columns belong to the application and may hold any format.
func (h *Handle) ListRetentionRooms(ctx context.Context) ([]*Room, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, is_temporary, retention_mode, retention_days
		FROM rooms
		WHERE is_temporary = 0
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		var room Room
		var mode string
		var days sql.NullInt64
		if err := rows.Scan(&room.ID, &room.IsTemporary, &mode, &days); err != nil {
			return nil, fmt.Errorf("scanning room row: %w", err)
		}
		room.RetentionMode = RetentionMode(mode)
		if days.Valid {
			d := int(days.Int64)
			room.RetentionDays = &d
		}
		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating room rows: %w", err)
	}
	return rooms, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(s rowScanner) (*Room, error) {
	var room Room
	var mode, createdAt string
	var days sql.NullInt64

	if err := s.Scan(
		&room.ID,
		&room.Name,
		&room.Topic,
		&room.IsTemporary,
		&mode,
		&days,
		&createdAt,
	); err != nil {
		return nil, err
	}

	room.RetentionMode = RetentionMode(mode)
	if days.Valid {
		d := int(days.Int64)
		room.RetentionDays = &d
	}

	var err error
	if room.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &room, nil
}
