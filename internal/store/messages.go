// ABOUTME: Message and pin persistence plus retention deletes
// ABOUTME: Expired-message deletion always excludes pinned messages

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateMessage inserts a message. ID and CreatedAt are filled in when empty.
func (h *Handle) CreateMessage(ctx context.Context, msg *Message) error {
	db, err := h.Acquire(ctx)
	if err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, user_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.RoomID,
		nullString(msg.UserID),
		msg.Body,
		FormatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (h *Handle) GetMessage(ctx context.Context, id string) (*Message, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var msg Message
	var userID sql.NullString
	var createdAt string
	err = db.QueryRowContext(ctx, `
		SELECT id, room_id, user_id, body, created_at
		FROM messages
		WHERE id = ?
	`, id).Scan(&msg.ID, &msg.RoomID, &userID, &msg.Body, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	msg.UserID = userID.String
	if msg.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PinMessage marks a message as pinned. Pinning twice is a no-op.
func (h *Handle) PinMessage(ctx context.Context, messageID, pinnedBy string) error {
	db, err := h.Acquire(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pinned_messages (message_id, room_id, pinned_by, pinned_at)
		SELECT id, room_id, ?, ? FROM messages WHERE id = ?
	`, nullString(pinnedBy), FormatTime(time.Now()), messageID)
	if err != nil {
		return fmt.Errorf("pinning message: %w", err)
	}
	return nil
}

// DeleteExpiredMessages deletes the room's unpinned messages created before
// cutoff, in one transaction, and returns how many were removed.
func (h *Handle) DeleteExpiredMessages(ctx context.Context, roomID string, cutoff time.Time) (int64, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	var deleted int64
	err = withTx(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE room_id = ?
			  AND created_at < ?
			  AND id NOT IN (SELECT message_id FROM pinned_messages)
		`, roomID, FormatTime(cutoff))
		if err != nil {
			return fmt.Errorf("deleting expired messages: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		h.logger.Debug("deleted expired messages", "room_id", roomID, "count", deleted)
	}
	return deleted, nil
}
