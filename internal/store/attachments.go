// ABOUTME: Attachment records, message links and the orphan sweep
// ABOUTME: Attachment blobs live on disk; this file only manages their rows

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAttachment inserts an attachment record. ID and CreatedAt are
// filled in when empty.
func (h *Handle) CreateAttachment(ctx context.Context, a *Attachment) error {
	db, err := h.Acquire(ctx)
	if err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.MimeType == "" {
		a.MimeType = "application/octet-stream"
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO attachments (id, storage_path, mime_type, size_bytes, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.StoragePath,
		a.MimeType,
		a.SizeBytes,
		nullString(a.OwnerID),
		FormatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting attachment: %w", err)
	}
	return nil
}

// GetAttachment retrieves an attachment by ID.
// Returns ErrNotFound if the attachment doesn't exist.
func (h *Handle) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, storage_path, mime_type, size_bytes, owner_id, created_at
		FROM attachments
		WHERE id = ?
	`, id)

	a, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying attachment: %w", err)
	}
	return a, nil
}

// LinkAttachment associates an attachment with a message
func (h *Handle) LinkAttachment(ctx context.Context, messageID, attachmentID string) error {
	db, err := h.Acquire(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_attachments (message_id, attachment_id)
		VALUES (?, ?)
	`, messageID, attachmentID)
	if err != nil {
		return fmt.Errorf("linking attachment: %w", err)
	}
	return nil
}

// ListAttachmentPaths returns the stored relative path of every attachment
func (h *Handle) ListAttachmentPaths(ctx context.Context) ([]string, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT storage_path FROM attachments ORDER BY storage_path`)
	if err != nil {
		return nil, fmt.Errorf("querying attachment paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning attachment path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachment paths: %w", err)
	}
	return paths, nil
}

// SweepOrphanAttachments deletes every attachment no message links to, in
// one transaction. removeFile receives each orphan (ID and StoragePath
// only) before its row is deleted; it must not fail the sweep, so it
// returns nothing. Returns the number of rows removed.
func (h *Handle) SweepOrphanAttachments(ctx context.Context, removeFile func(*Attachment)) (int, error) {
	db, err := h.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	var removed int
	err = withTx(ctx, db, func(tx *sql.Tx) error {
		orphans, err := orphanAttachments(ctx, tx)
		if err != nil {
			return err
		}

		for _, a := range orphans {
			if removeFile != nil {
				removeFile(a)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, a.ID); err != nil {
				return fmt.Errorf("deleting attachment %s: %w", a.ID, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func orphanAttachments(ctx context.Context, tx *sql.Tx) ([]*Attachment, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT a.id, a.storage_path
		FROM attachments a
		WHERE NOT EXISTS (
			SELECT 1 FROM message_attachments ma WHERE ma.attachment_id = a.id
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("querying orphan attachments: %w", err)
	}
	defer rows.Close()

	var orphans []*Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.StoragePath); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		orphans = append(orphans, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachment rows: %w", err)
	}
	return orphans, nil
}

func scanAttachment(s rowScanner) (*Attachment, error) {
	var a Attachment
	var ownerID sql.NullString
	var createdAt string

	if err := s.Scan(
		&a.ID,
		&a.StoragePath,
		&a.MimeType,
		&a.SizeBytes,
		&ownerID,
		&createdAt,
	); err != nil {
		return nil, err
	}

	a.OwnerID = ownerID.String
	var err error
	if a.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}
