// ABOUTME: Data types and shared helpers for the chitchat store
// ABOUTME: Defines Room, Message, Attachment and the persisted timestamp layout

package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// TimeLayout is the layout of every timestamp persisted by this package.
// Fixed width and always UTC, so string comparison in SQL orders by time.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeLayout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// RetentionMode selects how a room's message retention is resolved
type RetentionMode string

// Retention modes stored in rooms.retention_mode
const (
	RetentionInherit RetentionMode = "inherit" // use the server-wide default
	RetentionNever   RetentionMode = "never"   // never prune
	RetentionDays    RetentionMode = "days"    // use the room's own retention_days
)

// Room is the subset of a chat room this subsystem reads and writes
type Room struct {
	ID            string
	Name          string
	Topic         string
	IsTemporary   bool
	RetentionMode RetentionMode
	RetentionDays *int // nil when unset
	CreatedAt     time.Time
}

// Message is a chat message row
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Body      string
	CreatedAt time.Time
}

// Attachment is a stored blob record. StoragePath is relative to the
// configured attachment root.
type Attachment struct {
	ID          string
	StoragePath string
	MimeType    string
	SizeBytes   int64
	OwnerID     string
	CreatedAt   time.Time
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
