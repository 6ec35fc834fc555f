// ABOUTME: Per-room retention resolution and the retention reaper
// ABOUTME: Deletes expired unpinned messages, then sweeps attachments no message links to

package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/chitchat/internal/attachments"
	"github.com/2389/chitchat/internal/cleanup"
	"github.com/2389/chitchat/internal/store"
)

// EffectiveDays resolves how many days a room keeps messages. 0 disables
// pruning.
//
//	never   -> 0, whatever the server default
//	days    -> the room's own value if positive, else 0
//	inherit -> the server default if positive, else 0
//
// Unknown modes behave like inherit, the column's default.
func EffectiveDays(mode store.RetentionMode, roomDays *int, defaultDays int) int {
	switch mode {
	case store.RetentionNever:
		return 0
	case store.RetentionDays:
		if roomDays != nil && *roomDays > 0 {
			return *roomDays
		}
		return 0
	default:
		if defaultDays > 0 {
			return defaultDays
		}
		return 0
	}
}

// maxDays bounds the retention window. Longer windows reach back before any
// message could have been written.
const maxDays = 365_000

// Cutoff returns the instant before which messages kept for days expire
func Cutoff(now time.Time, days int) time.Time {
	if days > maxDays {
		days = maxDays
	}
	return now.AddDate(0, 0, -days)
}

// Store is what the reaper needs from store.Handle
type Store interface {
	ListRetentionRooms(ctx context.Context) ([]*store.Room, error)
	DeleteExpiredMessages(ctx context.Context, roomID string, cutoff time.Time) (int64, error)
	SweepOrphanAttachments(ctx context.Context, removeFile func(*store.Attachment)) (int, error)
}

// Options for one reaper run
type Options struct {
	DefaultDays    int    // server-wide default, 0 = disabled
	AttachmentRoot string // where attachment files live
}

// RoomFailure records a room whose delete batch was rolled back
type RoomFailure struct {
	RoomID string
	Err    error
}

// Result aggregates one run for the caller to log
type Result struct {
	MessagesDeleted          int64
	OrphanAttachmentsDeleted int
	OrphanFilesDeleted       int
	RoomsEvaluated           int
	RoomsWithRetention       int
	RoomFailures             []RoomFailure
	Cleanup                  cleanup.Report
}

// Reaper applies retention policy to the store
type Reaper struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReaper creates a reaper for store
func NewReaper(store Store, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:  store,
		logger: logger.With("component", "retention"),
		now:    time.Now,
	}
}

// Run deletes expired messages room by room, each room in its own
// transaction, then sweeps orphaned attachments in one transaction. A room
// that fails is recorded in RoomFailures and the run continues. The result
// is returned even when the sweep fails, so committed deletions are still
// reported.
func (r *Reaper) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	rooms, err := r.store.ListRetentionRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}

	now := r.now()
	for _, room := range rooms {
		result.RoomsEvaluated++

		days := EffectiveDays(room.RetentionMode, room.RetentionDays, opts.DefaultDays)
		if days == 0 {
			continue
		}
		result.RoomsWithRetention++

		deleted, err := r.store.DeleteExpiredMessages(ctx, room.ID, Cutoff(now, days))
		if err != nil {
			r.logger.Error("retention delete failed", "room_id", room.ID, "error", err)
			result.RoomFailures = append(result.RoomFailures, RoomFailure{RoomID: room.ID, Err: err})
			continue
		}
		result.MessagesDeleted += deleted
	}

	swept, err := r.store.SweepOrphanAttachments(ctx, func(a *store.Attachment) {
		res := r.removeFile(opts.AttachmentRoot, a.StoragePath)
		if res.Removed {
			result.OrphanFilesDeleted++
		}
		result.Cleanup = append(result.Cleanup, res)
	})
	if err != nil {
		// The sweep transaction rolled back; its file removals still happened
		result.Cleanup.Log(r.logger)
		return result, fmt.Errorf("sweeping orphan attachments: %w", err)
	}
	result.OrphanAttachmentsDeleted = swept
	result.Cleanup.Log(r.logger)

	r.logger.Info("retention run complete",
		"rooms_evaluated", result.RoomsEvaluated,
		"rooms_with_retention", result.RoomsWithRetention,
		"messages_deleted", result.MessagesDeleted,
		"orphan_attachments_deleted", result.OrphanAttachmentsDeleted,
		"orphan_files_deleted", result.OrphanFilesDeleted,
		"room_failures", len(result.RoomFailures),
	)
	return result, nil
}

func (r *Reaper) removeFile(root, rel string) cleanup.Result {
	const action = "remove-orphan-file"
	if root == "" {
		return cleanup.Failure(action, rel, errors.New("no attachment root configured"))
	}
	path, err := attachments.Resolve(root, rel)
	if err != nil {
		return cleanup.Failure(action, rel, err)
	}
	return cleanup.RemoveFile(action, path)
}
