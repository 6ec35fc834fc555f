// ABOUTME: Serializes administrative operations against the shared store handle
// ABOUTME: Journals and meters each operation and drives the retention schedule

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chitchat/internal/attachments"
	"github.com/2389/chitchat/internal/backup"
	"github.com/2389/chitchat/internal/backup/sink"
	"github.com/2389/chitchat/internal/metrics"
	"github.com/2389/chitchat/internal/retention"
	"github.com/2389/chitchat/internal/store"
)

// Options configure a Coordinator
type Options struct {
	AttachmentRoot       string
	DefaultRetentionDays int
	Actor                string // recorded in the maintenance journal
}

// Coordinator runs at most one maintenance operation at a time. Restore
// closes and reopens the store, so every operation that touches it goes
// through here.
type Coordinator struct {
	mu sync.Mutex

	store     *store.Handle
	backups   *backup.Service
	relocator *attachments.Relocator
	reaper    *retention.Reaper
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a coordinator over h. m may be nil when metrics are disabled.
func New(h *store.Handle, opts Options, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     h,
		backups:   backup.NewService(h, logger),
		relocator: attachments.NewRelocator(h, logger),
		reaper:    retention.NewReaper(h, logger),
		metrics:   m,
		opts:      opts,
		logger:    logger.With("component", "maintenance"),
		now:       time.Now,
	}
}

// Migrate opens the store, bringing its schema up to date, and returns the
// migration ledger
func (c *Coordinator) Migrate(ctx context.Context) ([]store.LedgerEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Acquire(ctx); err != nil {
		return nil, err
	}
	entries, err := c.store.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	c.record(ctx, metrics.OpMigrate, map[string]any{"applied": len(entries)})
	return entries, nil
}

// Backup snapshots the store and stores the envelope in dst. It returns the
// snapshot and where the sink put it.
func (c *Coordinator) Backup(ctx context.Context, passphrase string, dst sink.Sink) (*backup.Snapshot, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.backups.Snapshot(ctx, passphrase)
	if err != nil {
		return nil, "", fmt.Errorf("creating snapshot: %w", err)
	}
	location, err := dst.Put(ctx, snap.FileName, snap.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("storing backup: %w", err)
	}

	c.logger.Info("backup stored", "location", location)
	if c.metrics != nil {
		c.metrics.Backups.Inc()
	}
	c.record(ctx, metrics.OpBackup, map[string]any{
		"location":      location,
		"payload_bytes": len(snap.Payload),
	})
	return snap, location, nil
}

// Restore replaces the store with the backup named name in src
func (c *Coordinator) Restore(ctx context.Context, src sink.Sink, name, passphrase string) (*backup.RestoreResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := src.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetching backup %q: %w", name, err)
	}
	return c.restoreLocked(ctx, payload, passphrase)
}

// RestorePayload replaces the store with an envelope already in memory
func (c *Coordinator) RestorePayload(ctx context.Context, payload []byte, passphrase string) (*backup.RestoreResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.restoreLocked(ctx, payload, passphrase)
}

func (c *Coordinator) restoreLocked(ctx context.Context, payload []byte, passphrase string) (*backup.RestoreResult, error) {
	result, err := c.backups.Restore(ctx, payload, passphrase)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.Restores.Inc()
	}
	c.record(ctx, metrics.OpRestore, map[string]any{
		"rollback_path":    result.RollbackPath,
		"cleanup_failures": len(result.Cleanup.Failed()),
	})
	return result, nil
}

// Relocate moves attachments from the configured root to newRoot. The
// caller is responsible for pointing configuration at newRoot afterwards.
func (c *Coordinator) Relocate(ctx context.Context, oldRoot, newRoot string) (*attachments.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if oldRoot == "" {
		oldRoot = c.opts.AttachmentRoot
	}
	result, err := c.relocator.Relocate(ctx, oldRoot, newRoot)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RelocationItems.WithLabelValues(metrics.OutcomeMoved).Add(float64(result.Moved))
		c.metrics.RelocationItems.WithLabelValues(metrics.OutcomeAlreadyPresent).Add(float64(result.AlreadyPresent))
		c.metrics.RelocationItems.WithLabelValues(metrics.OutcomeMissingSource).Add(float64(result.MissingSource))
		c.metrics.RelocationItems.WithLabelValues(metrics.OutcomeFailed).Add(float64(len(result.Failed)))
	}
	c.record(ctx, metrics.OpRelocate, map[string]any{
		"from":            oldRoot,
		"to":              newRoot,
		"moved":           result.Moved,
		"already_present": result.AlreadyPresent,
		"missing_source":  result.MissingSource,
		"failed":          len(result.Failed),
	})
	return result, nil
}

// Reap runs the retention reaper once
func (c *Coordinator) Reap(ctx context.Context) (*retention.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.reaper.Run(ctx, retention.Options{
		DefaultDays:    c.opts.DefaultRetentionDays,
		AttachmentRoot: c.opts.AttachmentRoot,
	})
	if result != nil && c.metrics != nil {
		c.metrics.RetentionMessagesDeleted.Add(float64(result.MessagesDeleted))
		c.metrics.RetentionOrphansDeleted.Add(float64(result.OrphanAttachmentsDeleted))
		c.metrics.RetentionRoomFailures.Add(float64(len(result.RoomFailures)))
	}
	if err != nil {
		return result, err
	}
	c.record(ctx, metrics.OpReap, map[string]any{
		"messages_deleted":     result.MessagesDeleted,
		"orphans_deleted":      result.OrphanAttachmentsDeleted,
		"orphan_files":         result.OrphanFilesDeleted,
		"rooms_with_retention": result.RoomsWithRetention,
		"room_failures":        len(result.RoomFailures),
	})
	return result, nil
}

// RunRetention reaps once immediately and then every interval until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (c *Coordinator) RunRetention(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("retention interval must be positive, got %v", interval)
	}

	c.logger.Info("retention schedule started", "interval", interval)
	c.reapLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("retention schedule stopped")
			return nil
		case <-ticker.C:
			c.reapLogged(ctx)
		}
	}
}

func (c *Coordinator) reapLogged(ctx context.Context) {
	if _, err := c.Reap(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("retention run failed", "error", err)
	}
}

// History lists the maintenance journal, newest first
func (c *Coordinator) History(ctx context.Context, f store.JournalFilter) ([]store.JournalEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.ListJournal(ctx, f)
}

// record journals a successful operation and marks it in metrics. A journal
// write failure is logged; the operation itself already succeeded.
func (c *Coordinator) record(ctx context.Context, operation string, detail map[string]any) {
	now := c.now()
	if c.metrics != nil {
		c.metrics.MarkRun(operation, now)
	}

	err := c.store.AppendJournal(ctx, &store.JournalEntry{
		Operation: operation,
		Actor:     c.opts.Actor,
		Timestamp: now.UTC(),
		Detail:    detail,
	})
	if err != nil {
		c.logger.Warn("recording maintenance journal entry", "operation", operation, "error", err)
	}
}
