// ABOUTME: Live snapshot and restore of the store file
// ABOUTME: Restore writes a rollback copy before touching the primary file and reopens the store afterwards

package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389/chitchat/internal/cleanup"
)

// Store is the part of store.Handle the backup service needs
type Store interface {
	Acquire(ctx context.Context) (*sql.DB, error)
	Release() error
	Path() string
	InMemory() bool
}

// Snapshot is an encoded backup ready to be written somewhere
type Snapshot struct {
	Payload   []byte
	FileName  string
	CreatedAt time.Time
}

// RestoreResult describes a completed restore
type RestoreResult struct {
	// RollbackPath is the copy of the previous database, or "" when there
	// was no previous file. It is never deleted automatically.
	RollbackPath string
	Cleanup      cleanup.Report
}

// Service snapshots and restores the database behind a Store
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a backup service for store
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "backup"),
		now:    time.Now,
	}
}

// Snapshot checkpoints the write-ahead log into the primary file, reads the
// file and encodes it under passphrase.
func (s *Service) Snapshot(ctx context.Context, passphrase string) (*Snapshot, error) {
	if err := validatePassphrase(passphrase); err != nil {
		return nil, err
	}
	if s.store.InMemory() {
		return nil, fmt.Errorf("%w: in-memory stores cannot be snapshotted", ErrValidation)
	}

	db, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var busy, logFrames, checkpointed int
	if err := db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(FULL)`).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return nil, fmt.Errorf("checkpointing WAL: %w", err)
	}
	if busy != 0 {
		return nil, fmt.Errorf("checkpointing WAL: database busy (%d of %d frames checkpointed)", checkpointed, logFrames)
	}

	raw, err := os.ReadFile(s.store.Path())
	if err != nil {
		return nil, fmt.Errorf("reading database file: %w", err)
	}

	payload, createdAt, err := encodeAt(passphrase, raw, s.now())
	if err != nil {
		return nil, err
	}

	// CreatedAt matches the envelope header, which keeps milliseconds only
	stamp, err := time.Parse(CreatedAtLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing envelope timestamp: %w", err)
	}

	snap := &Snapshot{
		Payload:   payload,
		FileName:  FileName(createdAt),
		CreatedAt: stamp,
	}
	s.logger.Info("created snapshot", "file", snap.FileName, "db_bytes", len(raw), "payload_bytes", len(payload))
	return snap, nil
}

// FileName returns the suggested file name for a backup created at createdAt
func FileName(createdAt string) string {
	safe := strings.NewReplacer(":", "-", ".", "-").Replace(createdAt)
	return "chitchat-backup-" + safe + FileExtension
}

// Restore replaces the database with the one in payload. Nothing on disk
// changes unless payload decodes cleanly. The previous file is copied to a
// .pre-restore-<millis>.bak file before it is overwritten.
func (s *Service) Restore(ctx context.Context, payload []byte, passphrase string) (*RestoreResult, error) {
	raw, err := Decode(passphrase, payload)
	if err != nil {
		return nil, err
	}
	if s.store.InMemory() {
		return nil, fmt.Errorf("%w: in-memory stores cannot be restored", ErrValidation)
	}

	path := s.store.Path()

	// Closing releases file locks and folds the WAL back into the file
	if err := s.store.Release(); err != nil {
		return nil, fmt.Errorf("closing store before restore: %w", err)
	}

	result := &RestoreResult{}

	if _, err := os.Stat(path); err == nil {
		rollback, err := s.writeRollback(path)
		if err != nil {
			return nil, fmt.Errorf("writing rollback copy: %w", err)
		}
		result.RollbackPath = rollback
		s.logger.Info("wrote rollback copy", "path", rollback)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking existing database: %w", err)
	}

	if err := writeFileAtomic(path, raw); err != nil {
		return nil, fmt.Errorf("writing restored database: %w", err)
	}

	// Sidecars belong to the previous file generation
	result.Cleanup = cleanup.Report{
		cleanup.RemoveFile("remove-wal", path+"-wal"),
		cleanup.RemoveFile("remove-shm", path+"-shm"),
	}
	result.Cleanup.Log(s.logger)

	if _, err := s.store.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("reopening restored store (rollback copy at %q): %w", result.RollbackPath, err)
	}

	s.logger.Info("restored database", "path", path, "bytes", len(raw), "rollback", result.RollbackPath)
	return result, nil
}

// writeRollback copies path to path.pre-restore-<millis>.bak. Two restores
// within one millisecond get a numeric suffix instead of clobbering.
func (s *Service) writeRollback(path string) (string, error) {
	base := fmt.Sprintf("%s.pre-restore-%d", path, s.now().UnixMilli())
	rollback := base + ".bak"
	for i := 1; ; i++ {
		err := copyFile(path, rollback)
		if err == nil {
			return rollback, nil
		}
		if !errors.Is(err, fs.ErrExist) || i > 100 {
			return "", err
		}
		rollback = fmt.Sprintf("%s-%d.bak", base, i)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it into place, so path holds either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".restore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
