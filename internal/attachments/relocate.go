// ABOUTME: Moves attachment blobs from one storage root to another
// ABOUTME: Copy-then-delete per item so moves work across volumes; failures are collected, never fatal

package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// PathLister enumerates the stored relative path of every attachment.
// The database, not the filesystem, is the source of truth.
type PathLister interface {
	ListAttachmentPaths(ctx context.Context) ([]string, error)
}

// Failure is one attachment that could not be relocated
type Failure struct {
	Path    string
	Message string
}

// Result counts relocation outcomes
type Result struct {
	Moved          int
	AlreadyPresent int
	MissingSource  int
	Failed         []Failure
}

// Total is the number of attachments considered
func (r *Result) Total() int {
	return r.Moved + r.AlreadyPresent + r.MissingSource + len(r.Failed)
}

type outcome int

const (
	outcomeMoved outcome = iota
	outcomeAlreadyPresent
	outcomeMissingSource
)

// Relocator moves attachment files between roots
type Relocator struct {
	store  PathLister
	logger *slog.Logger
}

// NewRelocator creates a relocator reading paths from store
func NewRelocator(store PathLister, logger *slog.Logger) *Relocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relocator{
		store:  store,
		logger: logger.With("component", "attachments"),
	}
}

// Relocate moves every attachment from oldRoot to newRoot. Per-item problems
// land in Result.Failed; only failing to enumerate attachments is an error.
func (r *Relocator) Relocate(ctx context.Context, oldRoot, newRoot string) (*Result, error) {
	result := &Result{}

	same, err := sameRoot(oldRoot, newRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving roots: %w", err)
	}
	if same {
		r.logger.Info("attachment roots are identical, nothing to relocate", "root", oldRoot)
		return result, nil
	}

	paths, err := r.store.ListAttachmentPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}

	for _, rel := range paths {
		out, err := relocateOne(oldRoot, newRoot, rel)
		if err != nil {
			r.logger.Warn("attachment relocation failed", "path", rel, "error", err)
			result.Failed = append(result.Failed, Failure{Path: rel, Message: err.Error()})
			continue
		}
		switch out {
		case outcomeMoved:
			result.Moved++
		case outcomeAlreadyPresent:
			result.AlreadyPresent++
		case outcomeMissingSource:
			r.logger.Warn("attachment missing from both roots", "path", rel)
			result.MissingSource++
		}
	}

	r.logger.Info("relocated attachments",
		"from", oldRoot,
		"to", newRoot,
		"moved", result.Moved,
		"already_present", result.AlreadyPresent,
		"missing_source", result.MissingSource,
		"failed", len(result.Failed),
	)
	return result, nil
}

func relocateOne(oldRoot, newRoot, rel string) (outcome, error) {
	src, err := Resolve(oldRoot, rel)
	if err != nil {
		return 0, err
	}
	dst, err := Resolve(newRoot, rel)
	if err != nil {
		return 0, err
	}

	info, err := os.Lstat(src)
	if errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Stat(dst); err == nil {
			return outcomeAlreadyPresent, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return 0, &FilesystemError{Op: "stat", Path: dst, Err: err}
		}
		return outcomeMissingSource, nil
	}
	if err != nil {
		return 0, &FilesystemError{Op: "stat", Path: src, Err: err}
	}
	if !info.Mode().IsRegular() {
		return 0, &FilesystemError{Op: "stat", Path: src, Err: errors.New("not a regular file")}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, &FilesystemError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}
	if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
		return 0, &FilesystemError{Op: "copy", Path: dst, Err: err}
	}
	if err := os.Remove(src); err != nil {
		return 0, &FilesystemError{Op: "remove", Path: src, Err: err}
	}
	return outcomeMoved, nil
}

// copyFile copies src to a temporary name beside dst and renames it into
// place, so dst never holds a partial file.
func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
