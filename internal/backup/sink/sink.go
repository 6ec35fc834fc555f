// ABOUTME: Destinations for encoded backup envelopes
// ABOUTME: Envelopes are opaque blobs; sinks only store and fetch them by name

package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when a named backup does not exist in a sink
var ErrNotFound = errors.New("backup not found")

// Sink stores backup envelopes by file name
type Sink interface {
	// Put stores payload under name and returns where it was written.
	// Existing backups are never overwritten.
	Put(ctx context.Context, name string, payload []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns backup names, oldest first
	List(ctx context.Context) ([]string, error)
}

// FileSink keeps backups as files in one directory
type FileSink struct {
	Dir string
}

// NewFileSink returns a sink writing into dir
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

func (f *FileSink) path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return filepath.Join(f.Dir, name), nil
}

// Put writes payload to Dir/name
func (f *FileSink) Put(_ context.Context, name string, payload []byte) (string, error) {
	path, err := f.path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating backup file: %w", err)
	}
	if _, err := out.Write(payload); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing backup file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing backup file: %w", err)
	}
	return path, nil
}

// Get reads Dir/name
func (f *FileSink) Get(_ context.Context, name string) ([]byte, error) {
	path, err := f.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup file: %w", err)
	}
	return data, nil
}

// List returns the .ccbk files in Dir. Backup names embed their creation
// time, so lexical order is chronological.
func (f *FileSink) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".ccbk") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
