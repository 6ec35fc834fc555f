// ABOUTME: Path-safety resolver for attachment storage paths
// ABOUTME: A stored relative path must resolve to a location strictly inside its root

package attachments

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned for stored paths that are empty, absolute, or
// resolve outside the storage root
var ErrPathEscape = errors.New("path escapes storage root")

// FilesystemError is a per-item filesystem failure
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Resolve joins rel onto root and verifies the result stays inside root.
// Nothing on disk is touched.
func Resolve(root, rel string) (string, error) {
	if rel == "" ||
		filepath.IsAbs(rel) ||
		filepath.VolumeName(rel) != "" ||
		strings.HasPrefix(rel, "/") ||
		strings.HasPrefix(rel, `\`) {
		return "", &FilesystemError{Op: "resolve", Path: rel, Err: ErrPathEscape}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", &FilesystemError{Op: "resolve", Path: root, Err: err}
	}

	target := filepath.Join(absRoot, rel)
	back, err := filepath.Rel(absRoot, target)
	if err != nil ||
		back == "." ||
		back == ".." ||
		strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", &FilesystemError{Op: "resolve", Path: rel, Err: ErrPathEscape}
	}
	return target, nil
}

// sameRoot reports whether a and b name the same directory once made
// absolute and cleaned
func sameRoot(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
