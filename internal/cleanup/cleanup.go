// ABOUTME: Best-effort side-effect cleanup results
// ABOUTME: Failures here are reported and logged, never returned as primary errors

package cleanup

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// Result is the outcome of one opportunistic cleanup action, such as
// removing a stale journal sidecar or an orphaned attachment file.
type Result struct {
	Action  string // e.g. "remove-wal", "remove-orphan-file"
	Path    string
	Removed bool  // the file existed and is gone now
	Err     error // nil when the action succeeded or there was nothing to do
}

// Report collects cleanup results for one operation
type Report []Result

// Failed returns the results that carry an error
func (r Report) Failed() Report {
	var out Report
	for _, res := range r {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Removed counts results that actually deleted a file
func (r Report) Removed() int {
	n := 0
	for _, res := range r {
		if res.Removed {
			n++
		}
	}
	return n
}

// Log writes failures at warn level and successes at debug level
func (r Report) Log(logger *slog.Logger) {
	for _, res := range r {
		if res.Err != nil {
			logger.Warn("cleanup failed", "action", res.Action, "path", res.Path, "error", res.Err)
			continue
		}
		if res.Removed {
			logger.Debug("cleanup removed file", "action", res.Action, "path", res.Path)
		}
	}
}

// RemoveFile deletes path. A file that is already gone is not an error.
func RemoveFile(action, path string) Result {
	res := Result{Action: action, Path: path}
	err := os.Remove(path)
	switch {
	case err == nil:
		res.Removed = true
	case errors.Is(err, fs.ErrNotExist):
	default:
		res.Err = err
	}
	return res
}

// Failure records a cleanup action that could not even be attempted
func Failure(action, path string, err error) Result {
	return Result{Action: action, Path: path, Err: err}
}
