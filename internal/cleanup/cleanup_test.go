// ABOUTME: Tests for cleanup results and best-effort file removal

package cleanup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale-wal")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	res := RemoveFile("remove-wal", path)
	assert.True(t, res.Removed)
	assert.NoError(t, res.Err)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Second removal: nothing to do, not an error
	res = RemoveFile("remove-wal", path)
	assert.False(t, res.Removed)
	assert.NoError(t, res.Err)
}

func TestRemoveFile_NonEmptyDirectoryFails(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "child"), 0o755))

	res := RemoveFile("remove-orphan-file", sub)
	assert.False(t, res.Removed)
	assert.Error(t, res.Err)
}

func TestReport(t *testing.T) {
	r := Report{
		{Action: "a", Path: "1", Removed: true},
		{Action: "a", Path: "2"},
		Failure("b", "3", errors.New("boom")),
	}

	assert.Equal(t, 1, r.Removed())
	failed := r.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "3", failed[0].Path)
}
