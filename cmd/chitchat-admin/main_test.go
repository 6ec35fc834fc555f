// ABOUTME: Tests for chitchat-admin wiring
// ABOUTME: Drives the CLI end to end against a temporary config, store and backup directory

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chitchat/internal/backup/sink"
	"github.com/2389/chitchat/internal/config"
	"github.com/2389/chitchat/internal/store"
)

const testPassphrase = "correct horse battery staple"

type testEnv struct {
	configPath string
	dbPath     string
	root       string
	backupDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		configPath: filepath.Join(base, "chitchat.yaml"),
		dbPath:     filepath.Join(base, "chitchat.db"),
		root:       filepath.Join(base, "uploads"),
		backupDir:  filepath.Join(base, "backups"),
	}
	require.NoError(t, os.MkdirAll(env.root, 0o755))

	content := `
database:
  path: "` + env.dbPath + `"
attachments:
  root: "` + env.root + `"
retention:
  default_days: 30
backup:
  dir: "` + env.backupDir + `"
logging:
  level: "error"
`
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o644))
	t.Setenv(passphraseEnv, testPassphrase)
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader("")
	return app.Run(append([]string{"chitchat-admin", "--config", e.configPath}, args...))
}

func (e *testEnv) handle(t *testing.T) *store.Handle {
	t.Helper()
	h := store.NewHandle(e.dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { h.Release() })
	return h
}

func TestCLI_MigrateCreatesStore(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "migrate", "--status"))

	_, err := os.Stat(env.dbPath)
	assert.NoError(t, err)
}

func TestCLI_BackupInspectRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.handle(t)
	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "kept", Name: "kept"}))
	require.NoError(t, h.Release())

	out := filepath.Join(env.backupDir, "manual.ccbk")
	require.NoError(t, env.run(t, "backup", "--out", out))
	_, err := os.Stat(out)
	require.NoError(t, err)

	require.NoError(t, env.run(t, "inspect", "--in", out))

	h = env.handle(t)
	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "dropped", Name: "dropped"}))
	require.NoError(t, h.Release())

	require.NoError(t, env.run(t, "restore", "--in", out, "--yes"))

	h = env.handle(t)
	_, err = h.GetRoom(ctx, "kept")
	assert.NoError(t, err)
	_, err = h.GetRoom(ctx, "dropped")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCLI_BackupToConfiguredDir(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "backup"))

	names, err := sink.NewFileSink(env.backupDir).List(context.Background())
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "chitchat-backup-"))

	require.NoError(t, env.run(t, "list"))
}

func TestCLI_RestoreDeclinedLeavesDatabase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out := filepath.Join(env.backupDir, "b.ccbk")
	require.NoError(t, env.run(t, "backup", "--out", out))

	h := env.handle(t)
	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "new", Name: "new"}))
	require.NoError(t, h.Release())

	// No --yes and an empty answer
	require.NoError(t, env.run(t, "restore", "--in", out))

	h = env.handle(t)
	_, err := h.GetRoom(ctx, "new")
	assert.NoError(t, err)
}

func TestCLI_ReapAndRelocate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.handle(t)
	require.NoError(t, h.CreateAttachment(ctx, &store.Attachment{StoragePath: "linked/a.bin"}))
	require.NoError(t, h.Release())
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "linked"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "linked", "a.bin"), []byte("a"), 0o644))

	newRoot := filepath.Join(filepath.Dir(env.root), "uploads2")
	require.NoError(t, env.run(t, "relocate", "--to", newRoot))
	_, err := os.Stat(filepath.Join(newRoot, "linked", "a.bin"))
	require.NoError(t, err)

	// The attachment has no message, so reaping removes its row
	require.NoError(t, env.run(t, "reap"))
	h = env.handle(t)
	paths, err := h.ListAttachmentPaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestCLI_Errors(t *testing.T) {
	env := newTestEnv(t)

	assert.Error(t, env.run(t, "restore", "--in", filepath.Join(env.backupDir, "missing.ccbk"), "--yes"))
	assert.Error(t, env.run(t, "backup", "--sink", "s3"), "s3 is not configured")
	assert.Error(t, env.run(t, "backup", "--sink", "tape"))

	t.Setenv(passphraseEnv, "short")
	assert.Error(t, env.run(t, "backup"))

	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	assert.Error(t, app.Run([]string{"chitchat-admin", "--config", filepath.Join(t.TempDir(), "none.yaml"), "reap"}))
}

func TestReadPassphrase(t *testing.T) {
	origRead, origTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = origRead, origTerm })

	t.Setenv(passphraseEnv, "from the environment")
	p, err := readPassphrase(true)
	require.NoError(t, err)
	assert.Equal(t, "from the environment", p)

	t.Setenv(passphraseEnv, "")

	isTerminal = func(int) bool { return false }
	_, err = readPassphrase(false)
	assert.ErrorContains(t, err, passphraseEnv)

	isTerminal = func(int) bool { return true }
	answers := []string{"typed passphrase", "typed passphrase"}
	readPassword = func(int) ([]byte, error) {
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
	p, err = readPassphrase(true)
	require.NoError(t, err)
	assert.Equal(t, "typed passphrase", p)

	answers = []string{"one", "two"}
	_, err = readPassphrase(true)
	assert.ErrorContains(t, err, "do not match")

	readPassword = func(int) ([]byte, error) { return nil, errors.New("tty gone") }
	_, err = readPassphrase(false)
	assert.ErrorContains(t, err, "tty gone")
}

func TestConfirmAction(t *testing.T) {
	for input, want := range map[string]bool{
		"y\n":     true,
		"YES\n":   true,
		" yes ":   true,
		"n\n":     false,
		"\n":      false,
		"":        false,
		"maybe\n": false,
	} {
		var out bytes.Buffer
		got, err := confirmAction(strings.NewReader(input), &out, "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, want, got, "%q", input)
		assert.Contains(t, out.String(), "Proceed? [y/N]")
	}
}

func TestOpenLocation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "x.ccbk")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))

	src, name, err := openLocation(context.Background(), nil, file)
	require.NoError(t, err)
	assert.Equal(t, "x.ccbk", name)
	fs, ok := src.(*sink.FileSink)
	require.True(t, ok)
	assert.Equal(t, dir, fs.Dir)

	_, _, err = openLocation(context.Background(), nil, filepath.Join(dir, "nope.ccbk"))
	assert.Error(t, err)

	_, _, err = openLocation(context.Background(), &config.Config{}, "s3://x.ccbk")
	assert.ErrorContains(t, err, "backup.s3.bucket")

	_, _, err = openLocation(context.Background(), &config.Config{}, "s3://")
	assert.ErrorContains(t, err, "missing object name")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger = setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.With("component", "store").WithGroup("db").Debug("opened", "path", "/tmp/x.db")
	line := buf.String()
	assert.Contains(t, line, "opened")
	assert.Contains(t, line, "component=")
	assert.Contains(t, line, "db.path=")
	assert.Equal(t, 1, strings.Count(line, "\n"))
}

func TestCLI_History(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "migrate"))
	require.NoError(t, env.run(t, "reap"))
	require.NoError(t, env.run(t, "history", "--operation", "reap", "--since", "1h"))

	h := env.handle(t)
	entries, err := h.ListJournal(context.Background(), store.JournalFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, currentActor(), entries[0].Actor)
}

func TestFormatDetail(t *testing.T) {
	assert.Equal(t, "", formatDetail(nil))
	assert.Equal(t, "a=1 b=x", formatDetail(map[string]any{"b": "x", "a": 1}))
}
