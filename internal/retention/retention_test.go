// ABOUTME: Tests for retention resolution and reaper runs against a real store
// ABOUTME: Pinned messages survive, per-room policies win, orphans are swept

package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chitchat/internal/attachments"
	"github.com/2389/chitchat/internal/store"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(n int) *int { return &n }

func newTestHandle(t *testing.T) *store.Handle {
	t.Helper()
	h := store.NewHandle(filepath.Join(t.TempDir(), "chitchat.db"), testLogger())
	t.Cleanup(func() { h.Release() })
	return h
}

func newTestReaper(s Store) *Reaper {
	r := NewReaper(s, testLogger())
	r.now = func() time.Time { return fixedNow }
	return r
}

func daysAgo(n int) time.Time {
	return fixedNow.Add(-time.Duration(n) * 24 * time.Hour)
}

func TestEffectiveDays(t *testing.T) {
	tests := []struct {
		name        string
		mode        store.RetentionMode
		roomDays    *int
		defaultDays int
		want        int
	}{
		{"never ignores default", store.RetentionNever, nil, 30, 0},
		{"never ignores room days", store.RetentionNever, intPtr(5), 30, 0},
		{"days uses room value", store.RetentionDays, intPtr(3), 30, 3},
		{"days without value", store.RetentionDays, nil, 30, 0},
		{"days zero", store.RetentionDays, intPtr(0), 30, 0},
		{"days negative", store.RetentionDays, intPtr(-2), 30, 0},
		{"inherit uses default", store.RetentionInherit, nil, 30, 30},
		{"inherit ignores room days", store.RetentionInherit, intPtr(3), 30, 30},
		{"inherit with disabled default", store.RetentionInherit, nil, 0, 0},
		{"inherit with negative default", store.RetentionInherit, nil, -1, 0},
		{"unknown behaves like inherit", store.RetentionMode("weekly"), nil, 14, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveDays(tt.mode, tt.roomDays, tt.defaultDays))
		})
	}
}

func TestRun_KeepsPinnedMessages(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.CreateRoom(ctx, &store.Room{
		ID: "r1", Name: "general", RetentionMode: store.RetentionDays, RetentionDays: intPtr(1),
	}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "old", RoomID: "r1", Body: "a", CreatedAt: daysAgo(2)}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "pinned", RoomID: "r1", Body: "b", CreatedAt: daysAgo(2)}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "fresh", RoomID: "r1", Body: "c", CreatedAt: fixedNow.Add(-time.Hour)}))
	require.NoError(t, h.PinMessage(ctx, "pinned", "alice"))

	res, err := newTestReaper(h).Run(ctx, Options{DefaultDays: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MessagesDeleted)
	assert.Equal(t, 1, res.RoomsEvaluated)
	assert.Equal(t, 1, res.RoomsWithRetention)
	assert.Empty(t, res.RoomFailures)

	_, err = h.GetMessage(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.GetMessage(ctx, "pinned")
	assert.NoError(t, err)
	_, err = h.GetMessage(ctx, "fresh")
	assert.NoError(t, err)
}

func TestRun_RoomPolicyOverridesDefault(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "never", Name: "archive", RetentionMode: store.RetentionNever}))
	require.NoError(t, h.CreateRoom(ctx, &store.Room{
		ID: "short", Name: "scratch", RetentionMode: store.RetentionDays, RetentionDays: intPtr(3),
	}))
	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "inherit", Name: "lobby"}))
	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "temp", Name: "dm", IsTemporary: true}))

	for _, room := range []string{"never", "short", "inherit", "temp"} {
		require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: room + "-100d", RoomID: room, Body: "x", CreatedAt: daysAgo(100)}))
		require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: room + "-10d", RoomID: room, Body: "x", CreatedAt: daysAgo(10)}))
	}

	res, err := newTestReaper(h).Run(ctx, Options{DefaultDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RoomsEvaluated, "temporary rooms are not evaluated")
	assert.Equal(t, 2, res.RoomsWithRetention)
	assert.Equal(t, int64(3), res.MessagesDeleted)

	exists := func(id string) bool {
		_, err := h.GetMessage(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return false
		}
		require.NoError(t, err)
		return true
	}
	assert.True(t, exists("never-100d"))
	assert.True(t, exists("never-10d"))
	assert.False(t, exists("short-100d"))
	assert.False(t, exists("short-10d"))
	assert.False(t, exists("inherit-100d"))
	assert.True(t, exists("inherit-10d"))
	assert.True(t, exists("temp-100d"))
	assert.True(t, exists("temp-10d"))
}

func TestRun_DisabledDefaultKeepsInheritingRooms(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "r", Name: "lobby"}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "m", RoomID: "r", Body: "x", CreatedAt: daysAgo(1000)}))

	res, err := newTestReaper(h).Run(ctx, Options{DefaultDays: 0})
	require.NoError(t, err)
	assert.Zero(t, res.MessagesDeleted)
	assert.Zero(t, res.RoomsWithRetention)

	_, err = h.GetMessage(ctx, "m")
	assert.NoError(t, err)
}

func TestRun_SweepsOrphanAttachments(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	root := t.TempDir()

	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "r", Name: "files"}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "m", RoomID: "r", Body: "see attached", CreatedAt: fixedNow}))

	linked := &store.Attachment{ID: "linked", StoragePath: "aa/linked.png"}
	orphan := &store.Attachment{ID: "orphan", StoragePath: "bb/orphan.png"}
	require.NoError(t, h.CreateAttachment(ctx, linked))
	require.NoError(t, h.CreateAttachment(ctx, orphan))
	require.NoError(t, h.LinkAttachment(ctx, "m", "linked"))

	for _, rel := range []string{linked.StoragePath, orphan.StoragePath} {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(rel), 0o644))
	}

	res, err := newTestReaper(h).Run(ctx, Options{DefaultDays: 30, AttachmentRoot: root})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrphanAttachmentsDeleted)
	assert.Equal(t, 1, res.OrphanFilesDeleted)
	assert.Empty(t, res.Cleanup.Failed())

	_, err = h.GetAttachment(ctx, "orphan")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = os.Stat(filepath.Join(root, orphan.StoragePath))
	assert.True(t, os.IsNotExist(err))

	_, err = h.GetAttachment(ctx, "linked")
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, linked.StoragePath))
	assert.NoError(t, err)
}

func TestRun_ExpiredMessageOrphansItsAttachment(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	root := t.TempDir()

	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "r", Name: "files"}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "m", RoomID: "r", Body: "old", CreatedAt: daysAgo(60)}))
	require.NoError(t, h.CreateAttachment(ctx, &store.Attachment{ID: "a", StoragePath: "a.bin"}))
	require.NoError(t, h.LinkAttachment(ctx, "m", "a"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.bin"), []byte("blob"), 0o644))

	res, err := newTestReaper(h).Run(ctx, Options{DefaultDays: 30, AttachmentRoot: root})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MessagesDeleted)
	assert.Equal(t, 1, res.OrphanAttachmentsDeleted)
	assert.Equal(t, 1, res.OrphanFilesDeleted)

	_, err = os.Stat(filepath.Join(root, "a.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_EscapingOrphanPathIsNotFollowed(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	base := t.TempDir()
	root := filepath.Join(base, "attachments")
	require.NoError(t, os.MkdirAll(root, 0o755))

	outside := filepath.Join(base, "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("outside the root"), 0o644))
	require.NoError(t, h.CreateAttachment(ctx, &store.Attachment{ID: "evil", StoragePath: "../keep.txt"}))

	res, err := newTestReaper(h).Run(ctx, Options{AttachmentRoot: root})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrphanAttachmentsDeleted, "the row is still removed")
	assert.Zero(t, res.OrphanFilesDeleted)

	failed := res.Cleanup.Failed()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, attachments.ErrPathEscape)

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "outside the root", string(data))
}

func TestRun_MissingOrphanFileIsNotAFailure(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.CreateAttachment(ctx, &store.Attachment{ID: "ghost", StoragePath: "ghost.bin"}))

	res, err := newTestReaper(h).Run(ctx, Options{AttachmentRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrphanAttachmentsDeleted)
	assert.Zero(t, res.OrphanFilesDeleted)
	assert.Empty(t, res.Cleanup.Failed())
}

// flakyStore fails deletes for selected rooms
type flakyStore struct {
	rooms    []*store.Room
	failFor  map[string]bool
	deleted  []string
	sweepErr error
	cutoffs  map[string]time.Time
}

func (f *flakyStore) ListRetentionRooms(context.Context) ([]*store.Room, error) {
	return f.rooms, nil
}

func (f *flakyStore) DeleteExpiredMessages(_ context.Context, roomID string, cutoff time.Time) (int64, error) {
	if f.cutoffs == nil {
		f.cutoffs = map[string]time.Time{}
	}
	f.cutoffs[roomID] = cutoff
	if f.failFor[roomID] {
		return 0, errors.New("disk I/O error")
	}
	f.deleted = append(f.deleted, roomID)
	return 2, nil
}

func (f *flakyStore) SweepOrphanAttachments(context.Context, func(*store.Attachment)) (int, error) {
	return 0, f.sweepErr
}

func TestRun_RoomFailureDoesNotStopRun(t *testing.T) {
	fs := &flakyStore{
		rooms: []*store.Room{
			{ID: "a", RetentionMode: store.RetentionInherit},
			{ID: "b", RetentionMode: store.RetentionInherit},
			{ID: "c", RetentionMode: store.RetentionDays, RetentionDays: intPtr(2)},
		},
		failFor: map[string]bool{"b": true},
	}

	res, err := newTestReaper(fs).Run(context.Background(), Options{DefaultDays: 7})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, fs.deleted)
	assert.Equal(t, int64(4), res.MessagesDeleted)
	require.Len(t, res.RoomFailures, 1)
	assert.Equal(t, "b", res.RoomFailures[0].RoomID)

	assert.Equal(t, daysAgo(7), fs.cutoffs["a"])
	assert.Equal(t, daysAgo(2), fs.cutoffs["c"])
}

func TestRun_SweepFailureKeepsCounts(t *testing.T) {
	fs := &flakyStore{
		rooms:    []*store.Room{{ID: "a", RetentionMode: store.RetentionInherit}},
		sweepErr: errors.New("database is locked"),
	}

	res, err := newTestReaper(fs).Run(context.Background(), Options{DefaultDays: 7})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int64(2), res.MessagesDeleted)
}

func TestCutoff(t *testing.T) {
	assert.Equal(t, time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC), Cutoff(fixedNow, 1))
	assert.Equal(t, time.Date(2025, 5, 16, 12, 0, 0, 0, time.UTC), Cutoff(fixedNow, 30))

	for _, days := range []int{106_752, 200_000, 1_000_000_000} {
		assert.True(t, Cutoff(fixedNow, days).Before(fixedNow), "days=%d", days)
		assert.Equal(t, Cutoff(fixedNow, maxDays), Cutoff(fixedNow, days), "days=%d", days)
	}
}

func TestRun_HugeRetentionKeepsMessages(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.CreateRoom(ctx, &store.Room{
		ID: "forever", Name: "forever", RetentionMode: store.RetentionDays, RetentionDays: intPtr(200_000),
	}))
	require.NoError(t, h.CreateRoom(ctx, &store.Room{ID: "lobby", Name: "lobby"}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "a", RoomID: "forever", Body: "x", CreatedAt: daysAgo(1)}))
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "b", RoomID: "lobby", Body: "x", CreatedAt: daysAgo(3650)}))

	res, err := newTestReaper(h).Run(ctx, Options{DefaultDays: 1_000_000_000})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RoomsWithRetention)
	assert.Zero(t, res.MessagesDeleted)

	for _, id := range []string{"a", "b"} {
		_, err := h.GetMessage(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestRun_ForeignRoomTimestampDoesNotAbort(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	db, err := h.Acquire(ctx)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, created_at) VALUES ('legacy', 'legacy', '2024-01-01 00:00:00')
	`)
	require.NoError(t, err)
	require.NoError(t, h.CreateMessage(ctx, &store.Message{ID: "old", RoomID: "legacy", Body: "x", CreatedAt: daysAgo(60)}))

	res, err := newTestReaper(h).Run(ctx, Options{DefaultDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RoomsEvaluated)
	assert.Equal(t, int64(1), res.MessagesDeleted)

	_, err = h.GetMessage(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
