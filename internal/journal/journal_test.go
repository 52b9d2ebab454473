package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/protocol"
	"github.com/vkucera/task-coach/internal/store"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	require.NoError(t, j.Begin(ctx, "s-1", "desktop:8001"))
	require.NoError(t, j.LogTransfer(ctx, "s-1", model.KindTask, "t-1", model.StatusNew, Sent))
	require.NoError(t, j.Begin(ctx, "s-2", "desktop:8001"))

	outcome := protocol.Outcome{
		Status:   protocol.Failed,
		Reason:   protocol.ReasonAuth,
		Err:      errors.New("password rejected"),
		Version:  5,
		Mode:     protocol.ModeTwoWay,
		PeerGUID: "abc-123",
		Sent:     protocol.Counts{Tasks: 1},
	}
	require.NoError(t, j.Finish(ctx, "s-1", outcome))
	assert.ErrorIs(t, j.Finish(ctx, "s-404", outcome), ErrInvalidSession)

	entries, err := j.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s-2", entries[0].ID, "newest first")
	assert.Nil(t, entries[0].Report, "unfinished")
	assert.True(t, entries[0].EndedAt.IsZero())

	got := entries[1]
	require.NotNil(t, got.Report)
	assert.False(t, got.EndedAt.IsZero())
	assert.Equal(t, "failed", got.Report.Status)
	assert.Equal(t, "auth", got.Report.Reason)
	assert.Equal(t, "password rejected", got.Report.Error)
	assert.Equal(t, "two-way", got.Report.Mode)
	assert.Equal(t, protocol.Counts{Tasks: 1}, got.Report.Sent)

	transfers, err := j.Transfers(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, Transfer{Kind: model.KindTask, RemoteID: "t-1", Change: model.StatusNew, Direction: Sent, At: transfers[0].At}, transfers[0])
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	require.NoError(t, j.Begin(ctx, "s-1", "desktop:8001"))
	require.NoError(t, j.LogTransfer(ctx, "s-1", model.KindTask, "t-1", model.StatusNew, Received))

	n, err := j.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(10 * time.Millisecond)
	n, err = j.CleanupExpired(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	transfers, err := j.Transfers(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, transfers, "transfers go with their session")
}

func TestTrackerJournalsTransfers(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer s.Close()

	newID, err := s.AddTask(ctx, &model.Task{Subject: "New"})
	require.NoError(t, err)
	goneID, err := s.AddTask(ctx, &model.Task{Subject: "Gone"})
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, model.KindTask, goneID, "t-gone"))
	require.NoError(t, s.Delete(ctx, model.KindTask, goneID))

	require.NoError(t, j.Begin(ctx, "s-1", "desktop:8001"))
	tr := j.Track(s, "s-1")

	recs, err := tr.EnumerateDirty(ctx, model.KindTask, model.StatusNew)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NoError(t, tr.MarkSynced(ctx, model.KindTask, newID, "t-new"))

	_, err = tr.EnumerateDirty(ctx, model.KindTask, model.StatusDeleted)
	require.NoError(t, err)
	require.NoError(t, tr.Remove(ctx, model.KindTask, goneID))

	_, err = tr.ApplyIncoming(ctx, &model.Category{Meta: model.Meta{Status: model.StatusNew}, Name: "Home"}, "c-1")
	require.NoError(t, err)

	transfers, err := j.Transfers(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	assert.Equal(t, []Direction{Sent, Sent, Received}, []Direction{transfers[0].Direction, transfers[1].Direction, transfers[2].Direction})
	assert.Equal(t, "t-new", transfers[0].RemoteID)
	assert.Equal(t, model.StatusNew, transfers[0].Change)
	assert.Equal(t, "t-gone", transfers[1].RemoteID)
	assert.Equal(t, model.StatusDeleted, transfers[1].Change)
	assert.Equal(t, model.KindCategory, transfers[2].Kind)
}
