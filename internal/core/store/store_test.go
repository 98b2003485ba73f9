package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

func backends(t *testing.T) map[string]core.StatusStore {
	t.Helper()
	bh, err := OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bh.Close() })

	return map[string]core.StatusStore{
		"memory": NewMemoryStatusStore(),
		"badger": NewBadgerStatusStore(bh),
	}
}

func TestStatusStores(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, s.Set(ctx, models.FileStatus{JobID: "2", SessionID: "chat-a", Status: models.StatusProcessing, CreatedAt: base.Add(time.Second)}))
			require.NoError(t, s.Set(ctx, models.FileStatus{JobID: "1", SessionID: "chat-a", Status: models.StatusProcessing, CreatedAt: base}))
			require.NoError(t, s.Set(ctx, models.FileStatus{JobID: "3", SessionID: "chat-b", Status: models.StatusProcessing, CreatedAt: base}))

			got, err := s.ScanBySession(ctx, "chat-a")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "1", got[0].JobID)
			assert.Equal(t, "2", got[1].JobID)

			none, err := s.ScanBySession(ctx, "chat-z")
			require.NoError(t, err)
			assert.Empty(t, none)

			done := base.Add(time.Minute)
			updated, err := s.Update(ctx, "1", func(st *models.FileStatus) bool {
				st.Status = models.StatusCompleted
				st.CompletedAt = &done
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, updated.Status)

			stored, err := s.Get(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, stored.Status)
			require.NotNil(t, stored.CompletedAt)
			assert.True(t, stored.CompletedAt.Equal(done))

			unchanged, err := s.Update(ctx, "2", func(st *models.FileStatus) bool {
				st.Status = models.StatusCompleted
				return false
			})
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, unchanged.Status, "fn sees its own edit")
			stored, err = s.Get(ctx, "2")
			require.NoError(t, err)
			assert.Equal(t, models.StatusProcessing, stored.Status, "declined update is not written")

			_, err = s.Update(ctx, "missing", func(*models.FileStatus) bool { return true })
			assert.ErrorIs(t, err, core.ErrNotFound)

			n, err := s.DeleteCreatedBefore(ctx, base.Add(500*time.Millisecond))
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			_, err = s.Get(ctx, "2")
			assert.NoError(t, err)

			require.NoError(t, s.Delete(ctx, "2"))
			require.NoError(t, s.Delete(ctx, "2"), "deleting twice is fine")
			_, err = s.Get(ctx, "2")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestMemoryStatusStore_DoesNotShareCompletedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatusStore()
	now := time.Now()
	require.NoError(t, s.Set(ctx, models.FileStatus{JobID: "1", SessionID: "c", CompletedAt: &now}))

	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	*got.CompletedAt = now.Add(time.Hour)

	again, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, again.CompletedAt.Equal(now))
}
