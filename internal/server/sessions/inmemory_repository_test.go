package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_CreateFindDelete(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	id, err := repo.Create(ctx, &models.Session{
		EncryptedFileName: "aa:bb:cc",
		FileSize:          10240,
		EncryptedFileType: "dd:ee:ff",
	})
	require.NoError(t, err)

	s, err := repo.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, s.Status)
	assert.Equal(t, int64(10240), s.FileSize)

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Find(ctx, id)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInMemory_SetStatusIdempotentAndGuarded(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	id, err := repo.Create(ctx, &models.Session{EncryptedFileName: "n", FileSize: 1, EncryptedFileType: "t"})
	require.NoError(t, err)

	require.NoError(t, repo.SetStatus(ctx, id, models.StatusActive))
	// Setting the same status again is a no-op, not an error.
	require.NoError(t, repo.SetStatus(ctx, id, models.StatusActive))

	require.NoError(t, repo.SetStatus(ctx, id, models.StatusCompleted))
	err = repo.SetStatus(ctx, id, models.StatusActive)
	assert.ErrorIs(t, err, common.ErrAlreadyDownloaded)

	err = repo.SetStatus(ctx, "missing", models.StatusActive)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInMemory_DeleteOlderThan(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := NewInMemoryRepository(clock)
	ctx := context.Background()

	oldID, err := repo.Create(ctx, &models.Session{EncryptedFileName: "n", FileSize: 1, EncryptedFileType: "t"})
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	freshID, err := repo.Create(ctx, &models.Session{EncryptedFileName: "n", FileSize: 1, EncryptedFileType: "t"})
	require.NoError(t, err)

	n, err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour), models.StatusWaiting, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Find(ctx, oldID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = repo.Find(ctx, freshID)
	assert.NoError(t, err)
}

func TestInMemory_DeleteOlderThan_SkipsActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := NewInMemoryRepository(func() time.Time { return now })
	ctx := context.Background()

	id, err := repo.Create(ctx, &models.Session{EncryptedFileName: "n", FileSize: 1, EncryptedFileType: "t"})
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, id, models.StatusActive))

	n, err := repo.DeleteOlderThan(ctx, now.Add(time.Hour), models.StatusWaiting, models.StatusCompleted)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.Find(ctx, id)
	assert.NoError(t, err)
}
