package repository

import (
	"context"
	"testing"
	"time"

	"trackresync/internal/config"
	"trackresync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPendingStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer Close(client)

	ctx := context.Background()
	require.NoError(t, Ping(ctx, client))

	store := NewRedisPendingStore(client, "")
	queuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return queuedAt }

	t.Run("AddIsIdempotent", func(t *testing.T) {
		require.NoError(t, store.Add(ctx, 3, models.KindManga))
		require.NoError(t, store.Add(ctx, 3, models.KindManga))
		require.NoError(t, store.Add(ctx, 1, models.KindManga))

		markers, err := store.List(ctx, models.KindManga)
		require.NoError(t, err)
		require.Len(t, markers, 2)
		assert.Equal(t, int64(1), markers[0].ItemID)
		assert.Equal(t, int64(3), markers[1].ItemID)
		assert.Equal(t, models.KindManga, markers[0].Kind)
		assert.True(t, markers[0].CreatedAt.Equal(queuedAt))
	})

	t.Run("ReAddKeepsQueueTime", func(t *testing.T) {
		store.now = func() time.Time { return queuedAt.Add(time.Hour) }
		defer func() { store.now = func() time.Time { return queuedAt } }()

		require.NoError(t, store.Add(ctx, 1, models.KindManga))
		markers, err := store.List(ctx, models.KindManga)
		require.NoError(t, err)
		require.Len(t, markers, 2)
		assert.True(t, markers[0].CreatedAt.Equal(queuedAt))
	})

	t.Run("KeysPerKind", func(t *testing.T) {
		require.NoError(t, store.Add(ctx, 3, models.KindAnime))
		assert.True(t, s.Exists("resync:pending:manga"))
		assert.True(t, s.Exists("resync:pending:anime"))

		members, err := s.ZMembers("resync:pending:anime")
		require.NoError(t, err)
		assert.Equal(t, []string{"3"}, members)

		score, err := s.ZScore("resync:pending:anime", "3")
		require.NoError(t, err)
		assert.Equal(t, float64(queuedAt.UnixMilli()), score)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, 3, models.KindManga))
		require.NoError(t, store.Remove(ctx, 3, models.KindManga))

		manga, err := store.List(ctx, models.KindManga)
		require.NoError(t, err)
		require.Len(t, manga, 1)
		assert.Equal(t, int64(1), manga[0].ItemID)

		anime, err := store.List(ctx, models.KindAnime)
		require.NoError(t, err)
		assert.Len(t, anime, 1)
	})

	t.Run("CorruptMember", func(t *testing.T) {
		_, err := s.ZAdd("resync:pending:anime", 1, "not-a-number")
		require.NoError(t, err)
		_, err = store.List(ctx, models.KindAnime)
		assert.Error(t, err)
		_, err = s.ZRem("resync:pending:anime", "not-a-number")
		require.NoError(t, err)
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.SetError("ERR server unavailable")
		defer s.SetError("")
		assert.Error(t, store.Add(ctx, 9, models.KindManga))
		_, err := store.List(ctx, models.KindManga)
		assert.Error(t, err)
	})
}

func TestRedisPendingStore_NilClient(t *testing.T) {
	store := NewRedisPendingStore(nil, "x")
	ctx := context.Background()

	assert.Error(t, store.Add(ctx, 1, models.KindManga))
	assert.Error(t, store.Remove(ctx, 1, models.KindManga))
	_, err := store.List(ctx, models.KindManga)
	assert.Error(t, err)
}
