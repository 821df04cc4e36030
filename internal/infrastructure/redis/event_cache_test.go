package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
)

func TestEventCache(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewEventCache(client, 30*time.Second)
	ctx := context.Background()

	e := event.NewEvent("Launch", "desc", "meetup", time.Now().UTC(), nil, []string{"u1"})
	require.NoError(t, e.AttachPoll(event.NewPoll("Pizza?", []string{"yes", "no"})))

	t.Run("キャッシュミス時はErrCacheMissを返す", func(t *testing.T) {
		_, err := cache.Get(ctx, e.ID)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("保存したイベントを取得できる", func(t *testing.T) {
		stored, err := cache.Set(ctx, e, 0)
		require.NoError(t, err)
		assert.True(t, stored)

		got, err := cache.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.Title, got.Title)
		assert.Equal(t, e.Participants, got.Participants)
		require.NotNil(t, got.Poll)
		assert.Equal(t, []string{"yes", "no"}, got.Poll.Labels())
		assert.True(t, e.StartDate.Equal(got.StartDate))
	})

	t.Run("TTLが設定される", func(t *testing.T) {
		gen, err := cache.Generation(ctx, e.ID)
		require.NoError(t, err)
		_, err = cache.Set(ctx, e, gen)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, mr.TTL("events:detail:"+e.ID))

		mr.FastForward(31 * time.Second)
		_, err = cache.Get(ctx, e.ID)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("キャッシュを無効化できる", func(t *testing.T) {
		gen, err := cache.Generation(ctx, e.ID)
		require.NoError(t, err)
		_, err = cache.Set(ctx, e, gen)
		require.NoError(t, err)
		require.NoError(t, cache.Invalidate(ctx, e.ID))

		_, err = cache.Get(ctx, e.ID)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("無効化で世代番号が進む", func(t *testing.T) {
		before, err := cache.Generation(ctx, e.ID)
		require.NoError(t, err)

		require.NoError(t, cache.Invalidate(ctx, e.ID))

		after, err := cache.Generation(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
		assert.True(t, mr.TTL("events:generation:"+e.ID) > 0)
	})

	t.Run("読み取り後に無効化された内容は保存しない", func(t *testing.T) {
		// Arrange
		gen, err := cache.Generation(ctx, e.ID)
		require.NoError(t, err)
		require.NoError(t, cache.Invalidate(ctx, e.ID))

		// Act
		stored, err := cache.Set(ctx, e, gen)

		// Assert
		require.NoError(t, err)
		assert.False(t, stored)
		_, err = cache.Get(ctx, e.ID)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("Redis停止時はエラー", func(t *testing.T) {
		mr.Close()
		_, err := cache.Get(ctx, e.ID)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheMiss)
	})
}
