package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

func TestOutboxRepository_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	msg, err := outbox.NewNotificationMessage(notification.New("New event", "Standup", notification.TypeEvent, uuid.NewString(), time.Now()))
	require.NoError(t, err)
	runTx(t, db, func(tx transaction.Tx) error { return repo.Enqueue(ctx, tx, msg) })

	t.Run("未送信として取得できる", func(t *testing.T) {
		pending, err := repo.ListPending(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, msg.ID, pending[0].ID)
		assert.Equal(t, outbox.StatusPending, pending[0].Status)

		n, err := pending[0].Notification()
		require.NoError(t, err)
		assert.Equal(t, "New event", n.Title)
	})

	t.Run("取得は一度だけ成功する", func(t *testing.T) {
		ok, err := repo.Claim(ctx, msg.ID, time.Time{})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Claim(ctx, msg.ID, time.Time{})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("長時間処理中のものは再取得できる", func(t *testing.T) {
		ok, err := repo.Claim(ctx, msg.ID, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("失敗すると pending に戻る", func(t *testing.T) {
		require.NoError(t, repo.Release(ctx, msg.ID, "broker down"))
		pending, err := repo.ListPending(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "broker down", pending[0].LastError)
		assert.Equal(t, 2, pending[0].Attempts)
	})

	t.Run("送信済みは一覧に出ない", func(t *testing.T) {
		ok, err := repo.Claim(ctx, msg.ID, time.Time{})
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, repo.MarkSent(ctx, msg.ID))

		pending, err := repo.ListPending(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("存在しないメッセージ", func(t *testing.T) {
		_, err := repo.Claim(ctx, uuid.NewString(), time.Time{})
		assert.ErrorIs(t, err, outbox.ErrMessageNotFound)
		assert.ErrorIs(t, repo.MarkSent(ctx, uuid.NewString()), outbox.ErrMessageNotFound)
	})
}

func TestNotificationRepository_SaveIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	subject := uuid.NewString()
	n := notification.New("Event updated", "Standup", notification.TypeEvent, subject, time.Now())
	n.ID = uuid.NewString()

	require.NoError(t, repo.Save(ctx, &n))
	require.NoError(t, repo.Save(ctx, &n))

	saved, err := repo.ListBySubject(ctx, subject)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, n.ID, saved[0].ID)
}

func TestUserDirectory_ListActiveUsers(t *testing.T) {
	db := setupTestDB(t)
	dir := NewUserDirectory(db)
	ctx := context.Background()

	t.Run("ユーザーがいない場合は空", func(t *testing.T) {
		users, err := dir.ListActiveUsers(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("アクティブなユーザーだけ返す", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO users (id, email, is_active, created_at) VALUES
			('u1', 'u1@example.com', TRUE, NOW() - INTERVAL '2 minutes'),
			('u2', 'u2@example.com', FALSE, NOW() - INTERVAL '1 minute'),
			('u3', 'u3@example.com', TRUE, NOW())`)
		require.NoError(t, err)

		users, err := dir.ListActiveUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u3"}, users)
	})
}
