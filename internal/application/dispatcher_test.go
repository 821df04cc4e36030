package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-event-board/internal/domain/mail"
	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
	"github.com/sanosuguru/go-event-board/internal/infrastructure/memory"
	"github.com/sanosuguru/go-event-board/internal/pkg/metrics"
)

func newOutboxMessages(t *testing.T) (*outbox.Message, *outbox.Message) {
	t.Helper()
	n, err := outbox.NewNotificationMessage(notification.New("Event Created", "Event x has been created", notification.TypeEvent, "e1", time.Now()))
	require.NoError(t, err)
	m, err := outbox.NewMailMessage("e1", mail.Message{To: []string{"u1"}, Subject: "x - meeting"})
	require.NoError(t, err)
	return n, m
}

func TestDispatcher_Deliver(t *testing.T) {
	t.Run("取得できなかったメッセージは送信しない", func(t *testing.T) {
		repo := new(MockOutboxRepository)
		notifier := new(MockNotifier)
		d := NewDispatcher(repo, notifier, new(MockMailer), nil)
		n, _ := newOutboxMessages(t)
		repo.On("Claim", mock.Anything, n.ID, time.Time{}).Return(false, nil)

		require.NoError(t, d.Deliver(context.Background(), []*outbox.Message{n}))
		notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	})

	t.Run("取得に失敗した場合は種別付きのエラー", func(t *testing.T) {
		repo := new(MockOutboxRepository)
		d := NewDispatcher(repo, new(MockNotifier), new(MockMailer), nil)
		_, m := newOutboxMessages(t)
		repo.On("Claim", mock.Anything, m.ID, time.Time{}).Return(false, errors.New("db down"))

		err := d.Deliver(context.Background(), []*outbox.Message{m})
		assert.ErrorIs(t, err, ErrMailFailed)
	})

	t.Run("通知IDはメッセージIDに固定される", func(t *testing.T) {
		repo := new(MockOutboxRepository)
		notifier := new(MockNotifier)
		d := NewDispatcher(repo, notifier, new(MockMailer), nil)
		n, _ := newOutboxMessages(t)
		repo.On("Claim", mock.Anything, n.ID, time.Time{}).Return(true, nil)
		repo.On("MarkSent", mock.Anything, n.ID).Return(nil)
		notifier.On("Notify", mock.Anything, mock.MatchedBy(func(got notification.Notification) bool {
			return got.ID == n.ID && got.SubjectID == "e1"
		})).Return(nil)

		require.NoError(t, d.Deliver(context.Background(), []*outbox.Message{n}))
		notifier.AssertExpectations(t)
	})

	t.Run("不明な種別は失敗として差し戻す", func(t *testing.T) {
		repo := new(MockOutboxRepository)
		d := NewDispatcher(repo, new(MockNotifier), new(MockMailer), nil)
		bogus := &outbox.Message{ID: "m1", Kind: outbox.Kind("sms")}
		repo.On("Claim", mock.Anything, "m1", time.Time{}).Return(true, nil)
		repo.On("Release", mock.Anything, "m1", mock.Anything).Return(nil)

		err := d.Deliver(context.Background(), []*outbox.Message{bogus})
		assert.ErrorIs(t, err, outbox.ErrUnexpectedKind)
		repo.AssertCalled(t, "Release", mock.Anything, "m1", mock.Anything)
	})
}

// flakyNotifier は指定回数だけ失敗する
type flakyNotifier struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyNotifier) Notify(ctx context.Context, n notification.Notification) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestDispatcher_DispatchPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := memory.NewOutboxRepository(store)
	mailbox := memory.NewMailbox()
	notifier := &flakyNotifier{failures: 1}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	d := NewDispatcher(repo, notifier, mailbox, m)

	n, ml := newOutboxMessages(t)
	require.NoError(t, transaction.Run(ctx, memory.NewTxManager(store), func(tx transaction.Tx) error {
		return d.Enqueue(ctx, tx, n, ml)
	}))

	// 同期配信で通知だけ失敗する
	err := d.Deliver(ctx, []*outbox.Message{n, ml})
	require.ErrorIs(t, err, ErrNotificationFailed)
	assert.Len(t, mailbox.Sent(), 1)

	// 猶予時間内は再送対象にならない
	sent, err := d.DispatchPending(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	// 猶予時間を過ぎると再送される
	sent, err = d.DispatchPending(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), notifier.calls.Load())
	assert.Len(t, mailbox.Sent(), 1)

	for _, msg := range repo.Messages() {
		assert.Equal(t, outbox.StatusSent, msg.Status)
		assert.NotNil(t, msg.SentAt)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeliveriesTotal.WithLabelValues("notification", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeliveriesTotal.WithLabelValues("notification", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeliveriesTotal.WithLabelValues("mail", "sent")))

	// 送信済みしか残っていない
	sent, err = d.DispatchPending(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OutboxPending))
}

func TestDispatcher_DispatchPending_ListError(t *testing.T) {
	repo := new(MockOutboxRepository)
	d := NewDispatcher(repo, new(MockNotifier), new(MockMailer), nil)
	repo.On("ListPending", mock.Anything, mock.Anything, 10).Return(nil, errors.New("db down"))

	_, err := d.DispatchPending(context.Background(), time.Now(), 10)
	assert.Error(t, err)
}
