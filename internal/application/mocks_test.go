package application

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/mail"
	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/photo"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

// MockEventRepository はevent.Repositoryのモック
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Create(ctx context.Context, tx transaction.Tx, e *event.Event) error {
	args := m.Called(ctx, tx, e)
	return args.Error(0)
}

func (m *MockEventRepository) GetByID(ctx context.Context, id string) (*event.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*event.Event), args.Error(1)
}

func (m *MockEventRepository) List(ctx context.Context, filter event.ListFilter) ([]*event.Event, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*event.Event), args.Error(1)
}

func (m *MockEventRepository) Update(ctx context.Context, tx transaction.Tx, e *event.Event) error {
	args := m.Called(ctx, tx, e)
	return args.Error(0)
}

func (m *MockEventRepository) RecordVote(ctx context.Context, eventID, label, voterID string) error {
	args := m.Called(ctx, eventID, label, voterID)
	return args.Error(0)
}

// MockOutboxRepository はoutbox.Repositoryのモック
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, tx transaction.Tx, msgs ...*outbox.Message) error {
	args := m.Called(ctx, tx, msgs)
	return args.Error(0)
}

func (m *MockOutboxRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepository) Claim(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	args := m.Called(ctx, id, staleBefore)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxRepository) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) Release(ctx context.Context, id string, cause string) error {
	args := m.Called(ctx, id, cause)
	return args.Error(0)
}

// MockUploader はphoto.Uploaderのモック
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, file photo.File, category string) (string, error) {
	args := m.Called(ctx, file, category)
	return args.String(0), args.Error(1)
}

func (m *MockUploader) Delete(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

// MockDirectory はuser.Directoryのモック
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ListActiveUsers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockNotifier はnotification.Notifierのモック
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n notification.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockMailer はmail.Mailerのモック
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg mail.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// stubTx / stubTxManager はコミット・ロールバックを記録する
type stubTx struct {
	committed  bool
	rolledBack bool
}

func (t *stubTx) Commit() error {
	t.committed = true
	return nil
}

func (t *stubTx) Rollback() error {
	t.rolledBack = true
	return nil
}

type stubTxManager struct {
	txs []*stubTx
}

func (m *stubTxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	tx := &stubTx{}
	m.txs = append(m.txs, tx)
	return tx, nil
}
