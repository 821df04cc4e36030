package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockPendingDispatcher はPendingDispatcherのモック
type MockPendingDispatcher struct {
	mock.Mock
}

func (m *MockPendingDispatcher) DispatchPending(ctx context.Context, before time.Time, limit int) (int, error) {
	args := m.Called(ctx, before, limit)
	return args.Int(0), args.Error(1)
}

func TestNewOutboxDispatcher(t *testing.T) {
	mockDispatcher := new(MockPendingDispatcher)

	w := NewOutboxDispatcher(mockDispatcher, time.Minute, 30*time.Second, 50)

	assert.NotNil(t, w)
	assert.Equal(t, time.Minute, w.interval)
	assert.Equal(t, 30*time.Second, w.retryAfter)
	assert.Equal(t, 50, w.batchSize)
	assert.NotNil(t, w.stopCh)
	assert.NotNil(t, w.doneCh)
}

func TestOutboxDispatcher_Dispatch(t *testing.T) {
	fixedNow := time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
	expectedBefore := fixedNow.Add(-30 * time.Second)

	tests := []struct {
		name string
		sent int
		err  error
	}{
		{name: "再送できたメッセージがある", sent: 3},
		{name: "再送対象がない場合も正常に動作する", sent: 0},
		{name: "エラーが発生しても継続する", sent: 1, err: assert.AnError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			mockDispatcher := new(MockPendingDispatcher)
			mockDispatcher.On("DispatchPending", mock.Anything, expectedBefore, 50).Return(tt.sent, tt.err)
			w := NewOutboxDispatcher(mockDispatcher, time.Minute, 30*time.Second, 50)
			w.now = func() time.Time { return fixedNow }

			// Act
			w.dispatch(context.Background())

			// Assert
			mockDispatcher.AssertExpectations(t)
		})
	}
}

func TestOutboxDispatcher_StartStop(t *testing.T) {
	t.Run("開始と停止が正常に動作する", func(t *testing.T) {
		mockDispatcher := new(MockPendingDispatcher)
		mockDispatcher.On("DispatchPending", mock.Anything, mock.Anything, 10).Return(0, nil)

		w := NewOutboxDispatcher(mockDispatcher, 20*time.Millisecond, time.Second, 10)

		go w.Start(context.Background())
		time.Sleep(120 * time.Millisecond)
		w.Stop()

		select {
		case <-w.doneCh:
		case <-time.After(1 * time.Second):
			t.Error("worker did not stop in time")
		}
		mockDispatcher.AssertCalled(t, "DispatchPending", mock.Anything, mock.Anything, 10)
	})

	t.Run("二重に停止してもパニックしない", func(t *testing.T) {
		w := NewOutboxDispatcher(new(MockPendingDispatcher), time.Hour, time.Second, 10)
		go w.Start(context.Background())

		w.Stop()
		assert.NotPanics(t, w.Stop)
	})

	t.Run("コンテキストキャンセルで停止する", func(t *testing.T) {
		mockDispatcher := new(MockPendingDispatcher)
		mockDispatcher.On("DispatchPending", mock.Anything, mock.Anything, mock.Anything).Return(0, nil).Maybe()

		w := NewOutboxDispatcher(mockDispatcher, 50*time.Millisecond, time.Second, 10)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			w.Start(ctx)
			close(done)
		}()

		time.Sleep(80 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Error("worker did not stop after context cancel")
		}
	})
}
