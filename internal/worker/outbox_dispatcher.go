package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
)

// PendingDispatcher は未送信のアウトボックスメッセージを再送するインターフェース
type PendingDispatcher interface {
	DispatchPending(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxDispatcher は配信に失敗した通知・メールを定期的に再送するワーカー
type OutboxDispatcher struct {
	dispatcher PendingDispatcher
	interval   time.Duration
	retryAfter time.Duration
	batchSize  int
	now        func() time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
}

// NewOutboxDispatcher は新しいワーカーを作成
// retryAfter より前に更新されたメッセージだけを再送の対象にする
func NewOutboxDispatcher(
	d PendingDispatcher,
	interval time.Duration,
	retryAfter time.Duration,
	batchSize int,
) *OutboxDispatcher {
	return &OutboxDispatcher{
		dispatcher: d,
		interval:   interval,
		retryAfter: retryAfter,
		batchSize:  batchSize,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start はワーカーを開始
func (w *OutboxDispatcher) Start(ctx context.Context) {
	logger.Info("アウトボックス再送ワーカー開始",
		zap.Duration("interval", w.interval),
		zap.Duration("retry_after", w.retryAfter),
		zap.Int("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("アウトボックス再送ワーカー停止（コンテキストキャンセル）")
			return
		case <-w.stopCh:
			logger.Info("アウトボックス再送ワーカー停止（シグナル受信）")
			return
		case <-ticker.C:
			w.dispatch(ctx)
		}
	}
}

// Stop はワーカーを停止し、実行中の再送が終わるまで待つ
func (w *OutboxDispatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// dispatch は未送信メッセージを再送
func (w *OutboxDispatcher) dispatch(ctx context.Context) {
	log := logger.Named("outbox")
	log.Debug("未送信メッセージの再送開始")

	before := w.now().Add(-w.retryAfter)
	sent, err := w.dispatcher.DispatchPending(ctx, before, w.batchSize)
	if err != nil {
		// 失敗したメッセージは pending に戻っているため次回再送される
		log.Warn("一部のメッセージを再送できませんでした", zap.Int("sent", sent), zap.Error(err))
		return
	}

	if sent > 0 {
		log.Info("未送信メッセージを再送", zap.Int("count", sent))
	} else {
		log.Debug("未送信メッセージなし")
	}
}
