package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sanosuguru/go-event-board/internal/domain/mail"
	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
	"github.com/sanosuguru/go-event-board/internal/pkg/metrics"
)

const defaultDispatchConcurrency = 4

// Dispatcher はアウトボックスに記録された通知・メールを配信する
type Dispatcher struct {
	outboxRepo  outbox.Repository
	notifier    notification.Notifier
	mailer      mail.Mailer
	metrics     *metrics.Metrics
	concurrency int
}

func NewDispatcher(repo outbox.Repository, n notification.Notifier, m mail.Mailer, mt *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		outboxRepo:  repo,
		notifier:    n,
		mailer:      m,
		metrics:     mt,
		concurrency: defaultDispatchConcurrency,
	}
}

// Enqueue はイベントの変更と同じトランザクションでメッセージを記録する
func (d *Dispatcher) Enqueue(ctx context.Context, tx transaction.Tx, msgs ...*outbox.Message) error {
	if err := d.outboxRepo.Enqueue(ctx, tx, msgs...); err != nil {
		return fmt.Errorf("アウトボックスへの記録に失敗: %w", err)
	}
	return nil
}

// Deliver はコミット直後のメッセージを順に配信する
// 失敗したメッセージは pending に戻り、ワーカーが再送する
func (d *Dispatcher) Deliver(ctx context.Context, msgs []*outbox.Message) error {
	var errs []error
	for _, m := range msgs {
		if err := d.deliver(ctx, m, time.Time{}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DispatchPending は before より古い未送信メッセージを再送し、送信できた件数を返す
// before より前から processing のままのメッセージも再取得する
func (d *Dispatcher) DispatchPending(ctx context.Context, before time.Time, limit int) (int, error) {
	msgs, err := d.outboxRepo.ListPending(ctx, before, limit)
	if err != nil {
		return 0, fmt.Errorf("未送信メッセージの取得に失敗: %w", err)
	}
	d.metrics.SetOutboxPending(len(msgs))
	if len(msgs) == 0 {
		return 0, nil
	}

	var (
		mu   sync.Mutex
		sent int
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, m := range msgs {
		m := m
		g.Go(func() error {
			err := d.deliver(ctx, m, before)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				sent++
			}
			return nil
		})
	}
	_ = g.Wait()
	return sent, errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, m *outbox.Message, staleBefore time.Time) error {
	kindErr := deliveryError(m.Kind)

	claimed, err := d.outboxRepo.Claim(ctx, m.ID, staleBefore)
	if err != nil {
		return fmt.Errorf("%w: %w", kindErr, err)
	}
	if !claimed {
		// 他の配信処理が取得済み
		return nil
	}

	if err := d.send(ctx, m); err != nil {
		d.metrics.ObserveDelivery(string(m.Kind), "failed")
		if rerr := d.outboxRepo.Release(context.WithoutCancel(ctx), m.ID, err.Error()); rerr != nil {
			logger.Error("アウトボックスの差し戻しに失敗",
				zap.String("message_id", m.ID),
				zap.Error(rerr),
			)
		}
		logger.Warn("副作用の配信に失敗",
			zap.String("message_id", m.ID),
			zap.String("event_id", m.AggregateID),
			zap.String("kind", string(m.Kind)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", kindErr, err)
	}

	d.metrics.ObserveDelivery(string(m.Kind), "sent")
	if err := d.outboxRepo.MarkSent(context.WithoutCancel(ctx), m.ID); err != nil {
		logger.Error("送信済みの記録に失敗",
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, m *outbox.Message) error {
	switch m.Kind {
	case outbox.KindNotification:
		n, err := m.Notification()
		if err != nil {
			return err
		}
		// 再送時に通知レコードが重複しないよう ID を固定する
		n.ID = m.ID
		return d.notifier.Notify(ctx, n)
	case outbox.KindMail:
		msg, err := m.Mail()
		if err != nil {
			return err
		}
		return d.mailer.Send(ctx, msg)
	default:
		return fmt.Errorf("%w: %s", outbox.ErrUnexpectedKind, m.Kind)
	}
}

func deliveryError(kind outbox.Kind) error {
	if kind == outbox.KindMail {
		return ErrMailFailed
	}
	return ErrNotificationFailed
}
