package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
)

// Notifier は通知レコードを保存してから購読者へ配信する
type Notifier struct {
	repo      notification.Repository
	publisher Publisher
	exchange  string
}

func NewNotifier(repo notification.Repository, publisher Publisher, exchange string) *Notifier {
	return &Notifier{repo: repo, publisher: publisher, exchange: exchange}
}

func (n *Notifier) Notify(ctx context.Context, msg notification.Notification) error {
	if err := n.repo.Save(ctx, &msg); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("通知のエンコードに失敗: %w", err)
	}
	if err := n.publisher.Publish(ctx, n.exchange, msg.ID, body); err != nil {
		return fmt.Errorf("通知の配信に失敗: %w", err)
	}

	logger.Debug("通知を配信しました",
		zap.String("notification_id", msg.ID),
		zap.String("exchange", n.exchange),
	)
	return nil
}

var _ notification.Notifier = (*Notifier)(nil)
