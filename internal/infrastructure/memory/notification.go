package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
)

// NotificationRepository は通知レコードのメモリ実装
type NotificationRepository struct {
	store *Store
}

func NewNotificationRepository(s *Store) *NotificationRepository {
	return &NotificationRepository{store: s}
}

// Save は通知を保存する。同じ ID の通知は上書きしない
func (r *NotificationRepository) Save(ctx context.Context, n *notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.notifications[n.ID]; !exists {
		r.store.notifications[n.ID] = *n
	}
	return nil
}

// List は記録された通知を時刻順に返す
func (r *NotificationRepository) List() []notification.Notification {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]notification.Notification, 0, len(r.store.notifications))
	for _, n := range r.store.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Notifier は通知を記録するだけの Notifier（ブローカーを使わない構成用）
type Notifier struct {
	repo notification.Repository
}

func NewNotifier(repo notification.Repository) *Notifier {
	return &Notifier{repo: repo}
}

func (n *Notifier) Notify(ctx context.Context, msg notification.Notification) error {
	if err := n.repo.Save(ctx, &msg); err != nil {
		return err
	}
	logger.Debug("通知を記録しました",
		zap.String("notification_id", msg.ID),
		zap.String("title", msg.Title),
	)
	return nil
}

var (
	_ notification.Repository = (*NotificationRepository)(nil)
	_ notification.Notifier   = (*Notifier)(nil)
)
