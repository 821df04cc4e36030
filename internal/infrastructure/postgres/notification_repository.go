package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-event-board/internal/domain/notification"
)

// NotificationRepository は通知レコードのPostgreSQL実装
type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Save は通知を保存する。同じ ID の通知がすでにある場合は何もしない
func (r *NotificationRepository) Save(ctx context.Context, n *notification.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, title, body, type, subject_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.Title, n.Body, string(n.Type), n.SubjectID, n.Timestamp)
	if err != nil {
		return fmt.Errorf("通知の保存に失敗しました: %w", err)
	}
	return nil
}

// ListBySubject は対象IDに紐づく通知を時刻順に取得する
func (r *NotificationRepository) ListBySubject(ctx context.Context, subjectID string) ([]notification.Notification, error) {
	var rows []struct {
		ID        string    `db:"id"`
		Title     string    `db:"title"`
		Body      string    `db:"body"`
		Type      string    `db:"type"`
		SubjectID string    `db:"subject_id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, title, body, type, subject_id, created_at FROM notifications
		WHERE subject_id = $1 ORDER BY created_at, id
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}

	out := make([]notification.Notification, len(rows))
	for i, row := range rows {
		out[i] = notification.Notification{
			ID:        row.ID,
			Title:     row.Title,
			Body:      row.Body,
			Type:      notification.Type(row.Type),
			SubjectID: row.SubjectID,
			Timestamp: row.CreatedAt,
		}
	}
	return out, nil
}

var _ notification.Repository = (*NotificationRepository)(nil)
