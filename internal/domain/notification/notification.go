package notification

import (
	"context"
	"time"
)

// Type は通知の種別
type Type string

const TypeEvent Type = "EVENT"

// Notification は通知レコードを表す
// 一度書き込まれた後は変更されない
type Notification struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      Type      `json:"type"`
	SubjectID string    `json:"subject_id"`
	Timestamp time.Time `json:"timestamp"`
}

// New は通知を作成する
func New(title, body string, typ Type, subjectID string, at time.Time) Notification {
	return Notification{
		Title:     title,
		Body:      body,
		Type:      typ,
		SubjectID: subjectID,
		Timestamp: at,
	}
}

// Notifier は通知を記録・配信するインターフェース
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Repository は通知レコードの永続化インターフェース
type Repository interface {
	// Save は通知を保存し ID を設定する
	Save(ctx context.Context, n *Notification) error
}
