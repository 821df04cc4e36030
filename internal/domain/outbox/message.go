package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sanosuguru/go-event-board/internal/domain/mail"
	"github.com/sanosuguru/go-event-board/internal/domain/notification"
)

// Kind は副作用の種別
type Kind string

const (
	KindNotification Kind = "notification"
	KindMail         Kind = "mail"
)

// Status は配信状態
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
)

// Message はイベントの変更と同一トランザクションで記録される副作用
type Message struct {
	ID          string
	AggregateID string
	Kind        Kind
	Payload     []byte
	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      *time.Time
}

func newMessage(aggregateID string, kind Kind, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ペイロードのエンコードに失敗: %w", err)
	}
	now := time.Now()
	return &Message{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Kind:        kind,
		Payload:     body,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewNotificationMessage は通知の送信メッセージを作成する
func NewNotificationMessage(n notification.Notification) (*Message, error) {
	return newMessage(n.SubjectID, KindNotification, n)
}

// NewMailMessage はメールの送信メッセージを作成する
func NewMailMessage(aggregateID string, m mail.Message) (*Message, error) {
	return newMessage(aggregateID, KindMail, m)
}

// Notification はペイロードを通知として復元する
func (m *Message) Notification() (notification.Notification, error) {
	var n notification.Notification
	if m.Kind != KindNotification {
		return n, fmt.Errorf("%w: %s", ErrUnexpectedKind, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &n); err != nil {
		return n, fmt.Errorf("通知のデコードに失敗: %w", err)
	}
	return n, nil
}

// Mail はペイロードをメールとして復元する
func (m *Message) Mail() (mail.Message, error) {
	var msg mail.Message
	if m.Kind != KindMail {
		return msg, fmt.Errorf("%w: %s", ErrUnexpectedKind, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &msg); err != nil {
		return msg, fmt.Errorf("メールのデコードに失敗: %w", err)
	}
	return msg, nil
}
