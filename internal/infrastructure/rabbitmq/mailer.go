package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sanosuguru/go-event-board/internal/domain/mail"
)

// Mailer はメール送信の依頼をメール配信サービス向けのエクスチェンジへ送る
type Mailer struct {
	publisher Publisher
	exchange  string
}

func NewMailer(publisher Publisher, exchange string) *Mailer {
	return &Mailer{publisher: publisher, exchange: exchange}
}

func (m *Mailer) Send(ctx context.Context, msg mail.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("メールのエンコードに失敗: %w", err)
	}
	if err := m.publisher.Publish(ctx, m.exchange, uuid.NewString(), body); err != nil {
		return fmt.Errorf("メール送信の依頼に失敗: %w", err)
	}
	return nil
}

var _ mail.Mailer = (*Mailer)(nil)
