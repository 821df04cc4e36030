package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/domain/mail"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
)

// Mailbox は送信依頼を保持するだけの Mailer
type Mailbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

func (m *Mailbox) Send(ctx context.Context, msg mail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	logger.Debug("メール送信を受け付けました",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// Sent は受け付けたメールを順に返す
func (m *Mailbox) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message{}, m.sent...)
}

var _ mail.Mailer = (*Mailbox)(nil)
