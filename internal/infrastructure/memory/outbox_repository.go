package memory

import (
	"context"
	"time"

	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

// OutboxRepository はアウトボックスのメモリ実装
type OutboxRepository struct {
	store *Store
}

func NewOutboxRepository(s *Store) *OutboxRepository {
	return &OutboxRepository{store: s}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, tx transaction.Tx, msgs ...*outbox.Message) error {
	t, err := r.store.unwrap(tx)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		stored := copyMessage(m)
		err := t.stage(op{
			check: func() error {
				if _, exists := r.store.messages[stored.ID]; exists {
					return ErrDuplicateKey
				}
				return nil
			},
			apply: func() {
				r.store.messages[stored.ID] = stored
				r.store.messageOrder = append(r.store.messageOrder, stored.ID)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *OutboxRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*outbox.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := []*outbox.Message{}
	for _, id := range r.store.messageOrder {
		m := r.store.messages[id]
		if m.Status == outbox.StatusSent || !m.UpdatedAt.Before(before) {
			continue
		}
		out = append(out, copyMessage(m))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) Claim(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[id]
	if !ok {
		return false, outbox.ErrMessageNotFound
	}
	claimable := m.Status == outbox.StatusPending ||
		(m.Status == outbox.StatusProcessing && m.UpdatedAt.Before(staleBefore))
	if !claimable {
		return false, nil
	}
	m.Status = outbox.StatusProcessing
	m.Attempts++
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[id]
	if !ok {
		return outbox.ErrMessageNotFound
	}
	now := time.Now()
	m.Status = outbox.StatusSent
	m.UpdatedAt = now
	m.SentAt = &now
	m.LastError = ""
	return nil
}

func (r *OutboxRepository) Release(ctx context.Context, id string, cause string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[id]
	if !ok {
		return outbox.ErrMessageNotFound
	}
	m.Status = outbox.StatusPending
	m.LastError = cause
	m.UpdatedAt = time.Now()
	return nil
}

// Messages は記録順にすべてのメッセージを返す
func (r *OutboxRepository) Messages() []*outbox.Message {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*outbox.Message, 0, len(r.store.messageOrder))
	for _, id := range r.store.messageOrder {
		out = append(out, copyMessage(r.store.messages[id]))
	}
	return out
}

func copyMessage(m *outbox.Message) *outbox.Message {
	c := *m
	c.Payload = append([]byte{}, m.Payload...)
	if m.SentAt != nil {
		at := *m.SentAt
		c.SentAt = &at
	}
	return &c
}

var _ outbox.Repository = (*OutboxRepository)(nil)
