package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

const outboxColumns = `id, aggregate_id, kind, payload, status, attempts, last_error, created_at, updated_at, sent_at`

type outboxRow struct {
	ID          string       `db:"id"`
	AggregateID string       `db:"aggregate_id"`
	Kind        string       `db:"kind"`
	Payload     []byte       `db:"payload"`
	Status      string       `db:"status"`
	Attempts    int          `db:"attempts"`
	LastError   string       `db:"last_error"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
	SentAt      sql.NullTime `db:"sent_at"`
}

func (r *outboxRow) toEntity() *outbox.Message {
	m := &outbox.Message{
		ID:          r.ID,
		AggregateID: r.AggregateID,
		Kind:        outbox.Kind(r.Kind),
		Payload:     r.Payload,
		Status:      outbox.Status(r.Status),
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.SentAt.Valid {
		at := r.SentAt.Time
		m.SentAt = &at
	}
	return m
}

// OutboxRepository はアウトボックスのPostgreSQL実装
type OutboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue はイベントの変更と同じトランザクションでメッセージを記録する
func (r *OutboxRepository) Enqueue(ctx context.Context, tx transaction.Tx, msgs ...*outbox.Message) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO outbox (` + outboxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, m := range msgs {
		_, err := sqlTx.ExecContext(ctx, query,
			m.ID, m.AggregateID, string(m.Kind), string(m.Payload), string(m.Status),
			m.Attempts, m.LastError, m.CreatedAt, m.UpdatedAt, m.SentAt,
		)
		if err != nil {
			return fmt.Errorf("アウトボックスへの記録に失敗しました: %w", err)
		}
	}
	return nil
}

// ListPending は updated_at が before より古い未送信メッセージを作成順に取得する
func (r *OutboxRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*outbox.Message, error) {
	query := `
		SELECT ` + outboxColumns + ` FROM outbox
		WHERE status <> 'sent' AND updated_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	var rows []outboxRow
	if err := r.db.SelectContext(ctx, &rows, query, before, limit); err != nil {
		return nil, fmt.Errorf("未送信メッセージの取得に失敗しました: %w", err)
	}

	msgs := make([]*outbox.Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].toEntity()
	}
	return msgs, nil
}

// Claim はメッセージを処理中にする
// 条件付き UPDATE により、同時に複数のワーカーが同じメッセージを取得することはない
func (r *OutboxRepository) Claim(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND (status = 'pending' OR (status = 'processing' AND updated_at < $2))
	`, id, staleBefore)
	if err != nil {
		return false, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の確認に失敗しました: %w", err)
	}
	if rowsAffected == 1 {
		return true, nil
	}

	if err := r.ensureExists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkSent はメッセージを送信済みにする
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.updateStatus(ctx, `
		UPDATE outbox
		SET status = 'sent', last_error = '', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
}

// Release は送信に失敗したメッセージを pending に戻す
func (r *OutboxRepository) Release(ctx context.Context, id string, cause string) error {
	return r.updateStatus(ctx, `
		UPDATE outbox
		SET status = 'pending', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, cause)
}

func (r *OutboxRepository) updateStatus(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("メッセージの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の確認に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return outbox.ErrMessageNotFound
	}
	return nil
}

func (r *OutboxRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM outbox WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("メッセージの確認に失敗しました: %w", err)
	}
	if !exists {
		return outbox.ErrMessageNotFound
	}
	return nil
}

var _ outbox.Repository = (*OutboxRepository)(nil)
