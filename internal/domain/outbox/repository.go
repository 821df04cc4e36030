package outbox

import (
	"context"
	"time"

	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

// Repository はアウトボックスのインターフェース
type Repository interface {
	// Enqueue はメッセージを記録する（トランザクション必須）
	Enqueue(ctx context.Context, tx transaction.Tx, msgs ...*Message) error

	// ListPending は updated_at が before より古い未送信メッセージを作成順に取得する
	ListPending(ctx context.Context, before time.Time, limit int) ([]*Message, error)

	// Claim はメッセージを処理中にする
	// pending のもの、または staleBefore より前から processing のままのものだけを取得できる
	Claim(ctx context.Context, id string, staleBefore time.Time) (bool, error)

	// MarkSent はメッセージを送信済みにする
	MarkSent(ctx context.Context, id string) error

	// Release は送信に失敗したメッセージを pending に戻す
	Release(ctx context.Context, id string, cause string) error
}
