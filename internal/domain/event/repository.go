package event

import (
	"context"

	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

// ListFilter は一覧取得の条件
type ListFilter struct {
	// Search はタイトルの部分一致（大文字小文字を区別しない）
	Search string
	Limit  int
	Offset int
}

// Repository はイベントリポジトリのインターフェース
type Repository interface {
	// Create は新しいイベントを作成する（トランザクション必須）
	Create(ctx context.Context, tx transaction.Tx, event *Event) error

	// GetByID はIDからイベントを取得する（論理削除済みも返す）
	GetByID(ctx context.Context, id string) (*Event, error)

	// List は論理削除されていないイベント一覧を作成日時・ID順で取得する
	List(ctx context.Context, filter ListFilter) ([]*Event, error)

	// Update はイベントを更新する（楽観的ロック、トランザクション必須）
	// 既存の投票の票数・投票者は変更しない
	Update(ctx context.Context, tx transaction.Tx, event *Event) error

	// RecordVote は投票をアトミックに記録する
	// 投票者の重複チェックと加算は同一の原子的操作で行われる
	RecordVote(ctx context.Context, eventID, label, voterID string) error
}
