package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-event-board/internal/domain/user"
)

// UserDirectory は users テーブルからアクティブなユーザーを取得する
type UserDirectory struct {
	db *sqlx.DB
}

func NewUserDirectory(db *sqlx.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

func (d *UserDirectory) ListActiveUsers(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := d.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE is_active ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}

var _ user.Directory = (*UserDirectory)(nil)
