package user

import "context"

// Directory はユーザー一覧を提供するインターフェース
type Directory interface {
	// ListActiveUsers はアクティブなユーザーの参照（ID）を返す
	ListActiveUsers(ctx context.Context) ([]string, error)
}
