package photo

import (
	"context"
	"io"
)

// CategoryEventPhoto はイベント写真の保存カテゴリ
const CategoryEventPhoto = "eventPhoto"

// File はアップロード対象のファイル
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Uploader は写真を保存し参照（URL）を返すインターフェース
type Uploader interface {
	// Upload はファイルを保存し、保存先の参照を返す
	Upload(ctx context.Context, file File, category string) (string, error)

	// Delete は Upload が返した参照のオブジェクトを削除する
	Delete(ctx context.Context, ref string) error
}
