package outbox

import "errors"

// Outbox のエラー定義
var (
	ErrMessageNotFound = errors.New("アウトボックスのメッセージが見つかりません")
	ErrUnexpectedKind  = errors.New("想定外のメッセージ種別です")
)
