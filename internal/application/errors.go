package application

import "errors"

// 副作用・永続化の失敗種別
// いずれも ErrPersistenceConflict でもラップされて返される
var (
	ErrUploadFailed         = errors.New("写真のアップロードに失敗しました")
	ErrNotificationFailed   = errors.New("通知の送信に失敗しました")
	ErrMailFailed           = errors.New("メールの送信に失敗しました")
	ErrDirectoryUnavailable = errors.New("ユーザー一覧を取得できませんでした")
	ErrPersistenceConflict  = errors.New("イベントの保存に失敗しました")
	ErrEventBusy            = errors.New("イベントが他のリクエストによって更新中です")
)
