package event

import "errors"

// Event ドメインのエラー定義
var (
	ErrEventNotFound          = errors.New("イベントが見つかりません")
	ErrEventTitleRequired     = errors.New("イベントのタイトルは必須です")
	ErrInvalidDateRange       = errors.New("終了日時は開始日時以降である必要があります")
	ErrInvalidPoll            = errors.New("投票の選択肢は1つ以上かつラベルが重複しない必要があります")
	ErrPollNotFound           = errors.New("投票が見つかりません")
	ErrPollAlreadyAttached    = errors.New("投票は既に設定されています")
	ErrUnknownOption          = errors.New("存在しない選択肢です")
	ErrAlreadyVoted           = errors.New("既に投票済みです")
	ErrVoterRequired          = errors.New("投票者IDは必須です")
	ErrOptimisticLockConflict = errors.New("楽観的ロックの競合が発生しました")
)
