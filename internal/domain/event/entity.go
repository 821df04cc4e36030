package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event はイベント集約のルートエンティティを表す
type Event struct {
	ID           string
	Title        string
	Description  string
	Type         string
	StartDate    time.Time
	EndDate      time.Time
	Participants []string
	Photo        []string
	Poll         *Poll
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int // 楽観的ロック用
}

// NewEvent は新しいイベントを作成する
// endDate が nil の場合は startDate と同じ日時になる
func NewEvent(title, description, eventType string, startDate time.Time, endDate *time.Time, participants []string) *Event {
	now := time.Now()
	end := startDate
	if endDate != nil {
		end = *endDate
	}
	return &Event{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Type:         eventType,
		StartDate:    startDate,
		EndDate:      end,
		Participants: uniqueRefs(participants),
		Photo:        []string{},
		IsDeleted:    false,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      0,
	}
}

// Validate はイベントの検証を行う
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEventTitleRequired
	}
	if err := ValidateDateRange(e.StartDate, e.EndDate); err != nil {
		return err
	}
	if e.Poll != nil {
		return ValidatePollShape(e.Poll)
	}
	return nil
}

// HasParticipants は参加者が設定されているかを返す
func (e *Event) HasParticipants() bool {
	return len(e.Participants) > 0
}

// SetParticipants は参加者を設定する（重複は除去し順序は維持する）
func (e *Event) SetParticipants(participants []string) {
	e.Participants = uniqueRefs(participants)
}

// SetPhotos は写真の参照を置き換える
func (e *Event) SetPhotos(refs []string) {
	e.Photo = append([]string{}, refs...)
	e.UpdatedAt = time.Now()
}

// AttachPoll は投票を初めて添付する
// 呼び出し元が指定した票数・投票者は破棄され、すべての選択肢が 0 票で初期化される
func (e *Event) AttachPoll(p *Poll) error {
	if e.Poll != nil {
		return ErrPollAlreadyAttached
	}
	if err := ValidatePollShape(p); err != nil {
		return err
	}
	e.Poll = NewPoll(p.Question, p.Labels())
	e.UpdatedAt = time.Now()
	return nil
}

// Patch はイベント更新時の部分更新内容を表す
// nil のフィールドは変更しない
type Patch struct {
	Title        *string
	Description  *string
	Type         *string
	StartDate    *time.Time
	EndDate      *time.Time
	Participants []string
	Poll         *Poll
}

// Apply は部分更新を適用し、結果の日付範囲を再検証する
func (e *Event) Apply(p Patch) error {
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return ErrEventTitleRequired
		}
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.StartDate != nil {
		e.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		e.EndDate = *p.EndDate
	}
	if p.Participants != nil {
		e.SetParticipants(p.Participants)
	}
	if p.Poll != nil {
		if err := e.AttachPoll(p.Poll); err != nil {
			return err
		}
	}
	if err := ValidateDateRange(e.StartDate, e.EndDate); err != nil {
		return err
	}
	e.UpdatedAt = time.Now()
	return nil
}

// MarkDeleted はイベントを論理削除する
func (e *Event) MarkDeleted() error {
	if e.IsDeleted {
		return ErrEventNotFound
	}
	e.IsDeleted = true
	e.UpdatedAt = time.Now()
	return nil
}

// Clone はイベントの深いコピーを返す
func (e *Event) Clone() *Event {
	c := *e
	c.Participants = append([]string{}, e.Participants...)
	c.Photo = append([]string{}, e.Photo...)
	if e.Poll != nil {
		c.Poll = e.Poll.Clone()
	}
	return &c
}

func uniqueRefs(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
