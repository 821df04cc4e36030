package event

import (
	"strings"
	"time"
)

// Poll はイベントに埋め込まれる投票を表す
type Poll struct {
	Question string
	Options  []PollOption
}

// PollOption は投票の選択肢
type PollOption struct {
	Label  string
	Votes  int
	Voters []string
}

// NewPoll はすべての選択肢を 0 票で初期化した投票を作成する
func NewPoll(question string, labels []string) *Poll {
	options := make([]PollOption, len(labels))
	for i, label := range labels {
		options[i] = PollOption{
			Label:  strings.TrimSpace(label),
			Votes:  0,
			Voters: []string{},
		}
	}
	return &Poll{Question: question, Options: options}
}

// Labels は選択肢のラベルを順序通りに返す
func (p *Poll) Labels() []string {
	labels := make([]string, len(p.Options))
	for i, o := range p.Options {
		labels[i] = o.Label
	}
	return labels
}

// HasVoted は投票者がいずれかの選択肢に投票済みかを返す
func (p *Poll) HasVoted(voterID string) bool {
	for _, o := range p.Options {
		for _, v := range o.Voters {
			if v == voterID {
				return true
			}
		}
	}
	return false
}

// OptionIndex はラベルに一致する選択肢の位置を返す
func (p *Poll) OptionIndex(label string) (int, bool) {
	label = strings.TrimSpace(label)
	for i, o := range p.Options {
		if o.Label == label {
			return i, true
		}
	}
	return -1, false
}

// TotalVotes は総投票数を返す
func (p *Poll) TotalVotes() int {
	total := 0
	for _, o := range p.Options {
		total += o.Votes
	}
	return total
}

// RecordVote は 1 票を記録する
// 呼び出し元は集約全体に対して排他制御を行うこと
func (p *Poll) RecordVote(label, voterID string) error {
	if strings.TrimSpace(voterID) == "" {
		return ErrVoterRequired
	}
	idx, ok := p.OptionIndex(label)
	if !ok {
		return ErrUnknownOption
	}
	if p.HasVoted(voterID) {
		return ErrAlreadyVoted
	}
	p.Options[idx].Votes++
	p.Options[idx].Voters = append(p.Options[idx].Voters, voterID)
	return nil
}

// Clone は投票の深いコピーを返す
func (p *Poll) Clone() *Poll {
	c := &Poll{Question: p.Question, Options: make([]PollOption, len(p.Options))}
	for i, o := range p.Options {
		c.Options[i] = PollOption{
			Label:  o.Label,
			Votes:  o.Votes,
			Voters: append([]string{}, o.Voters...),
		}
	}
	return c
}

// ValidateDateRange は終了日時が開始日時より前でないことを検証する
func ValidateDateRange(start, end time.Time) error {
	if end.Before(start) {
		return ErrInvalidDateRange
	}
	return nil
}

// ValidatePollShape は選択肢が 1 つ以上あり、ラベルが重複していないことを検証する
func ValidatePollShape(p *Poll) error {
	if p == nil || len(p.Options) == 0 {
		return ErrInvalidPoll
	}
	seen := make(map[string]struct{}, len(p.Options))
	for _, o := range p.Options {
		label := strings.TrimSpace(o.Label)
		if label == "" {
			return ErrInvalidPoll
		}
		if _, dup := seen[label]; dup {
			return ErrInvalidPoll
		}
		seen[label] = struct{}{}
	}
	return nil
}
