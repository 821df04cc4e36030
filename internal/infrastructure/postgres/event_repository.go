package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

const eventColumns = `id, title, description, type, start_date, end_date, participants, photos, poll_question, is_deleted, version, created_at, updated_at`

// eventRow はDBの行を表す構造体
type eventRow struct {
	ID           string         `db:"id"`
	Title        string         `db:"title"`
	Description  string         `db:"description"`
	Type         string         `db:"type"`
	StartDate    time.Time      `db:"start_date"`
	EndDate      time.Time      `db:"end_date"`
	Participants pq.StringArray `db:"participants"`
	Photos       pq.StringArray `db:"photos"`
	PollQuestion *string        `db:"poll_question"`
	IsDeleted    bool           `db:"is_deleted"`
	Version      int            `db:"version"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

type pollOptionRow struct {
	EventID string `db:"event_id"`
	Label   string `db:"label"`
	Votes   int    `db:"votes"`
}

type pollVoteRow struct {
	EventID string `db:"event_id"`
	Label   string `db:"option_label"`
	VoterID string `db:"voter_id"`
}

// toEntity はeventRowをEventエンティティに変換する
func (r *eventRow) toEntity() *event.Event {
	return &event.Event{
		ID:           r.ID,
		Title:        r.Title,
		Description:  r.Description,
		Type:         r.Type,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		Participants: append([]string{}, r.Participants...),
		Photo:        append([]string{}, r.Photos...),
		IsDeleted:    r.IsDeleted,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Version:      r.Version,
	}
}

// EventRepository はイベントリポジトリのPostgreSQL実装
type EventRepository struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create は新しいイベントと投票の選択肢を作成する
func (r *EventRepository) Create(ctx context.Context, tx transaction.Tx, e *event.Event) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = sqlTx.ExecContext(ctx, query,
		e.ID, e.Title, e.Description, e.Type, e.StartDate, e.EndDate,
		pq.Array(e.Participants), pq.Array(e.Photo), pollQuestion(e.Poll),
		e.IsDeleted, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("イベントIDが重複しています: %w", err)
		}
		return fmt.Errorf("イベント作成に失敗しました: %w", err)
	}

	if e.Poll != nil {
		if err := insertPollOptions(ctx, sqlTx, e.ID, e.Poll); err != nil {
			return err
		}
	}
	return nil
}

// GetByID はIDからイベントを取得する（論理削除済みも返す）
func (r *EventRepository) GetByID(ctx context.Context, id string) (*event.Event, error) {
	if uuid.Validate(id) != nil {
		return nil, event.ErrEventNotFound
	}

	var row eventRow
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, event.ErrEventNotFound
		}
		return nil, fmt.Errorf("イベント取得に失敗しました: %w", err)
	}

	events, err := r.attachPolls(ctx, []eventRow{row})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

// List は論理削除されていないイベントを作成日時・ID順で取得する
func (r *EventRepository) List(ctx context.Context, filter event.ListFilter) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE is_deleted = FALSE`
	args := []any{}
	if filter.Search != "" {
		args = append(args, escapeLike(filter.Search))
		query += fmt.Sprintf(` AND title ILIKE '%%' || $%d || '%%' ESCAPE '\'`, len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("イベント一覧取得に失敗しました: %w", err)
	}
	return r.attachPolls(ctx, rows)
}

// Update はイベントを更新する（楽観的ロック）
// 投票は未設定の場合のみ追加され、既存の票数・投票者は変更しない
func (r *EventRepository) Update(ctx context.Context, tx transaction.Tx, e *event.Event) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE events
		SET title = $1, description = $2, type = $3, start_date = $4, end_date = $5,
		    participants = $6, photos = $7, poll_question = COALESCE(poll_question, $8),
		    is_deleted = $9, updated_at = $10, version = version + 1
		WHERE id = $11 AND version = $12 AND is_deleted = FALSE
	`
	result, err := sqlTx.ExecContext(ctx, query,
		e.Title, e.Description, e.Type, e.StartDate, e.EndDate,
		pq.Array(e.Participants), pq.Array(e.Photo), pollQuestion(e.Poll),
		e.IsDeleted, e.UpdatedAt, e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("イベント更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の確認に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		var deleted bool
		err := sqlTx.GetContext(ctx, &deleted, `SELECT is_deleted FROM events WHERE id = $1`, e.ID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
			return event.ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("更新結果の確認に失敗しました: %w", err)
		}
		return event.ErrOptimisticLockConflict
	}

	if e.Poll != nil {
		if err := insertPollOptions(ctx, sqlTx, e.ID, e.Poll); err != nil {
			return err
		}
	}

	e.Version++
	return nil
}

// RecordVote は投票を1つのトランザクションで記録する
// poll_votes の主キーで同じ投票者の重複を防ぎ、票数は UPDATE で加算する
func (r *EventRepository) RecordVote(ctx context.Context, eventID, label, voterID string) error {
	if uuid.Validate(eventID) != nil {
		return event.ErrEventNotFound
	}
	if strings.TrimSpace(voterID) == "" {
		return event.ErrVoterRequired
	}
	label = strings.TrimSpace(label)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	var question sql.NullString
	err = tx.GetContext(ctx, &question,
		`SELECT poll_question FROM events WHERE id = $1 AND is_deleted = FALSE FOR SHARE`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.ErrEventNotFound
		}
		return fmt.Errorf("イベント取得に失敗しました: %w", err)
	}
	if !question.Valid {
		return event.ErrPollNotFound
	}

	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM poll_options WHERE event_id = $1 AND label = $2)`, eventID, label)
	if err != nil {
		return fmt.Errorf("選択肢の確認に失敗しました: %w", err)
	}
	if !exists {
		return event.ErrUnknownOption
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO poll_votes (event_id, voter_id, option_label)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, voter_id) DO NOTHING
	`, eventID, voterID, label)
	if err != nil {
		return fmt.Errorf("投票の記録に失敗しました: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("投票結果の確認に失敗しました: %w", err)
	}
	if inserted == 0 {
		return event.ErrAlreadyVoted
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE poll_options SET votes = votes + 1 WHERE event_id = $1 AND label = $2`, eventID, label); err != nil {
		return fmt.Errorf("票数の更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// attachPolls は行をエンティティに変換し、投票の選択肢と投票者を読み込む
func (r *EventRepository) attachPolls(ctx context.Context, rows []eventRow) ([]*event.Event, error) {
	events := make([]*event.Event, len(rows))
	byID := make(map[string]*event.Event, len(rows))
	var withPoll []string
	for i := range rows {
		e := rows[i].toEntity()
		if rows[i].PollQuestion != nil {
			e.Poll = &event.Poll{Question: *rows[i].PollQuestion, Options: []event.PollOption{}}
			withPoll = append(withPoll, e.ID)
		}
		events[i] = e
		byID[e.ID] = e
	}
	if len(withPoll) == 0 {
		return events, nil
	}

	var options []pollOptionRow
	err := r.db.SelectContext(ctx, &options, `
		SELECT event_id, label, votes FROM poll_options
		WHERE event_id = ANY($1) ORDER BY event_id, position
	`, pq.Array(withPoll))
	if err != nil {
		return nil, fmt.Errorf("投票の選択肢取得に失敗しました: %w", err)
	}
	for _, o := range options {
		p := byID[o.EventID].Poll
		p.Options = append(p.Options, event.PollOption{Label: o.Label, Votes: o.Votes, Voters: []string{}})
	}

	var votes []pollVoteRow
	err = r.db.SelectContext(ctx, &votes, `
		SELECT event_id, option_label, voter_id FROM poll_votes
		WHERE event_id = ANY($1) ORDER BY created_at, voter_id
	`, pq.Array(withPoll))
	if err != nil {
		return nil, fmt.Errorf("投票者の取得に失敗しました: %w", err)
	}
	for _, v := range votes {
		p := byID[v.EventID].Poll
		if idx, ok := p.OptionIndex(v.Label); ok {
			p.Options[idx].Voters = append(p.Options[idx].Voters, v.VoterID)
		}
	}
	return events, nil
}

func insertPollOptions(ctx context.Context, tx *sqlx.Tx, eventID string, p *event.Poll) error {
	for i, o := range p.Options {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO poll_options (event_id, position, label, votes)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (event_id, label) DO NOTHING
		`, eventID, i, o.Label, o.Votes)
		if err != nil {
			return fmt.Errorf("投票の選択肢作成に失敗しました: %w", err)
		}
	}
	return nil
}

func pollQuestion(p *event.Poll) *string {
	if p == nil {
		return nil
	}
	q := p.Question
	return &q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike は LIKE のワイルドカードを文字として扱うようにエスケープする
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// インターフェースを満たしているか確認
var _ event.Repository = (*EventRepository)(nil)
