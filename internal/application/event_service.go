package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/mail"
	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/photo"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
	"github.com/sanosuguru/go-event-board/internal/domain/user"
	redisinfra "github.com/sanosuguru/go-event-board/internal/infrastructure/redis"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
	"github.com/sanosuguru/go-event-board/internal/pkg/metrics"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	eventLockTTL        = 10 * time.Second
	eventLockRetries    = 3
	eventLockRetryDelay = 100 * time.Millisecond

	mailTemplateEvent = "event"
)

type EventService struct {
	txManager   transaction.Manager
	eventRepo   event.Repository
	uploader    photo.Uploader
	directory   user.Directory
	dispatcher  *Dispatcher
	cache       *redisinfra.EventCache
	lockManager *redisinfra.LockManager
	metrics     *metrics.Metrics
}

// EventServiceOption は任意の依存を設定する
type EventServiceOption func(*EventService)

// WithCache は詳細取得の読み取りキャッシュを設定する
func WithCache(c *redisinfra.EventCache) EventServiceOption {
	return func(s *EventService) { s.cache = c }
}

// WithLockManager は更新・削除時のイベント単位ロックを設定する
func WithLockManager(lm *redisinfra.LockManager) EventServiceOption {
	return func(s *EventService) { s.lockManager = lm }
}

func WithMetrics(m *metrics.Metrics) EventServiceOption {
	return func(s *EventService) { s.metrics = m }
}

func NewEventService(tm transaction.Manager, er event.Repository, up photo.Uploader, dir user.Directory, d *Dispatcher, opts ...EventServiceOption) *EventService {
	s := &EventService{
		txManager:  tm,
		eventRepo:  er,
		uploader:   up,
		directory:  dir,
		dispatcher: d,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateEventInput struct {
	Title        string
	Description  string
	Type         string
	StartDate    time.Time
	EndDate      *time.Time
	Participants []string
	Poll         *event.Poll
	Photos       []photo.File
}

// CreateEvent はイベントを作成し、作成通知とメールを送信する
// 参加者が空の場合はアクティブな全ユーザーが参加者になる
func (s *EventService) CreateEvent(ctx context.Context, input CreateEventInput) (*event.Event, error) {
	e := event.NewEvent(input.Title, input.Description, input.Type, input.StartDate, input.EndDate, input.Participants)
	if err := e.Validate(); err != nil {
		s.metrics.ObserveEventOperation("create", "invalid")
		return nil, fmt.Errorf("バリデーションエラー: %w", err)
	}
	if input.Poll != nil {
		if err := e.AttachPoll(input.Poll); err != nil {
			s.metrics.ObserveEventOperation("create", "invalid")
			return nil, fmt.Errorf("バリデーションエラー: %w", err)
		}
	}

	if !e.HasParticipants() {
		users, err := s.defaultParticipants(ctx)
		if err != nil {
			s.metrics.ObserveEventOperation("create", "error")
			return nil, err
		}
		e.SetParticipants(users)
	}

	refs, err := s.uploadPhotos(ctx, input.Photos)
	if err != nil {
		s.metrics.ObserveEventOperation("create", "error")
		return nil, err
	}
	if len(refs) > 0 {
		e.Photo = refs
	}

	msgs, err := createdMessages(e)
	if err != nil {
		s.discardPhotos(ctx, refs)
		return nil, err
	}

	err = transaction.Run(ctx, s.txManager, func(tx transaction.Tx) error {
		if err := s.eventRepo.Create(ctx, tx, e); err != nil {
			return err
		}
		return s.dispatcher.Enqueue(ctx, tx, msgs...)
	})
	if err != nil {
		s.discardPhotos(ctx, refs)
		s.metrics.ObserveEventOperation("create", "conflict")
		return nil, fmt.Errorf("%w: %w", ErrPersistenceConflict, err)
	}

	if err := s.dispatcher.Deliver(ctx, msgs); err != nil {
		s.metrics.ObserveEventOperation("create", "side_effect_failed")
		logger.Error("イベント作成後の副作用に失敗",
			zap.String("event_id", e.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrPersistenceConflict, err)
	}

	s.metrics.ObserveEventOperation("create", "success")
	logger.Info("イベントを作成しました",
		zap.String("event_id", e.ID),
		zap.Int("participants", len(e.Participants)),
		zap.Int("photos", len(e.Photo)),
	)
	return e, nil
}

// GetEvent は論理削除されていないイベントを取得する
func (s *EventService) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			logger.Warn("キャッシュ取得に失敗", zap.String("event_id", id), zap.Error(err))
		}
	}

	// 読み取り中に無効化された場合に古い内容を保存しないよう、先に世代番号を取得する
	var generation int64
	cacheable := s.cache != nil
	if cacheable {
		gen, err := s.cache.Generation(ctx, id)
		if err != nil {
			logger.Warn("キャッシュ世代の取得に失敗", zap.String("event_id", id), zap.Error(err))
			cacheable = false
		}
		generation = gen
	}

	e, err := s.findActive(ctx, id)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if _, err := s.cache.Set(ctx, e, generation); err != nil {
			logger.Warn("キャッシュ保存に失敗", zap.String("event_id", id), zap.Error(err))
		}
	}
	return e, nil
}

type ListEventsInput struct {
	Search string
	Limit  int
	Offset int
}

func (s *EventService) ListEvents(ctx context.Context, input ListEventsInput) ([]*event.Event, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	return s.eventRepo.List(ctx, event.ListFilter{
		Search: strings.TrimSpace(input.Search),
		Limit:  limit,
		Offset: offset,
	})
}

// UpdateEventInput は部分更新の内容
// nil のフィールドは変更しない。Photos を指定した場合は既存の写真を置き換える
type UpdateEventInput struct {
	ID           string
	Title        *string
	Description  *string
	Type         *string
	StartDate    *time.Time
	EndDate      *time.Time
	Participants []string
	Poll         *event.Poll
	Photos       []photo.File
}

func (s *EventService) UpdateEvent(ctx context.Context, input UpdateEventInput) (*event.Event, error) {
	unlock, err := s.lockEvent(ctx, input.ID)
	if err != nil {
		s.metrics.ObserveEventOperation("update", "conflict")
		return nil, err
	}
	defer unlock()

	current, err := s.findActive(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	e := current.Clone()
	if err := e.Apply(event.Patch{
		Title:        input.Title,
		Description:  input.Description,
		Type:         input.Type,
		StartDate:    input.StartDate,
		EndDate:      input.EndDate,
		Participants: input.Participants,
		Poll:         input.Poll,
	}); err != nil {
		s.metrics.ObserveEventOperation("update", "invalid")
		return nil, fmt.Errorf("バリデーションエラー: %w", err)
	}

	refs, err := s.uploadPhotos(ctx, input.Photos)
	if err != nil {
		s.metrics.ObserveEventOperation("update", "error")
		return nil, err
	}
	if len(refs) > 0 {
		e.SetPhotos(refs)
	}

	n := notification.New("Event Updated", fmt.Sprintf("Event %s has been updated", e.Title), notification.TypeEvent, e.ID, time.Now())
	msg, err := outbox.NewNotificationMessage(n)
	if err != nil {
		s.discardPhotos(ctx, refs)
		return nil, err
	}
	msgs := []*outbox.Message{msg}

	err = transaction.Run(ctx, s.txManager, func(tx transaction.Tx) error {
		if err := s.eventRepo.Update(ctx, tx, e); err != nil {
			return err
		}
		return s.dispatcher.Enqueue(ctx, tx, msgs...)
	})
	if err != nil {
		s.discardPhotos(ctx, refs)
		s.metrics.ObserveEventOperation("update", "conflict")
		return nil, fmt.Errorf("%w: %w", ErrPersistenceConflict, err)
	}
	s.invalidate(ctx, e.ID)

	if err := s.dispatcher.Deliver(ctx, msgs); err != nil {
		s.metrics.ObserveEventOperation("update", "side_effect_failed")
		logger.Error("イベント更新後の通知に失敗", zap.String("event_id", e.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistenceConflict, err)
	}

	s.metrics.ObserveEventOperation("update", "success")
	return e, nil
}

// RemoveEvent はイベントを論理削除する（レコードは保持される）
func (s *EventService) RemoveEvent(ctx context.Context, id string) error {
	unlock, err := s.lockEvent(ctx, id)
	if err != nil {
		s.metrics.ObserveEventOperation("remove", "conflict")
		return err
	}
	defer unlock()

	current, err := s.findActive(ctx, id)
	if err != nil {
		return err
	}
	e := current.Clone()
	if err := e.MarkDeleted(); err != nil {
		return err
	}

	n := notification.New("Event Deleted", fmt.Sprintf("Event %s has been deleted", e.Title), notification.TypeEvent, e.ID, time.Now())
	msg, err := outbox.NewNotificationMessage(n)
	if err != nil {
		return err
	}
	msgs := []*outbox.Message{msg}

	err = transaction.Run(ctx, s.txManager, func(tx transaction.Tx) error {
		if err := s.eventRepo.Update(ctx, tx, e); err != nil {
			return err
		}
		return s.dispatcher.Enqueue(ctx, tx, msgs...)
	})
	if err != nil {
		s.metrics.ObserveEventOperation("remove", "conflict")
		return fmt.Errorf("%w: %w", ErrPersistenceConflict, err)
	}
	s.invalidate(ctx, id)

	if err := s.dispatcher.Deliver(ctx, msgs); err != nil {
		s.metrics.ObserveEventOperation("remove", "side_effect_failed")
		logger.Error("イベント削除後の通知に失敗", zap.String("event_id", id), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistenceConflict, err)
	}

	s.metrics.ObserveEventOperation("remove", "success")
	return nil
}

type RecordVoteInput struct {
	EventID string
	Option  string
	VoterID string
}

// RecordVote は投票を記録し、更新後のイベントを返す
// 同じ投票者による2回目の投票は ErrAlreadyVoted になる
func (s *EventService) RecordVote(ctx context.Context, input RecordVoteInput) (*event.Event, error) {
	if strings.TrimSpace(input.VoterID) == "" {
		s.metrics.ObserveVote(voteStatus(event.ErrVoterRequired))
		return nil, event.ErrVoterRequired
	}
	if err := s.eventRepo.RecordVote(ctx, input.EventID, strings.TrimSpace(input.Option), input.VoterID); err != nil {
		s.metrics.ObserveVote(voteStatus(err))
		return nil, err
	}
	s.metrics.ObserveVote("success")
	s.invalidate(ctx, input.EventID)

	return s.findActive(ctx, input.EventID)
}

func (s *EventService) findActive(ctx context.Context, id string) (*event.Event, error) {
	e, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsDeleted {
		return nil, event.ErrEventNotFound
	}
	return e, nil
}

func (s *EventService) defaultParticipants(ctx context.Context) ([]string, error) {
	users, err := s.directory.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrPersistenceConflict, ErrDirectoryUnavailable, err)
	}
	return users, nil
}

// uploadPhotos はファイルを順にアップロードする
// 途中で失敗した場合はアップロード済みのファイルを削除する
func (s *EventService) uploadPhotos(ctx context.Context, files []photo.File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.uploader == nil {
		return nil, fmt.Errorf("%w: %w: 写真の保存先が設定されていません", ErrPersistenceConflict, ErrUploadFailed)
	}
	refs := make([]string, 0, len(files))
	for _, f := range files {
		ref, err := s.uploader.Upload(ctx, f, photo.CategoryEventPhoto)
		if err != nil {
			s.discardPhotos(ctx, refs)
			return nil, fmt.Errorf("%w: %w: %s: %w", ErrPersistenceConflict, ErrUploadFailed, f.Name, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *EventService) discardPhotos(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if err := s.uploader.Delete(context.WithoutCancel(ctx), ref); err != nil {
			logger.Warn("写真の削除に失敗", zap.String("ref", ref), zap.Error(err))
		}
	}
}

func (s *EventService) lockEvent(ctx context.Context, id string) (func(), error) {
	if s.lockManager == nil {
		return func() {}, nil
	}
	lock, err := s.lockManager.AcquireLockWithRetry(ctx, redisinfra.EventLockKey(id), eventLockTTL, eventLockRetries, eventLockRetryDelay)
	if err != nil {
		if errors.Is(err, redisinfra.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: %w", ErrPersistenceConflict, ErrEventBusy)
		}
		return nil, fmt.Errorf("%w: ロック取得に失敗: %w", ErrPersistenceConflict, err)
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("ロック解放に失敗", zap.String("event_id", id), zap.Error(err))
		}
	}, nil
}

func (s *EventService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.Warn("キャッシュ無効化に失敗", zap.String("event_id", id), zap.Error(err))
	}
}

func createdMessages(e *event.Event) ([]*outbox.Message, error) {
	n := notification.New("Event Created", fmt.Sprintf("Event %s has been created", e.Title), notification.TypeEvent, e.ID, e.CreatedAt)
	nm, err := outbox.NewNotificationMessage(n)
	if err != nil {
		return nil, err
	}
	mm, err := outbox.NewMailMessage(e.ID, mail.Message{
		To:       append([]string{}, e.Participants...),
		Subject:  e.Title + " - " + e.Type,
		Template: mailTemplateEvent,
		Context:  map[string]any{"name": e.Description},
	})
	if err != nil {
		return nil, err
	}
	return []*outbox.Message{nm, mm}, nil
}

func voteStatus(err error) string {
	switch {
	case errors.Is(err, event.ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, event.ErrUnknownOption):
		return "unknown_option"
	case errors.Is(err, event.ErrPollNotFound):
		return "poll_not_found"
	case errors.Is(err, event.ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, event.ErrVoterRequired):
		return "invalid"
	default:
		return "error"
	}
}
