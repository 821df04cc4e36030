package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

// EventRepository はイベントリポジトリのメモリ実装
type EventRepository struct {
	store *Store
}

func NewEventRepository(s *Store) *EventRepository {
	return &EventRepository{store: s}
}

func (r *EventRepository) Create(ctx context.Context, tx transaction.Tx, e *event.Event) error {
	t, err := r.store.unwrap(tx)
	if err != nil {
		return err
	}
	stored := e.Clone()
	return t.stage(op{
		check: func() error {
			if _, exists := r.store.events[stored.ID]; exists {
				return ErrDuplicateKey
			}
			return nil
		},
		apply: func() { r.store.events[stored.ID] = stored },
	})
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*event.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	e, ok := r.store.events[id]
	if !ok {
		return nil, event.ErrEventNotFound
	}
	return e.Clone(), nil
}

func (r *EventRepository) List(ctx context.Context, filter event.ListFilter) ([]*event.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	matched := make([]*event.Event, 0, len(r.store.events))
	for _, e := range r.store.events {
		if e.IsDeleted {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Title), search) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Offset >= len(matched) {
		return []*event.Event{}, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	out := make([]*event.Event, 0, end-filter.Offset)
	for _, e := range matched[filter.Offset:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// Update はバージョンが一致する場合のみ更新する
// 既存の投票の票数・投票者は保持される
func (r *EventRepository) Update(ctx context.Context, tx transaction.Tx, e *event.Event) error {
	t, err := r.store.unwrap(tx)
	if err != nil {
		return err
	}
	check := func() error {
		stored, ok := r.store.events[e.ID]
		if !ok || stored.IsDeleted {
			return event.ErrEventNotFound
		}
		if stored.Version != e.Version {
			return event.ErrOptimisticLockConflict
		}
		return nil
	}

	r.store.mu.RLock()
	err = check()
	r.store.mu.RUnlock()
	if err != nil {
		return err
	}

	next := e.Clone()
	return t.stage(op{
		check: check,
		apply: func() {
			stored := r.store.events[e.ID]
			if stored.Poll != nil {
				next.Poll = stored.Poll
			}
			next.CreatedAt = stored.CreatedAt
			next.Version = stored.Version + 1
			r.store.events[e.ID] = next
			e.Version = next.Version
		},
	})
}

// RecordVote はストアのロック内で重複チェックと加算を行う
func (r *EventRepository) RecordVote(ctx context.Context, eventID, label, voterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.events[eventID]
	if !ok || e.IsDeleted {
		return event.ErrEventNotFound
	}
	if e.Poll == nil {
		return event.ErrPollNotFound
	}
	return e.Poll.RecordVote(label, voterID)
}

var _ event.Repository = (*EventRepository)(nil)
