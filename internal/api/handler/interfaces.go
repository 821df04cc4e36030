package handler

import (
	"context"

	"github.com/sanosuguru/go-event-board/internal/application"
	"github.com/sanosuguru/go-event-board/internal/domain/event"
)

// EventServiceInterface はイベントサービスのインターフェース
type EventServiceInterface interface {
	CreateEvent(ctx context.Context, input application.CreateEventInput) (*event.Event, error)
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	ListEvents(ctx context.Context, input application.ListEventsInput) ([]*event.Event, error)
	UpdateEvent(ctx context.Context, input application.UpdateEventInput) (*event.Event, error)
	RemoveEvent(ctx context.Context, id string) error
	RecordVote(ctx context.Context, input application.RecordVoteInput) (*event.Event, error)
}

var _ EventServiceInterface = (*application.EventService)(nil)
