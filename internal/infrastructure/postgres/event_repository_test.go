package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%`, escapeLike("50%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\tmp`, escapeLike(`c:\tmp`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

func TestUnwrapTx_RejectsForeignTx(t *testing.T) {
	_, err := unwrapTx(nil)
	assert.ErrorIs(t, err, ErrInvalidTx)
}

func newPollEvent(title string) *event.Event {
	e := event.NewEvent(title, "desc", "meeting", time.Now().Truncate(time.Microsecond), nil, []string{"u1", "u2"})
	e.Poll = event.NewPoll("Lunch?", []string{"Pizza", "Sushi"})
	return e
}

func TestEventRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	e := newPollEvent("Team lunch")
	e.Photo = []string{"memory://photos/a.png"}
	runTx(t, db, func(tx transaction.Tx) error { return repo.Create(ctx, tx, e) })

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Team lunch", got.Title)
	assert.Equal(t, []string{"u1", "u2"}, got.Participants)
	assert.Equal(t, []string{"memory://photos/a.png"}, got.Photo)
	require.NotNil(t, got.Poll)
	assert.Equal(t, "Lunch?", got.Poll.Question)
	assert.Equal(t, []string{"Pizza", "Sushi"}, got.Poll.Labels())

	t.Run("存在しないIDはNotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, event.ErrEventNotFound)
	})

	t.Run("UUIDでないIDはNotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, event.ErrEventNotFound)
	})
}

func TestEventRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	titles := []string{"Go meetup", "100% fun", "go_lang night", "Board game"}
	for _, title := range titles {
		e := event.NewEvent(title, "", "", time.Now(), nil, nil)
		runTx(t, db, func(tx transaction.Tx) error { return repo.Create(ctx, tx, e) })
	}

	t.Run("作成順に返る", func(t *testing.T) {
		events, err := repo.List(ctx, event.ListFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 4)
		assert.Equal(t, "Go meetup", events[0].Title)
		assert.Equal(t, "Board game", events[3].Title)
	})

	t.Run("大文字小文字を区別せず検索できる", func(t *testing.T) {
		events, err := repo.List(ctx, event.ListFilter{Search: "GO", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("ワイルドカードは文字として扱う", func(t *testing.T) {
		events, err := repo.List(ctx, event.ListFilter{Search: "%", Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "100% fun", events[0].Title)

		events, err = repo.List(ctx, event.ListFilter{Search: "_", Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "go_lang night", events[0].Title)
	})

	t.Run("ページング", func(t *testing.T) {
		events, err := repo.List(ctx, event.ListFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "100% fun", events[0].Title)
	})
}

func TestEventRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	e := event.NewEvent("Before", "", "", time.Now(), nil, nil)
	runTx(t, db, func(tx transaction.Tx) error { return repo.Create(ctx, tx, e) })

	t.Run("更新するとバージョンが上がる", func(t *testing.T) {
		e.Title = "After"
		require.NoError(t, e.AttachPoll(&event.Poll{Question: "Q", Options: []event.PollOption{{Label: "A"}}}))
		runTx(t, db, func(tx transaction.Tx) error { return repo.Update(ctx, tx, e) })
		assert.Equal(t, 1, e.Version)

		got, err := repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "After", got.Title)
		assert.Equal(t, 1, got.Version)
		require.NotNil(t, got.Poll)
	})

	t.Run("古いバージョンは競合", func(t *testing.T) {
		stale := e.Clone()
		stale.Version = 0
		stale.Title = "Stale"
		err := transaction.Run(ctx, NewTxManager(db), func(tx transaction.Tx) error {
			return repo.Update(ctx, tx, stale)
		})
		assert.ErrorIs(t, err, event.ErrOptimisticLockConflict)
	})

	t.Run("削除済みはNotFound", func(t *testing.T) {
		current, err := repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		require.NoError(t, current.MarkDeleted())
		runTx(t, db, func(tx transaction.Tx) error { return repo.Update(ctx, tx, current) })

		current.Title = "Resurrect"
		current.IsDeleted = false
		err = transaction.Run(ctx, NewTxManager(db), func(tx transaction.Tx) error {
			return repo.Update(ctx, tx, current)
		})
		assert.ErrorIs(t, err, event.ErrEventNotFound)

		got, err := repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted)
	})
}

func TestEventRepository_RecordVote(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	e := newPollEvent("Vote")
	runTx(t, db, func(tx transaction.Tx) error { return repo.Create(ctx, tx, e) })

	noPoll := event.NewEvent("No poll", "", "", time.Now(), nil, nil)
	runTx(t, db, func(tx transaction.Tx) error { return repo.Create(ctx, tx, noPoll) })

	tests := []struct {
		name        string
		eventID     string
		label       string
		voter       string
		expectedErr error
	}{
		{name: "投票できる", eventID: e.ID, label: "Pizza", voter: "u1"},
		{name: "二重投票はエラー", eventID: e.ID, label: "Sushi", voter: "u1", expectedErr: event.ErrAlreadyVoted},
		{name: "存在しない選択肢", eventID: e.ID, label: "Ramen", voter: "u2", expectedErr: event.ErrUnknownOption},
		{name: "投票のないイベント", eventID: noPoll.ID, label: "Pizza", voter: "u2", expectedErr: event.ErrPollNotFound},
		{name: "存在しないイベント", eventID: uuid.NewString(), label: "Pizza", voter: "u2", expectedErr: event.ErrEventNotFound},
		{name: "投票者なし", eventID: e.ID, label: "Pizza", voter: " ", expectedErr: event.ErrVoterRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.RecordVote(ctx, tt.eventID, tt.label, tt.voter)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Poll.Options[0].Votes)
	assert.Equal(t, []string{"u1"}, got.Poll.Options[0].Voters)
	assert.Equal(t, 0, got.Poll.Options[1].Votes)
}

func TestEventRepository_RecordVote_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	e := newPollEvent("Concurrent")
	runTx(t, db, func(tx transaction.Tx) error { return repo.Create(ctx, tx, e) })

	const voters = 20
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 同じ投票者が2回投票しても1票だけ数える
			voter := uuid.NewString()
			_ = repo.RecordVote(ctx, e.ID, "Pizza", voter)
			_ = repo.RecordVote(ctx, e.ID, "Sushi", voter)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, got.Poll.TotalVotes())
}
