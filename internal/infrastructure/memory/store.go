package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

var (
	ErrTxDone       = errors.New("トランザクションは既に終了しています")
	ErrForeignTx    = errors.New("このストアのトランザクションではありません")
	ErrDuplicateKey = errors.New("同じIDのレコードが既に存在します")
)

// Store はプロセス内で完結するストア
// 各リポジトリは同じ Store を共有し、Tx のコミットは単一のロック内で適用される
type Store struct {
	mu            sync.RWMutex
	events        map[string]*event.Event
	messages      map[string]*outbox.Message
	messageOrder  []string
	notifications map[string]notification.Notification
	users         []string
}

// NewStore はアクティブユーザーを指定してストアを作成する
func NewStore(activeUsers ...string) *Store {
	return &Store{
		events:        make(map[string]*event.Event),
		messages:      make(map[string]*outbox.Message),
		notifications: make(map[string]notification.Notification),
		users:         append([]string{}, activeUsers...),
	}
}

// SetActiveUsers はアクティブユーザーを置き換える
func (s *Store) SetActiveUsers(users ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append([]string{}, users...)
}

// ListActiveUsers は user.Directory を満たす
func (s *Store) ListActiveUsers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.users...), nil
}

// op はコミット時に検証してから適用する変更
type op struct {
	check func() error
	apply func()
}

// Tx はコミットまで変更を保留するトランザクション
type Tx struct {
	store *Store
	ops   []op
	done  bool
}

func (t *Tx) stage(o op) error {
	if t.done {
		return ErrTxDone
	}
	t.ops = append(t.ops, o)
	return nil
}

// Commit はすべての変更を検証し、問題がなければまとめて適用する
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, o := range t.ops {
		if o.check == nil {
			continue
		}
		if err := o.check(); err != nil {
			return err
		}
	}
	for _, o := range t.ops {
		o.apply()
	}
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.ops = nil
	return nil
}

// TxManager は Store のトランザクションを開始する
type TxManager struct {
	store *Store
}

func NewTxManager(s *Store) *TxManager {
	return &TxManager{store: s}
}

func (m *TxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: m.store}, nil
}

func (s *Store) unwrap(tx transaction.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, ErrForeignTx
	}
	return t, nil
}

var _ transaction.Manager = (*TxManager)(nil)
