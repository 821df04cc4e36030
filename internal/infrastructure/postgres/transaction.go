package postgres

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

var ErrInvalidTx = errors.New("PostgreSQLのトランザクションではありません")

// TxWrapper は sqlx.Tx を transaction.Tx インターフェースでラップする
type TxWrapper struct {
	*sqlx.Tx
}

// TxManager は sqlx.DB を使用したトランザクションマネージャー
type TxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// Begin は新しいトランザクションを開始する
func (m *TxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &TxWrapper{Tx: tx}, nil
}

// unwrapTx は transaction.Tx から sqlx.Tx を取り出す
func unwrapTx(tx transaction.Tx) (*sqlx.Tx, error) {
	if wrapper, ok := tx.(*TxWrapper); ok && wrapper.Tx != nil {
		return wrapper.Tx, nil
	}
	return nil, ErrInvalidTx
}

var _ transaction.Manager = (*TxManager)(nil)
