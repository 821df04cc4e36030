package postgres

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-event-board/internal/config"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
)

// setupTestDB はマイグレーション済みのDBを返す。DB未起動時はスキップする
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := config.Load()
	db, err := NewConnection(&cfg.Database)
	if err != nil {
		t.Skipf("DB接続エラー: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db.DB, "../../../migrations"))
	_, err = db.Exec("TRUNCATE TABLE poll_votes, poll_options, events, outbox, notifications, users CASCADE")
	require.NoError(t, err)
	return db
}

func runTx(t *testing.T, db *sqlx.DB, fn func(tx transaction.Tx) error) {
	t.Helper()
	require.NoError(t, transaction.Run(context.Background(), NewTxManager(db), fn))
}
