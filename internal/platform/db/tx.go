package db

import (
	"context"
	"errors"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TxManager struct {
	pool *pgxpool.Pool
	log  *log.Logger
}

func NewTxManager(pool *pgxpool.Pool, logger *log.Logger) *TxManager {
	if logger == nil {
		logger = log.NewNop()
	}

	return &TxManager{pool: pool, log: logger}
}

// InTx runs fn in a transaction, committing when fn returns nil and rolling back otherwise.
func (t *TxManager) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		t.log.Error("failed to begin tx", log.Err(err))
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			t.log.Error("failed to rollback tx", log.Err(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
