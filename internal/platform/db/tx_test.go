package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeBeginner struct {
	txs      []*fakeTx
	lastOpts pgx.TxOptions
	beginErr error
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	b.lastOpts = opts
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func pgError(code string) *pgconn.PgError {
	return &pgconn.PgError{Code: code}
}

func TestWithTxRetriesSerializationFailures(t *testing.T) {
	pool := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), pool, func(pgx.Tx) error {
		calls++
		if calls == 1 {
			return pgError("40001")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, pool.txs, 2)
	require.False(t, pool.txs[0].committed)
	require.True(t, pool.txs[1].committed)
}

func TestWithTxRetriesDeadlocks(t *testing.T) {
	pool := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), pool, func(pgx.Tx) error {
		calls++
		if calls == 1 {
			return pgError("40P01")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestWithTxDoesNotRetryDomainErrors(t *testing.T) {
	pool := &fakeBeginner{}
	boom := errors.New("insufficient stock")
	calls := 0
	err := WithTx(context.Background(), pool, func(pgx.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.False(t, pool.txs[0].committed)
}

func TestWithTxGivesUpAfterBoundedAttempts(t *testing.T) {
	pool := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), pool, func(pgx.Tx) error {
		calls++
		return pgError("40001")
	})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "40001", pgErr.Code)
	require.Equal(t, txAttempts, calls)
	for _, tx := range pool.txs {
		require.False(t, tx.committed)
	}
}

func TestWithTxUsesRepeatableRead(t *testing.T) {
	pool := &fakeBeginner{}
	err := WithTx(context.Background(), pool, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.Equal(t, pgx.RepeatableRead, pool.lastOpts.IsoLevel)
}

func TestWithTxReturnsBeginError(t *testing.T) {
	boom := errors.New("pool exhausted")
	pool := &fakeBeginner{beginErr: boom}
	err := WithTx(context.Background(), pool, func(pgx.Tx) error { return nil })
	require.ErrorIs(t, err, boom)
}
