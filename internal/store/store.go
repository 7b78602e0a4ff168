// Package store is the transactional persistence layer shared by every
// domain repository. It owns the connection pool and the transaction
// primitive; repositories compose on top of it rather than each opening
// their own connections.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the common surface of *pgxpool.Pool, pgx.Tx and *pgxpool.Conn.
// Repository methods accept it directly so a call can run either inside an
// open transaction or autocommitted against the pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the pool and the transaction primitive.
type Store struct {
	Pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Begin opens a read-committed transaction. Callers must Commit or
// Rollback; a deferred Rollback after a successful Commit is a no-op in
// pgx.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.Begin(ctx)
}

// DBTX returns tx if non-nil, otherwise the pool itself, so repository
// methods can uniformly accept "an optional Tx".
func (s *Store) DBTX(tx pgx.Tx) DBTX {
	if tx != nil {
		return tx
	}
	return s.Pool
}

// WithTx runs fn inside a new transaction, committing on success and
// rolling back on any error or panic. Callers compose repository calls in
// fn to make a multi-table change atomic.
func WithTx(ctx context.Context, s *Store, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return ClassifyError(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return ClassifyError(err)
	}
	return nil
}
