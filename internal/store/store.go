// Package store wraps db.Querier with transaction support and the encoding
// between domain orders and their JSONB columns. The operations that move an
// order through its lifecycle live here; single-query reads that need no
// decoding are called directly on db.Querier.
//
// Dependency rule: store imports db, order and contacts only. It never
// imports api, worker, payment, ai or email.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nyashahama/email-sequence-backend/internal/db"
)

// Store holds a *sql.DB for starting transactions and a db.Querier for
// executing queries outside of transactions.
type Store struct {
	// pool is the raw connection pool, used only to begin transactions.
	pool *sql.DB

	q db.Querier
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified before calling New.
func New(pool *sql.DB, q db.Querier) *Store {
	return &Store{pool: pool, q: q}
}

// txQuerier receives a transactional Querier. Returning a non-nil error rolls
// the transaction back.
type txQuerier func(ctx context.Context, q db.Querier) error

// withTx runs fn in a serializable transaction, committing on success and
// rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn txQuerier) error {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txQ := s.q.(*db.Queries).WithTx(tx)

	if err := fn(ctx, txQ); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: fn error: %w; rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
