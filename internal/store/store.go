// Package store is the durable store (§4.2, component C2): a thin,
// hand-rolled query layer over PostgreSQL via pgx. It is the only
// package in the core that issues SQL. Every other subsystem depends
// on store.Queries (or store.DBTX directly, to run inside a caller's
// transaction) rather than touching pgx itself.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so callers can pass
// either a plain pool connection or an in-flight transaction to Queries —
// the same pattern the teacher's auth.APIKeyAuthenticator uses for db.DBTX.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles every hand-rolled SQL operation the core needs.
type Queries struct {
	db DBTX
}

// New wraps db (a pool or a transaction) in a Queries.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Pool additionally exposes transaction/connection-acquisition helpers that
// only make sense against a real pool (not an in-flight transaction).
type Pool struct {
	*pgxpool.Pool
}

// Exec runs a raw statement against the underlying connection or
// transaction. It exists for callers outside this package (internal/lock's
// transactional advisory lock, specifically) that need to issue one
// statement this package doesn't otherwise wrap, without reaching past
// Queries into pgx directly.
func (q *Queries) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return q.db.Exec(ctx, sql, args...)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. This is the "atomic multi-row writes"
// contract §4.2 requires (e.g. archive-version + update-live-secret).
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(q *Queries) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op if already committed

	if err := fn(New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
