package seal

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gsmlg-dev/secrethub/internal/store"
)

// noopDB is a store.DBTX good enough to drive the state machine tests
// without a real Postgres: GetVaultConfig always reports "not found" (a
// fresh, never-initialized vault) and every write succeeds and is
// discarded, since these tests only assert on in-memory seal behavior.
type noopDB struct{}

func (noopDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (noopDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (noopDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return noopRow{}
}

type noopRow struct{}

func (noopRow) Scan(dest ...any) error { return pgx.ErrNoRows }

func newNoopQueries() *store.Queries {
	return store.New(noopDB{})
}
