package store

import (
	"context"
	"fmt"
	"time"
)

// LockInfo is the observability row backing DistributedLocks.List/Locked?
// (§4.3) — a record of who currently holds a named lock. It is maintained
// alongside, not instead of, the pg_advisory_lock session-level lock that
// internal/lock actually blocks on: advisory locks hold no queryable state,
// so this table is how `locked?` and `list` answer without guessing from
// pg_locks.
type LockInfo struct {
	Name       string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// UpsertLockInfo records that holder now holds name, expiring at expiresAt
// absent a renewal. Called right after the underlying advisory lock is
// acquired.
func (q *Queries) UpsertLockInfo(ctx context.Context, name, holder string, expiresAt time.Time) error {
	const query = `INSERT INTO distributed_locks (name, holder, expires_at) VALUES ($1, $2, $3)
	ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, acquired_at = now(), expires_at = EXCLUDED.expires_at`
	_, err := q.db.Exec(ctx, query, name, holder, expiresAt)
	if err != nil {
		return fmt.Errorf("upserting lock info: %w", err)
	}
	return nil
}

// DeleteLockInfo clears a lock's bookkeeping row on release.
func (q *Queries) DeleteLockInfo(ctx context.Context, name string) error {
	const query = `DELETE FROM distributed_locks WHERE name = $1`
	_, err := q.db.Exec(ctx, query, name)
	if err != nil {
		return fmt.Errorf("deleting lock info: %w", err)
	}
	return nil
}

// GetLockInfo returns the current holder of name, if any row exists. A
// present row whose ExpiresAt is in the past means the holder crashed
// without releasing and the advisory lock itself (tied to its session)
// is the authority on whether it is actually still held.
func (q *Queries) GetLockInfo(ctx context.Context, name string) (LockInfo, bool, error) {
	const query = `SELECT name, holder, acquired_at, expires_at FROM distributed_locks WHERE name = $1`
	var l LockInfo
	err := q.db.QueryRow(ctx, query, name).Scan(&l.Name, &l.Holder, &l.AcquiredAt, &l.ExpiresAt)
	if err != nil {
		return LockInfo{}, false, nil
	}
	return l, true, nil
}

// ListLockInfo returns bookkeeping rows for every currently-tracked lock.
func (q *Queries) ListLockInfo(ctx context.Context) ([]LockInfo, error) {
	const query = `SELECT name, holder, acquired_at, expires_at FROM distributed_locks ORDER BY name`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing lock info: %w", err)
	}
	defer rows.Close()

	var out []LockInfo
	for rows.Next() {
		var l LockInfo
		if err := rows.Scan(&l.Name, &l.Holder, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning lock info row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
