// Package lock implements the distributed lock (§4.3, component C3): a
// named mutex backed by PostgreSQL advisory locks, so that any process in
// the cluster can coordinate a critical section without a separate
// coordination service. Advisory locks are tied to the database session
// (connection) that took them, so a Lock holds a single dedicated
// *pgxpool.Conn for its whole lifetime — it must never borrow a
// connection from a shared pool path that could hand the connection back
// mid-hold.
package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/telemetry"
)

// Well-known lock names (§4.3). Names outside this set are accepted too —
// callers may mint their own as long as they stay out of this reserved set.
const (
	NameInit              = "init"
	NameUnseal            = "unseal"
	NameMasterKeyRotation = "master_key_rotation"
	NameBackup            = "backup"
	NameAutoUnseal        = "auto_unseal"
	NameLeader            = "leader"
)

// probeInterval is how often Acquire retries the advisory-lock attempt
// while waiting for a busy lock, per §4.3's 100ms busy-wait requirement.
const probeInterval = 100 * time.Millisecond

// Manager hands out Locks for a single cluster node. holderID identifies
// this process (typically the node UUID) in the distributed_locks
// bookkeeping table.
type Manager struct {
	pool     *pgxpool.Pool
	queries  *store.Queries
	holderID string
}

// NewManager builds a Manager backed by pool, identifying this process's
// lock grants as holderID.
func NewManager(pool *pgxpool.Pool, holderID string) *Manager {
	return &Manager{pool: pool, queries: store.New(pool), holderID: holderID}
}

// Lock is a held named lock. Callers must call Release exactly once.
type Lock struct {
	name string
	conn *pgxpool.Conn
	key  int64
	mgr  *Manager
}

// lockKey maps a lock name to the int64 key pg_advisory_lock expects, via
// FNV-1a — collisions are not a correctness concern here because the key
// space (64 bits) is vastly larger than the small, fixed set of lock names
// this core ever mints.
func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// Acquire blocks, probing every 100ms, until the named lock is free or
// timeout elapses. On success the returned Lock owns a dedicated
// connection until Release is called.
func (m *Manager) Acquire(ctx context.Context, name string, timeout time.Duration) (*Lock, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for lock %q: %w", name, err)
	}

	key := lockKey(name)
	bo := backoff.NewConstantBackOff(probeInterval)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		var gotLock bool
		row := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key)
		if scanErr := row.Scan(&gotLock); scanErr != nil {
			return struct{}{}, backoff.Permanent(scanErr)
		}
		if !gotLock {
			return struct{}{}, fmt.Errorf("lock %q busy", name)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(timeout))

	if err != nil {
		telemetry.LockAcquireDuration.WithLabelValues(name, "timeout").Observe(time.Since(start).Seconds())
		conn.Release()
		return nil, apperror.Wrap(apperror.KindLockTimeout, fmt.Sprintf("lock %q not acquired within %s", name, timeout), err)
	}
	telemetry.LockAcquireDuration.WithLabelValues(name, "acquired").Observe(time.Since(start).Seconds())

	expiresAt := time.Now().Add(timeout)
	if err := m.queries.UpsertLockInfo(ctx, name, m.holderID, expiresAt); err != nil {
		// Bookkeeping failure doesn't invalidate the real advisory lock;
		// list()/locked? will just be stale until the next successful write.
		_ = err
	}

	return &Lock{name: name, conn: conn, key: key, mgr: m}, nil
}

// Release unlocks the advisory lock and returns the connection to the pool.
func (l *Lock) Release(ctx context.Context) error {
	defer l.conn.Release()

	var ok bool
	row := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	if err := row.Scan(&ok); err != nil {
		return fmt.Errorf("releasing lock %q: %w", l.name, err)
	}

	if err := l.mgr.queries.DeleteLockInfo(ctx, l.name); err != nil {
		_ = err // best-effort bookkeeping cleanup, see Acquire
	}
	return nil
}

// WithLock acquires name, runs fn, and releases it regardless of fn's
// outcome — the RAII-style helper §4.3 calls for.
func (m *Manager) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	l, err := m.Acquire(ctx, name, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release(ctx) }()
	return fn(ctx)
}

// txRunner is the minimal slice a caller's transaction handle needs for
// AcquireTx. *store.Queries satisfies it structurally. A transactional
// advisory lock only does anything useful taken against the very
// connection running the surrounding transaction — it releases itself
// when that transaction commits or rolls back — so unlike Acquire it
// never borrows a connection of its own.
type txRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AcquireTx takes name in transactional mode (§4.3): pg_advisory_xact_lock
// blocks natively until the lock is free, with no busy-wait probing and no
// separate Release call — Postgres drops it automatically at the end of
// tx's transaction. Use this for short, atomic critical sections that
// already run inside a transaction (e.g. an archive-then-update sequence),
// where a session lock's dedicated connection would be the wrong shape.
func AcquireTx(ctx context.Context, tx txRunner, name string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(name)); err != nil {
		return fmt.Errorf("acquiring transactional lock %q: %w", name, err)
	}
	return nil
}

// Locked reports whether name is currently held by anyone in the cluster.
// It probes with pg_try_advisory_lock and immediately releases on success,
// since pg_locks' encoding of a 64-bit advisory key across its two int4
// columns is session-internal and not a reliable thing to query directly.
func (m *Manager) Locked(ctx context.Context, name string) (bool, error) {
	key := lockKey(name)
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("checking lock %q: %w", name, err)
	}
	defer conn.Release()

	var gotLock bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&gotLock); err != nil {
		return false, fmt.Errorf("checking lock %q: %w", name, err)
	}
	if gotLock {
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			return false, fmt.Errorf("releasing probe lock %q: %w", name, err)
		}
		return false, nil
	}
	return true, nil
}

// List returns bookkeeping info for every lock this Manager has recorded
// a grant for, across the cluster.
func (m *Manager) List(ctx context.Context) ([]store.LockInfo, error) {
	return m.queries.ListLockInfo(ctx)
}
