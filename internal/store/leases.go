package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Lease records a time-bounded grant of a secret to an entity (§4.9),
// issued and revoked by the external lease-manager collaborator through
// internal/lease.
type Lease struct {
	ID         uuid.UUID
	SecretID   uuid.UUID
	EntityType string
	EntityID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// ErrLeaseNotFound is returned for a missing lease id.
var ErrLeaseNotFound = errors.New("lease not found")

func scanLease(row pgx.Row) (Lease, error) {
	var l Lease
	err := row.Scan(&l.ID, &l.SecretID, &l.EntityType, &l.EntityID, &l.IssuedAt, &l.ExpiresAt, &l.RevokedAt)
	return l, err
}

const leaseColumns = `id, secret_id, entity_type, entity_id, issued_at, expires_at, revoked_at`

// CreateLease issues a new lease expiring at expiresAt.
func (q *Queries) CreateLease(ctx context.Context, id, secretID uuid.UUID, entityType, entityID string, expiresAt time.Time) (Lease, error) {
	const query = `INSERT INTO leases (id, secret_id, entity_type, entity_id, expires_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING ` + leaseColumns
	row := q.db.QueryRow(ctx, query, id, secretID, entityType, entityID, expiresAt)
	return scanLease(row)
}

// GetLease fetches a lease by ID.
func (q *Queries) GetLease(ctx context.Context, id uuid.UUID) (Lease, error) {
	const query = `SELECT ` + leaseColumns + ` FROM leases WHERE id = $1`
	l, err := scanLease(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lease{}, ErrLeaseNotFound
	}
	if err != nil {
		return Lease{}, fmt.Errorf("getting lease: %w", err)
	}
	return l, nil
}

// RevokeLease marks a lease revoked early, idempotently.
func (q *Queries) RevokeLease(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE leases SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("revoking lease: %w", err)
	}
	return nil
}

// ExpiredLeases returns non-revoked leases whose expires_at has passed, so
// the lease collaborator can reap them.
func (q *Queries) ExpiredLeases(ctx context.Context, asOf time.Time) ([]Lease, error) {
	const query = `SELECT ` + leaseColumns + ` FROM leases WHERE revoked_at IS NULL AND expires_at < $1`
	rows, err := q.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("listing expired leases: %w", err)
	}
	defer rows.Close()

	var out []Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lease row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListLeasesForSecret returns every lease (active or not) issued against a secret.
func (q *Queries) ListLeasesForSecret(ctx context.Context, secretID uuid.UUID) ([]Lease, error) {
	const query = `SELECT ` + leaseColumns + ` FROM leases WHERE secret_id = $1 ORDER BY issued_at DESC`
	rows, err := q.db.Query(ctx, query, secretID)
	if err != nil {
		return nil, fmt.Errorf("listing leases for secret: %w", err)
	}
	defer rows.Close()

	var out []Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lease row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
