package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RotationRecord is one entry in a secret's rotation history (§4.9).
type RotationRecord struct {
	ID          uuid.UUID
	SecretID    uuid.UUID
	FromVersion int
	ToVersion   int
	Trigger     string
	RotatedAt   time.Time
	RolledBack  bool
}

// RecordRotation appends a rotation-history row. rotation.Scheduler.Rotate
// calls it after secrets.Manager.Update has committed, outside that
// update's transaction.
func (q *Queries) RecordRotation(ctx context.Context, id, secretID uuid.UUID, fromVersion, toVersion int, trigger string) error {
	const query = `INSERT INTO rotation_history (id, secret_id, from_version, to_version, trigger)
	VALUES ($1, $2, $3, $4, $5)`
	_, err := q.db.Exec(ctx, query, id, secretID, fromVersion, toVersion, trigger)
	if err != nil {
		return fmt.Errorf("recording rotation: %w", err)
	}
	return nil
}

// MarkRotationRolledBack flags the rotation that introduced toVersion as
// rolled back, once a rollback operation restores an earlier version.
func (q *Queries) MarkRotationRolledBack(ctx context.Context, secretID uuid.UUID, toVersion int) error {
	const query = `UPDATE rotation_history SET rolled_back = TRUE WHERE secret_id = $1 AND to_version = $2`
	_, err := q.db.Exec(ctx, query, secretID, toVersion)
	if err != nil {
		return fmt.Errorf("marking rotation rolled back: %w", err)
	}
	return nil
}

// ListRotations returns a secret's rotation history, most recent first.
func (q *Queries) ListRotations(ctx context.Context, secretID uuid.UUID) ([]RotationRecord, error) {
	const query = `SELECT id, secret_id, from_version, to_version, trigger, rotated_at, rolled_back
	FROM rotation_history WHERE secret_id = $1 ORDER BY rotated_at DESC`
	rows, err := q.db.Query(ctx, query, secretID)
	if err != nil {
		return nil, fmt.Errorf("listing rotations: %w", err)
	}
	defer rows.Close()

	var out []RotationRecord
	for rows.Next() {
		var r RotationRecord
		if err := rows.Scan(&r.ID, &r.SecretID, &r.FromVersion, &r.ToVersion, &r.Trigger, &r.RotatedAt, &r.RolledBack); err != nil {
			return nil, fmt.Errorf("scanning rotation row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
