package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const nodeColumns = `id, address, role, sealed, registered_at, last_heartbeat`

// Node is one member of the cluster (§4.5).
type Node struct {
	ID            uuid.UUID
	Address       string
	Role          string
	Sealed        bool
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

func scanNode(row pgx.Row) (Node, error) {
	var n Node
	err := row.Scan(&n.ID, &n.Address, &n.Role, &n.Sealed, &n.RegisteredAt, &n.LastHeartbeat)
	return n, err
}

func scanNodes(rows pgx.Rows) ([]Node, error) {
	defer rows.Close()
	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// RegisterNode upserts a node's address on (re)join, resetting its
// heartbeat and defaulting it to the sealed follower role.
func (q *Queries) RegisterNode(ctx context.Context, id uuid.UUID, address string) (Node, error) {
	const query = `INSERT INTO cluster_nodes (id, address) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET address = EXCLUDED.address, last_heartbeat = now()
	RETURNING ` + nodeColumns
	row := q.db.QueryRow(ctx, query, id, address)
	return scanNode(row)
}

// Heartbeat refreshes a node's last_heartbeat and reported seal state.
func (q *Queries) Heartbeat(ctx context.Context, id uuid.UUID, sealed bool) error {
	const query = `UPDATE cluster_nodes SET last_heartbeat = now(), sealed = $2 WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, id, sealed)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("heartbeat: node %s not registered", id)
	}
	return nil
}

// SetRole updates a node's reported role (leader/follower).
func (q *Queries) SetRole(ctx context.Context, id uuid.UUID, role string) error {
	const query = `UPDATE cluster_nodes SET role = $2 WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, role)
	if err != nil {
		return fmt.Errorf("updating node role: %w", err)
	}
	return nil
}

// ListNodes returns every known cluster node, most recently registered first.
func (q *Queries) ListNodes(ctx context.Context) ([]Node, error) {
	const query = `SELECT ` + nodeColumns + ` FROM cluster_nodes ORDER BY registered_at DESC`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return scanNodes(rows)
}

// StaleNodes returns nodes whose last_heartbeat is older than cutoff, for
// the cluster coordinator's reaper sweep.
func (q *Queries) StaleNodes(ctx context.Context, cutoff time.Time) ([]Node, error) {
	const query = `SELECT ` + nodeColumns + ` FROM cluster_nodes WHERE last_heartbeat < $1`
	rows, err := q.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale nodes: %w", err)
	}
	return scanNodes(rows)
}

// RemoveNode deletes a node that has been swept as stale.
func (q *Queries) RemoveNode(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM cluster_nodes WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("removing node: %w", err)
	}
	return nil
}

// RecordHealthEvent appends a row to the node's health history.
func (q *Queries) RecordHealthEvent(ctx context.Context, nodeID uuid.UUID, status, detail string) error {
	const query = `INSERT INTO node_health_events (node_id, status, detail) VALUES ($1, $2, $3)`
	_, err := q.db.Exec(ctx, query, nodeID, status, detail)
	if err != nil {
		return fmt.Errorf("recording health event: %w", err)
	}
	return nil
}

// PruneHealthEvents deletes health history older than cutoff.
func (q *Queries) PruneHealthEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM node_health_events WHERE observed_at < $1`
	tag, err := q.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning health events: %w", err)
	}
	return tag.RowsAffected(), nil
}
