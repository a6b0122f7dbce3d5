package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const policyColumns = `id, name, description, rules, created_at, updated_at`

// Policy is a named set of access rules (§4.7), stored as JSONB so the
// evaluator can own the rule schema without a migration per rule change.
type Policy struct {
	ID          uuid.UUID
	Name        string
	Description string
	Rules       []byte // raw JSON, decoded by internal/policy
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PolicyBinding attaches a policy to an entity (service, role, or node).
type PolicyBinding struct {
	ID         uuid.UUID
	PolicyID   uuid.UUID
	EntityType string
	EntityID   string
	CreatedAt  time.Time
}

// ErrPolicyNotFound is returned for a missing policy id or name.
var ErrPolicyNotFound = errors.New("policy not found")

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Rules, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreatePolicy inserts a new named policy.
func (q *Queries) CreatePolicy(ctx context.Context, id uuid.UUID, name, description string, rules []byte) (Policy, error) {
	const query = `INSERT INTO policies (id, name, description, rules) VALUES ($1, $2, $3, $4)
	RETURNING ` + policyColumns
	row := q.db.QueryRow(ctx, query, id, name, description, rules)
	return scanPolicy(row)
}

// GetPolicy fetches a policy by ID.
func (q *Queries) GetPolicy(ctx context.Context, id uuid.UUID) (Policy, error) {
	const query = `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`
	p, err := scanPolicy(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrPolicyNotFound
	}
	if err != nil {
		return Policy{}, fmt.Errorf("getting policy: %w", err)
	}
	return p, nil
}

// UpdatePolicyRules replaces a policy's rule set.
func (q *Queries) UpdatePolicyRules(ctx context.Context, id uuid.UUID, rules []byte) (Policy, error) {
	const query = `UPDATE policies SET rules = $2, updated_at = now() WHERE id = $1 RETURNING ` + policyColumns
	return scanPolicy(q.db.QueryRow(ctx, query, id, rules))
}

// DeletePolicy removes a policy and (via cascade) its bindings.
func (q *Queries) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM policies WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// ListPoliciesForEntity returns every policy bound to (entityType, entityID)
// plus every policy with no bindings at all, since an unbound policy
// applies to every entity (§4.7: "entity_bindings == [] ⇒ allow"). A plain
// INNER JOIN against policy_bindings would silently exclude those
// unbound policies from every entity's evaluation.
func (q *Queries) ListPoliciesForEntity(ctx context.Context, entityType, entityID string) ([]Policy, error) {
	const query = `SELECT p.` + "id, p.name, p.description, p.rules, p.created_at, p.updated_at" + `
	FROM policies p
	LEFT JOIN policy_bindings b ON b.policy_id = p.id
	WHERE (b.entity_type = $1 AND b.entity_id = $2)
	   OR NOT EXISTS (SELECT 1 FROM policy_bindings b2 WHERE b2.policy_id = p.id)`
	rows, err := q.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing policies for entity: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BindPolicy attaches a policy to an entity.
func (q *Queries) BindPolicy(ctx context.Context, id, policyID uuid.UUID, entityType, entityID string) (PolicyBinding, error) {
	const query = `INSERT INTO policy_bindings (id, policy_id, entity_type, entity_id) VALUES ($1, $2, $3, $4)
	RETURNING id, policy_id, entity_type, entity_id, created_at`
	var b PolicyBinding
	err := q.db.QueryRow(ctx, query, id, policyID, entityType, entityID).
		Scan(&b.ID, &b.PolicyID, &b.EntityType, &b.EntityID, &b.CreatedAt)
	if err != nil {
		return PolicyBinding{}, fmt.Errorf("binding policy: %w", err)
	}
	return b, nil
}

// UnbindPolicy removes one policy-entity binding.
func (q *Queries) UnbindPolicy(ctx context.Context, policyID uuid.UUID, entityType, entityID string) error {
	const query = `DELETE FROM policy_bindings WHERE policy_id = $1 AND entity_type = $2 AND entity_id = $3`
	_, err := q.db.Exec(ctx, query, policyID, entityType, entityID)
	if err != nil {
		return fmt.Errorf("unbinding policy: %w", err)
	}
	return nil
}
