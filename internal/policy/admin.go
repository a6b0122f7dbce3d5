package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gsmlg-dev/secrethub/internal/store"
)

// policyStore is the narrow slice of store.Queries the admin surface
// needs beyond bindingStore; *store.Queries satisfies it structurally.
type policyStore interface {
	CreatePolicy(ctx context.Context, id uuid.UUID, name, description string, rules []byte) (store.Policy, error)
	GetPolicy(ctx context.Context, id uuid.UUID) (store.Policy, error)
	UpdatePolicyRules(ctx context.Context, id uuid.UUID, rules []byte) (store.Policy, error)
	DeletePolicy(ctx context.Context, id uuid.UUID) error
	BindPolicy(ctx context.Context, id, policyID uuid.UUID, entityType, entityID string) (store.PolicyBinding, error)
	UnbindPolicy(ctx context.Context, policyID uuid.UUID, entityType, entityID string) error
}

// Admin manages policy documents and their entity bindings. It is kept
// separate from Evaluator because the evaluator's hot path only ever
// reads bindings, while Admin is the mutation surface an operator drives.
type Admin struct {
	store policyStore
}

// NewAdmin builds an Admin over queries.
func NewAdmin(queries *store.Queries) *Admin {
	return &Admin{store: queries}
}

// Create marshals rules to JSON, persists the policy, and returns it. The
// rule contents are stored as given, with no further validation.
func (a *Admin) Create(ctx context.Context, name, description string, rules RuleSet) (store.Policy, error) {
	raw, err := rules.Marshal()
	if err != nil {
		return store.Policy{}, fmt.Errorf("marshaling rule set: %w", err)
	}
	return a.store.CreatePolicy(ctx, uuid.New(), name, description, raw)
}

// Get fetches a policy by ID.
func (a *Admin) Get(ctx context.Context, id uuid.UUID) (store.Policy, error) {
	return a.store.GetPolicy(ctx, id)
}

// Update replaces a policy's rule set wholesale.
func (a *Admin) Update(ctx context.Context, id uuid.UUID, rules RuleSet) (store.Policy, error) {
	raw, err := rules.Marshal()
	if err != nil {
		return store.Policy{}, fmt.Errorf("marshaling rule set: %w", err)
	}
	return a.store.UpdatePolicyRules(ctx, id, raw)
}

// Delete removes a policy and, by database cascade, every binding to it.
func (a *Admin) Delete(ctx context.Context, id uuid.UUID) error {
	return a.store.DeletePolicy(ctx, id)
}

// Bind attaches a policy to an entity (e.g. a service or a cluster node).
func (a *Admin) Bind(ctx context.Context, policyID uuid.UUID, entityType, entityID string) (store.PolicyBinding, error) {
	return a.store.BindPolicy(ctx, uuid.New(), policyID, entityType, entityID)
}

// Unbind removes one policy-entity binding.
func (a *Admin) Unbind(ctx context.Context, policyID uuid.UUID, entityType, entityID string) error {
	return a.store.UnbindPolicy(ctx, policyID, entityType, entityID)
}
