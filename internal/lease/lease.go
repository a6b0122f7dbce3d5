// Package lease implements the core's side of the lease/rotation
// collaboration (§4.9, component C9): transactional CRUD over opaque
// credential ciphertexts on behalf of an external lease manager that
// owns dynamic-credential lifecycles and engine-specific connectors.
// Nothing here schedules revocation — that's the collaborator's job;
// the core only persists state durably.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/policy"
	"github.com/gsmlg-dev/secrethub/internal/store"
)

// leaseStore is the narrow slice of store.Queries this package needs.
// *store.Queries satisfies it structurally.
type leaseStore interface {
	CreateLease(ctx context.Context, id, secretID uuid.UUID, entityType, entityID string, expiresAt time.Time) (store.Lease, error)
	GetLease(ctx context.Context, id uuid.UUID) (store.Lease, error)
	RevokeLease(ctx context.Context, id uuid.UUID) error
	ExpiredLeases(ctx context.Context, asOf time.Time) ([]store.Lease, error)
	ListLeasesForSecret(ctx context.Context, secretID uuid.UUID) ([]store.Lease, error)
}

// secretLookup resolves a lease's target secret to the path policy
// evaluation needs. *store.Queries satisfies it structurally.
type secretLookup interface {
	GetSecretByID(ctx context.Context, id uuid.UUID) (store.Secret, error)
}

// policyEvaluator is the narrow slice of the C7 evaluator this package
// needs to gate lease issuance against the requested TTL (§4.7).
type policyEvaluator interface {
	Evaluate(ctx context.Context, req policy.Request) (policy.Decision, error)
}

// Manager persists lease state for the external lease-manager
// collaborator (§4.9: "the core provides transactional CRUD").
type Manager struct {
	store   leaseStore
	secrets secretLookup
	policy  policyEvaluator
}

// New builds a Manager. policyEval gates Issue against the bound
// policies' max_lease_seconds cap before any lease is persisted.
func New(queries *store.Queries, secrets secretLookup, policyEval policyEvaluator) *Manager {
	return &Manager{store: queries, secrets: secrets, policy: policyEval}
}

// Issue evaluates policy for entity against the target secret's path with
// the requested TTL, denying per §4.7's "requested_ttl ≤ max_ttl" rule
// before persisting anything. On success it records a new lease expiring
// ttlSeconds from now. The caller (the lease manager collaborator) is
// responsible for invoking the engine-specific connector that actually
// minted the credential this lease tracks.
func (m *Manager) Issue(ctx context.Context, secretID uuid.UUID, entityType, entityID string, ttlSeconds int) (store.Lease, error) {
	secret, err := m.secrets.GetSecretByID(ctx, secretID)
	if err != nil {
		return store.Lease{}, err
	}

	now := time.Now()
	decision, err := m.policy.Evaluate(ctx, policy.Request{
		EntityType:   entityType,
		EntityID:     entityID,
		Path:         secret.Path,
		Operation:    "read",
		When:         now,
		RequestedTTL: &ttlSeconds,
	})
	if err != nil {
		return store.Lease{}, err
	}
	if !decision.Allowed {
		return store.Lease{}, apperror.New(apperror.KindPolicyDenied, decision.Reason)
	}

	expiresAt := now.Add(time.Duration(ttlSeconds) * time.Second)
	return m.store.CreateLease(ctx, uuid.New(), secretID, entityType, entityID, expiresAt)
}

// Get fetches a lease by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (store.Lease, error) {
	return m.store.GetLease(ctx, id)
}

// Revoke marks a lease revoked early, idempotently.
func (m *Manager) Revoke(ctx context.Context, id uuid.UUID) error {
	return m.store.RevokeLease(ctx, id)
}

// Expired returns every non-revoked lease whose expiry has passed as of
// asOf, for the lease manager collaborator to reap.
func (m *Manager) Expired(ctx context.Context, asOf time.Time) ([]store.Lease, error) {
	return m.store.ExpiredLeases(ctx, asOf)
}

// ForSecret lists every lease (active or not) ever issued against a secret.
func (m *Manager) ForSecret(ctx context.Context, secretID uuid.UUID) ([]store.Lease, error) {
	return m.store.ListLeasesForSecret(ctx, secretID)
}
