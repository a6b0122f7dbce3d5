// Package secrets implements the secrets manager (§4.8, component C8):
// encryption-at-rest for secret values, version history, and the
// policy-gated read path that ties together C4 (seal), C7 (policy), and
// C6 (audit).
package secrets

import (
	"context"
	"encoding/json"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/audit"
	"github.com/gsmlg-dev/secrethub/internal/crypto"
	"github.com/gsmlg-dev/secrethub/internal/lock"
	"github.com/gsmlg-dev/secrethub/internal/policy"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/telemetry"
)

// secretStore is the read/delete slice of store.Queries the manager
// needs outside of a transaction. *store.Queries satisfies this
// structurally.
type secretStore interface {
	CreateSecret(ctx context.Context, id uuid.UUID, path string, ciphertext, metadata []byte, author, description string) (store.Secret, error)
	GetSecretByPath(ctx context.Context, path string) (store.Secret, error)
	GetSecretByID(ctx context.Context, id uuid.UUID) (store.Secret, error)
	ListSecrets(ctx context.Context, limit, offset int) ([]store.Secret, error)
	CountSecrets(ctx context.Context) (int64, error)
	DeleteSecret(ctx context.Context, id uuid.UUID) error
	GetVersion(ctx context.Context, secretID uuid.UUID, version int) (store.SecretVersion, error)
	ListVersions(ctx context.Context, secretID uuid.UUID) ([]store.SecretVersion, error)
	PruneVersions(ctx context.Context, secretID uuid.UUID, keep, keepDays int) (int64, error)
	ArchiveCurrentVersion(ctx context.Context, versionID uuid.UUID, s store.Secret) error
	UpdateSecret(ctx context.Context, id uuid.UUID, newVersion int, ciphertext, metadata []byte, author, description string) (store.Secret, error)

	// Exec lets Update/Rollback take a transactional advisory lock (§4.3)
	// on the connection their transaction is already running on.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// masterKeySource is the narrow slice of the seal actor the manager
// needs: an I/O-free, in-memory lookup (§5 suspension points — this
// must stay off the blocking path).
type masterKeySource interface {
	GetMasterKey() ([]byte, error)
}

// policyEvaluator is the narrow slice of the C7 evaluator the manager
// needs for read_for_entity.
type policyEvaluator interface {
	Evaluate(ctx context.Context, req policy.Request) (policy.Decision, error)
}

// auditLogger is the narrow slice of the C6 writer the manager needs.
type auditLogger interface {
	LogEvent(ctx context.Context, e audit.Event) (store.AuditEvent, error)
}

// transact runs fn against a transactional secretStore, committing on
// success. Swappable in tests so update/rollback logic can be exercised
// against an in-memory fake without a real transaction.
type transact func(ctx context.Context, fn func(q secretStore) error) error

// Manager implements the secrets manager's public operations.
type Manager struct {
	store    secretStore
	seal     masterKeySource
	policy   policyEvaluator
	auditlog auditLogger
	transact transact
}

// New builds a Manager backed by a live Postgres pool.
func New(pool *pgxpool.Pool, seal masterKeySource, policyEval policyEvaluator, auditWriter auditLogger) *Manager {
	queries := store.New(pool)
	return &Manager{
		store:    queries,
		seal:     seal,
		policy:   policyEval,
		auditlog: auditWriter,
		transact: func(ctx context.Context, fn func(q secretStore) error) error {
			return store.WithTx(ctx, pool, func(q *store.Queries) error { return fn(q) })
		},
	}
}

// CreateAttrs is the input to Create.
type CreateAttrs struct {
	Path        string
	Data        json.RawMessage
	Metadata    json.RawMessage
	Author      string
	Description string
}

// Create encrypts attrs.Data under the master key and inserts a new
// secret at version 1. Requires the vault unsealed.
func (m *Manager) Create(ctx context.Context, attrs CreateAttrs) (store.Secret, error) {
	if !ValidPath(attrs.Path) {
		return store.Secret{}, apperror.New(apperror.KindNotFound, "invalid secret path syntax")
	}

	key, err := m.seal.GetMasterKey()
	if err != nil {
		return store.Secret{}, err
	}

	ciphertext, err := crypto.Seal(key, attrs.Data, []byte(attrs.Path))
	if err != nil {
		return store.Secret{}, apperror.Wrap(apperror.KindAEADFailure, "encrypting secret data", err)
	}

	metadata := attrs.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	s, err := m.store.CreateSecret(ctx, uuid.New(), attrs.Path, ciphertext, metadata, attrs.Author, attrs.Description)
	if err != nil {
		return store.Secret{}, err
	}
	return s, nil
}

// ReadDecrypted unwraps a secret's current ciphertext and returns the
// plaintext data. Policy is not evaluated here — callers in the API
// layer must evaluate policy first (§4.8).
func (m *Manager) ReadDecrypted(ctx context.Context, path string) (json.RawMessage, store.Secret, error) {
	s, err := m.store.GetSecretByPath(ctx, path)
	if err != nil {
		return nil, store.Secret{}, err
	}

	key, err := m.seal.GetMasterKey()
	if err != nil {
		return nil, store.Secret{}, err
	}

	plaintext, err := crypto.Open(key, s.Ciphertext, []byte(s.Path))
	if err != nil {
		return nil, store.Secret{}, err
	}
	return json.RawMessage(plaintext), s, nil
}

// ReadForEntity combines policy evaluation (C7) with decryption,
// auditing the outcome either way and recording response time (§4.8).
// reqIP is the caller's source address, evaluated against any IP
// restriction on the bound policy; a zero netip.Addr matches only
// policies with no IP restriction. Every audit entry carries the
// structured fields §3's Data Model calls for — secret ID, whether
// access was granted, and (on denial) the specific policy/rule reason
// decision.Reason names, rather than a fixed "policy_denied" string.
func (m *Manager) ReadForEntity(ctx context.Context, entityType, entityID, path string, reqIP netip.Addr) (json.RawMessage, store.Secret, error) {
	start := time.Now()

	s, lookupErr := m.store.GetSecretByPath(ctx, path)
	var secretID *uuid.UUID
	if lookupErr == nil {
		id := s.ID
		secretID = &id
	}
	sourceIP := reqIP.String()

	decision, err := m.policy.Evaluate(ctx, policy.Request{
		EntityType: entityType,
		EntityID:   entityID,
		Path:       path,
		Operation:  "read",
		SourceIP:   reqIP,
		When:       start,
	})
	if err != nil {
		m.recordRead(ctx, "error", start)
		return nil, store.Secret{}, err
	}

	if !decision.Allowed {
		m.recordRead(ctx, "denied", start)
		denied := false
		m.audit(ctx, audit.Event{
			ActorType:     entityType,
			ActorID:       entityID,
			Action:        "secret.access_denied",
			Target:        path,
			Outcome:       "denied",
			Detail:        auditDetail(decision.Reason),
			SecretID:      secretID,
			AccessGranted: &denied,
			DenialReason:  decision.Reason,
			SourceIP:      sourceIP,
		})
		return nil, store.Secret{}, apperror.New(apperror.KindPolicyDenied, decision.Reason)
	}

	if lookupErr != nil {
		m.recordRead(ctx, "error", start)
		return nil, store.Secret{}, lookupErr
	}

	key, err := m.seal.GetMasterKey()
	if err != nil {
		m.recordRead(ctx, "error", start)
		return nil, store.Secret{}, err
	}

	plaintext, err := crypto.Open(key, s.Ciphertext, []byte(s.Path))
	if err != nil {
		m.recordRead(ctx, "error", start)
		denied := false
		m.audit(ctx, audit.Event{
			ActorType:     entityType,
			ActorID:       entityID,
			Action:        "secret.access_denied",
			Target:        path,
			Outcome:       "error",
			Detail:        auditDetail("decryption_failed"),
			SecretID:      secretID,
			AccessGranted: &denied,
			DenialReason:  "decryption_failed",
			SourceIP:      sourceIP,
		})
		return nil, store.Secret{}, err
	}

	m.recordRead(ctx, "granted", start)
	granted := true
	version := s.CurrentVersion
	m.audit(ctx, audit.Event{
		ActorType:     entityType,
		ActorID:       entityID,
		Action:        "secret.accessed",
		Target:        path,
		Outcome:       "granted",
		SecretID:      secretID,
		SecretVersion: &version,
		AccessGranted: &granted,
		SourceIP:      sourceIP,
	})
	return json.RawMessage(plaintext), s, nil
}

// auditDetail renders a denial reason as the audit event's free-form
// detail blob, kept alongside the structured DenialReason column for
// callers that only read Detail.
func auditDetail(reason string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"reason": reason})
	return b
}

func (m *Manager) recordRead(ctx context.Context, outcome string, start time.Time) {
	telemetry.SecretReadsTotal.WithLabelValues(outcome).Inc()
	telemetry.SecretReadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (m *Manager) audit(ctx context.Context, e audit.Event) {
	if m.auditlog == nil {
		return
	}
	_, _ = m.auditlog.LogEvent(ctx, e)
}

// UpdateAttrs is the input to Update. A nil Data leaves the ciphertext
// unchanged while still bumping metadata/author/description.
type UpdateAttrs struct {
	Data        json.RawMessage
	Metadata    json.RawMessage
	Author      string
	Description string
}

// Update atomically archives the current version then overwrites the
// live row (§4.8: archive-then-update ordering; if the version insert
// fails, the update does not happen).
func (m *Manager) Update(ctx context.Context, id uuid.UUID, attrs UpdateAttrs) (store.Secret, error) {
	var updated store.Secret

	err := m.transact(ctx, func(q secretStore) error {
		// Transactional advisory lock (§4.3): serializes concurrent
		// Update/Rollback calls against the same secret for the rest of
		// this transaction, on top of whatever row-level locking the
		// archive-then-update statements already imply. Released
		// automatically when the transaction commits or rolls back.
		if err := lock.AcquireTx(ctx, q, "secret:"+id.String()); err != nil {
			return err
		}

		current, err := q.GetSecretByID(ctx, id)
		if err != nil {
			return err
		}

		if err := q.ArchiveCurrentVersion(ctx, uuid.New(), current); err != nil {
			return err
		}

		ciphertext := current.Ciphertext
		if attrs.Data != nil {
			key, err := m.seal.GetMasterKey()
			if err != nil {
				return err
			}
			ciphertext, err = crypto.Seal(key, attrs.Data, []byte(current.Path))
			if err != nil {
				return apperror.Wrap(apperror.KindAEADFailure, "encrypting secret data", err)
			}
		}

		metadata := attrs.Metadata
		if metadata == nil {
			metadata = current.Metadata
		}

		updated, err = q.UpdateSecret(ctx, id, current.CurrentVersion+1, ciphertext, metadata, attrs.Author, attrs.Description)
		return err
	})
	if err != nil {
		return store.Secret{}, err
	}
	return updated, nil
}

// Rollback creates a new forward version whose data equals targetVersion
// — version numbers are never reused, so a rollback is indistinguishable
// from an update whose new content happens to match an old one.
func (m *Manager) Rollback(ctx context.Context, id uuid.UUID, targetVersion int) (store.Secret, error) {
	var rolledBack store.Secret

	err := m.transact(ctx, func(q secretStore) error {
		if err := lock.AcquireTx(ctx, q, "secret:"+id.String()); err != nil {
			return err
		}

		current, err := q.GetSecretByID(ctx, id)
		if err != nil {
			return err
		}

		target, err := q.GetVersion(ctx, id, targetVersion)
		if err != nil {
			return err
		}

		if err := q.ArchiveCurrentVersion(ctx, uuid.New(), current); err != nil {
			return err
		}

		rolledBack, err = q.UpdateSecret(ctx, id, current.CurrentVersion+1, target.Ciphertext, current.Metadata,
			target.Author, target.Description)
		return err
	})
	if err != nil {
		return store.Secret{}, err
	}
	return rolledBack, nil
}

// PruneVersions deletes archived versions of id beyond the most recent
// keepK and older than keepDays (§4.8).
func (m *Manager) PruneVersions(ctx context.Context, id uuid.UUID, keepK, keepDays int) (int64, error) {
	return m.store.PruneVersions(ctx, id, keepK, keepDays)
}

// VersionDiff is the result of comparing two versions of a secret.
type VersionDiff struct {
	SizeDeltaBytes int    `json:"size_delta_bytes"`
	AuthorA        string `json:"author_a"`
	AuthorB        string `json:"author_b"`
	DescriptionA   string `json:"description_a"`
	DescriptionB   string `json:"description_b"`
}

// CompareVersions returns metadata diffs between two versions of a
// secret — never decrypts either side, per §4.8 ("reads only
// metadata"). Either version may be the live current version or an
// archived one.
func (m *Manager) CompareVersions(ctx context.Context, id uuid.UUID, a, b int) (VersionDiff, error) {
	ciphertextA, authorA, descA, err := m.versionMetadata(ctx, id, a)
	if err != nil {
		return VersionDiff{}, err
	}
	ciphertextB, authorB, descB, err := m.versionMetadata(ctx, id, b)
	if err != nil {
		return VersionDiff{}, err
	}
	return VersionDiff{
		SizeDeltaBytes: len(ciphertextB) - len(ciphertextA),
		AuthorA:        authorA,
		AuthorB:        authorB,
		DescriptionA:   descA,
		DescriptionB:   descB,
	}, nil
}

// versionMetadata resolves a version number to its ciphertext length and
// authorship metadata, checking the live row before the archive.
func (m *Manager) versionMetadata(ctx context.Context, id uuid.UUID, version int) (ciphertext []byte, author, description string, err error) {
	current, err := m.store.GetSecretByID(ctx, id)
	if err == nil && current.CurrentVersion == version {
		return current.Ciphertext, current.Author, current.Description, nil
	}

	v, err := m.store.GetVersion(ctx, id, version)
	if err != nil {
		return nil, "", "", err
	}
	return v.Ciphertext, v.Author, v.Description, nil
}

// List returns every secret's metadata (no decryption), paginated.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]store.Secret, error) {
	return m.store.ListSecrets(ctx, limit, offset)
}

// Get returns a secret's metadata row without decrypting it.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (store.Secret, error) {
	return m.store.GetSecretByID(ctx, id)
}

// Stats is a summary of the secret store, read from metadata only.
type Stats struct {
	TotalSecrets int64 `json:"total_secrets"`
}

// StatsOf reports aggregate counters over the secret store.
func (m *Manager) StatsOf(ctx context.Context) (Stats, error) {
	n, err := m.store.CountSecrets(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalSecrets: n}, nil
}

// Delete removes a secret and, via ON DELETE CASCADE, its versions,
// leases, and rotation history.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	return m.store.DeleteSecret(ctx, id)
}

// ListVersions returns every archived version of a secret, newest first.
func (m *Manager) ListVersions(ctx context.Context, id uuid.UUID) ([]store.SecretVersion, error) {
	return m.store.ListVersions(ctx, id)
}
