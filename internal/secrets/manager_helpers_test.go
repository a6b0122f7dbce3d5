package secrets

import (
	"context"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gsmlg-dev/secrethub/internal/audit"
	"github.com/gsmlg-dev/secrethub/internal/policy"
	"github.com/gsmlg-dev/secrethub/internal/store"
)

func zeroAddr() netip.Addr {
	return netip.Addr{}
}

type fakeSecretStore struct {
	secrets  map[uuid.UUID]store.Secret
	byPath   map[string]uuid.UUID
	versions map[uuid.UUID][]store.SecretVersion
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{
		secrets:  make(map[uuid.UUID]store.Secret),
		byPath:   make(map[string]uuid.UUID),
		versions: make(map[uuid.UUID][]store.SecretVersion),
	}
}

func (f *fakeSecretStore) CreateSecret(ctx context.Context, id uuid.UUID, path string, ciphertext, metadata []byte, author, description string) (store.Secret, error) {
	if _, exists := f.byPath[path]; exists {
		return store.Secret{}, store.ErrSecretNotFound
	}
	s := store.Secret{ID: id, Path: path, CurrentVersion: 1, VersionCount: 1, Ciphertext: ciphertext, Metadata: metadata, Author: author, Description: description}
	f.secrets[id] = s
	f.byPath[path] = id
	return s, nil
}

func (f *fakeSecretStore) GetSecretByPath(ctx context.Context, path string) (store.Secret, error) {
	id, ok := f.byPath[path]
	if !ok {
		return store.Secret{}, store.ErrSecretNotFound
	}
	return f.secrets[id], nil
}

func (f *fakeSecretStore) GetSecretByID(ctx context.Context, id uuid.UUID) (store.Secret, error) {
	s, ok := f.secrets[id]
	if !ok {
		return store.Secret{}, store.ErrSecretNotFound
	}
	return s, nil
}

func (f *fakeSecretStore) ListSecrets(ctx context.Context, limit, offset int) ([]store.Secret, error) {
	var out []store.Secret
	for _, s := range f.secrets {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSecretStore) CountSecrets(ctx context.Context) (int64, error) {
	return int64(len(f.secrets)), nil
}

func (f *fakeSecretStore) DeleteSecret(ctx context.Context, id uuid.UUID) error {
	s, ok := f.secrets[id]
	if !ok {
		return store.ErrSecretNotFound
	}
	delete(f.secrets, id)
	delete(f.byPath, s.Path)
	return nil
}

func (f *fakeSecretStore) GetVersion(ctx context.Context, secretID uuid.UUID, version int) (store.SecretVersion, error) {
	for _, v := range f.versions[secretID] {
		if v.Version == version {
			return v, nil
		}
	}
	return store.SecretVersion{}, store.ErrSecretNotFound
}

func (f *fakeSecretStore) ListVersions(ctx context.Context, secretID uuid.UUID) ([]store.SecretVersion, error) {
	return f.versions[secretID], nil
}

func (f *fakeSecretStore) PruneVersions(ctx context.Context, secretID uuid.UUID, keep, keepDays int) (int64, error) {
	return 0, nil
}

func (f *fakeSecretStore) ArchiveCurrentVersion(ctx context.Context, versionID uuid.UUID, s store.Secret) error {
	f.versions[s.ID] = append(f.versions[s.ID], store.SecretVersion{
		ID: versionID, SecretID: s.ID, Version: s.CurrentVersion, Ciphertext: s.Ciphertext,
		Author: s.Author, Description: s.Description,
	})
	return nil
}

func (f *fakeSecretStore) UpdateSecret(ctx context.Context, id uuid.UUID, newVersion int, ciphertext, metadata []byte, author, description string) (store.Secret, error) {
	s, ok := f.secrets[id]
	if !ok {
		return store.Secret{}, store.ErrSecretNotFound
	}
	s.CurrentVersion = newVersion
	s.VersionCount++
	s.Ciphertext = ciphertext
	s.Metadata = metadata
	s.Author = author
	s.Description = description
	f.secrets[id] = s
	return s, nil
}

// Exec is a no-op: the in-memory fake isn't a real Postgres connection, so
// the transactional advisory lock Update/Rollback take has nothing to do
// here beyond satisfying secretStore.
func (f *fakeSecretStore) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

type fakeMasterKey struct {
	key []byte
	err error
}

func (f *fakeMasterKey) GetMasterKey() ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.key, nil
}

type fakePolicyEvaluator struct {
	decision policy.Decision
	err      error
}

func (f *fakePolicyEvaluator) Evaluate(ctx context.Context, req policy.Request) (policy.Decision, error) {
	return f.decision, f.err
}

type fakeAuditLogger struct {
	events []audit.Event
}

func (f *fakeAuditLogger) LogEvent(ctx context.Context, e audit.Event) (store.AuditEvent, error) {
	f.events = append(f.events, e)
	return store.AuditEvent{}, nil
}

// newManagerForTest wires a Manager against in-memory fakes, with
// transact calling fn directly against the same fakeSecretStore rather
// than a real transaction — sufficient to exercise Update/Rollback's
// archive-then-update ordering.
func newManagerForTest(fs *fakeSecretStore, mk masterKeySource, pe policyEvaluator, al auditLogger) *Manager {
	return &Manager{
		store:    fs,
		seal:     mk,
		policy:   pe,
		auditlog: al,
		transact: func(ctx context.Context, fn func(q secretStore) error) error {
			return fn(fs)
		},
	}
}
