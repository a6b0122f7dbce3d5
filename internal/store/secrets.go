package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const secretColumns = `id, path, current_version, version_count, ciphertext, metadata, author, description, created_at, updated_at`

// Secret is the live (current-version) row for one secret path.
type Secret struct {
	ID             uuid.UUID
	Path           string
	CurrentVersion int
	VersionCount   int
	Ciphertext     []byte
	Metadata       []byte // raw JSON
	Author         string
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SecretVersion is one archived prior version of a secret.
type SecretVersion struct {
	ID          uuid.UUID
	SecretID    uuid.UUID
	Version     int
	Ciphertext  []byte
	Author      string
	Description string
	ArchivedAt  time.Time
}

// ErrSecretNotFound is returned when a secret path does not exist.
var ErrSecretNotFound = errors.New("secret not found")

func scanSecret(row pgx.Row) (Secret, error) {
	var s Secret
	err := row.Scan(&s.ID, &s.Path, &s.CurrentVersion, &s.VersionCount, &s.Ciphertext, &s.Metadata, &s.Author, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// CreateSecret inserts a brand-new secret at version 1.
func (q *Queries) CreateSecret(ctx context.Context, id uuid.UUID, path string, ciphertext, metadata []byte, author, description string) (Secret, error) {
	const query = `INSERT INTO secrets (id, path, current_version, version_count, ciphertext, metadata, author, description)
	VALUES ($1, $2, 1, 1, $3, $4, $5, $6)
	RETURNING ` + secretColumns
	row := q.db.QueryRow(ctx, query, id, path, ciphertext, metadata, author, description)
	return scanSecret(row)
}

// GetSecretByPath fetches the live row for a secret path.
func (q *Queries) GetSecretByPath(ctx context.Context, path string) (Secret, error) {
	const query = `SELECT ` + secretColumns + ` FROM secrets WHERE path = $1`
	row := q.db.QueryRow(ctx, query, path)
	s, err := scanSecret(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Secret{}, ErrSecretNotFound
	}
	if err != nil {
		return Secret{}, fmt.Errorf("getting secret: %w", err)
	}
	return s, nil
}

// GetSecretByID fetches the live row by primary key.
func (q *Queries) GetSecretByID(ctx context.Context, id uuid.UUID) (Secret, error) {
	const query = `SELECT ` + secretColumns + ` FROM secrets WHERE id = $1`
	row := q.db.QueryRow(ctx, query, id)
	s, err := scanSecret(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Secret{}, ErrSecretNotFound
	}
	if err != nil {
		return Secret{}, fmt.Errorf("getting secret: %w", err)
	}
	return s, nil
}

// ListSecrets returns every secret path, for listing/stats (§4.8).
func (q *Queries) ListSecrets(ctx context.Context, limit, offset int) ([]Secret, error) {
	const query = `SELECT ` + secretColumns + ` FROM secrets ORDER BY path LIMIT $1 OFFSET $2`
	rows, err := q.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	defer rows.Close()

	var out []Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning secret row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountSecrets returns the total number of secret paths.
func (q *Queries) CountSecrets(ctx context.Context) (int64, error) {
	const query = `SELECT count(*) FROM secrets`
	var n int64
	if err := q.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting secrets: %w", err)
	}
	return n, nil
}

// ArchiveCurrentVersion copies a secret's live ciphertext into
// secret_versions. Must run in the same transaction as the UpdateSecret
// call that follows it, so a crash between the two never loses the
// previous ciphertext (§4.8 update ordering: archive before overwrite).
func (q *Queries) ArchiveCurrentVersion(ctx context.Context, versionID uuid.UUID, s Secret) error {
	const query = `INSERT INTO secret_versions (id, secret_id, version, ciphertext, author, description)
	VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := q.db.Exec(ctx, query, versionID, s.ID, s.CurrentVersion, s.Ciphertext, s.Author, s.Description)
	if err != nil {
		return fmt.Errorf("archiving secret version: %w", err)
	}
	return nil
}

// UpdateSecret overwrites the live ciphertext and bumps current_version to
// newVersion, which must be strictly greater than any version ever issued
// for this secret (version numbers are never reused, even after rollback).
func (q *Queries) UpdateSecret(ctx context.Context, id uuid.UUID, newVersion int, ciphertext, metadata []byte, author, description string) (Secret, error) {
	const query = `UPDATE secrets SET
		current_version = $2,
		version_count = version_count + 1,
		ciphertext = $3,
		metadata = $4,
		author = $5,
		description = $6,
		updated_at = now()
	WHERE id = $1
	RETURNING ` + secretColumns
	row := q.db.QueryRow(ctx, query, id, newVersion, ciphertext, metadata, author, description)
	return scanSecret(row)
}

// DeleteSecret removes a secret and (via ON DELETE CASCADE) its versions,
// leases, and rotation history.
func (q *Queries) DeleteSecret(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM secrets WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSecretNotFound
	}
	return nil
}

// GetVersion fetches one archived version of a secret.
func (q *Queries) GetVersion(ctx context.Context, secretID uuid.UUID, version int) (SecretVersion, error) {
	const query = `SELECT id, secret_id, version, ciphertext, author, description, archived_at FROM secret_versions WHERE secret_id = $1 AND version = $2`
	var v SecretVersion
	err := q.db.QueryRow(ctx, query, secretID, version).Scan(&v.ID, &v.SecretID, &v.Version, &v.Ciphertext, &v.Author, &v.Description, &v.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SecretVersion{}, ErrSecretNotFound
	}
	if err != nil {
		return SecretVersion{}, fmt.Errorf("getting secret version: %w", err)
	}
	return v, nil
}

// ListVersions returns every archived version of a secret, newest first.
func (q *Queries) ListVersions(ctx context.Context, secretID uuid.UUID) ([]SecretVersion, error) {
	const query = `SELECT id, secret_id, version, ciphertext, author, description, archived_at FROM secret_versions WHERE secret_id = $1 ORDER BY version DESC`
	rows, err := q.db.Query(ctx, query, secretID)
	if err != nil {
		return nil, fmt.Errorf("listing secret versions: %w", err)
	}
	defer rows.Close()

	var out []SecretVersion
	for rows.Next() {
		var v SecretVersion
		if err := rows.Scan(&v.ID, &v.SecretID, &v.Version, &v.Ciphertext, &v.Author, &v.Description, &v.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scanning secret version row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PruneVersions deletes archived versions of secretID that are both
// outside the most recent keep versions and older than keepDays (§4.8
// prune_versions: "not in the last k and not newer than
// keep_days" — a version survives if either condition keeps it).
func (q *Queries) PruneVersions(ctx context.Context, secretID uuid.UUID, keep int, keepDays int) (int64, error) {
	const query = `DELETE FROM secret_versions
	WHERE secret_id = $1
	AND id NOT IN (
		SELECT id FROM secret_versions WHERE secret_id = $1 ORDER BY version DESC LIMIT $2
	)
	AND archived_at < now() - make_interval(days => $3)`
	tag, err := q.db.Exec(ctx, query, secretID, keep, keepDays)
	if err != nil {
		return 0, fmt.Errorf("pruning secret versions: %w", err)
	}
	return tag.RowsAffected(), nil
}
