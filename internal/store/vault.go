package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// VaultConfig is the singleton row written once by Initialize (§4.4) and
// read on every process start to recover the Shamir threshold. It also
// holds two random salts generated at init; Seal.Run loads KeyWrapSalt
// into its state, and no code in this module derives a key from either
// salt (the audit HMAC key comes from config).
type VaultConfig struct {
	Threshold     int
	TotalShares   int
	KeyWrapSalt   []byte
	AuditHMACSalt []byte
}

// ErrNotInitialized is returned by GetVaultConfig before Initialize has run.
var ErrNotInitialized = errors.New("vault not initialized")

// GetVaultConfig reads the singleton vault_config row.
func (q *Queries) GetVaultConfig(ctx context.Context) (VaultConfig, error) {
	const query = `SELECT threshold, total_shares, key_wrap_salt, audit_hmac_salt FROM vault_config WHERE id`
	var c VaultConfig
	err := q.db.QueryRow(ctx, query).Scan(&c.Threshold, &c.TotalShares, &c.KeyWrapSalt, &c.AuditHMACSalt)
	if errors.Is(err, pgx.ErrNoRows) {
		return VaultConfig{}, ErrNotInitialized
	}
	if err != nil {
		return VaultConfig{}, fmt.Errorf("reading vault config: %w", err)
	}
	return c, nil
}

// CreateVaultConfig inserts the singleton vault_config row. It fails with
// a unique-violation if init has already run; callers hold the "init"
// distributed lock before calling this so that check-then-insert is race-free.
func (q *Queries) CreateVaultConfig(ctx context.Context, c VaultConfig) error {
	const query = `INSERT INTO vault_config (id, threshold, total_shares, key_wrap_salt, audit_hmac_salt)
	VALUES (TRUE, $1, $2, $3, $4)`
	_, err := q.db.Exec(ctx, query, c.Threshold, c.TotalShares, c.KeyWrapSalt, c.AuditHMACSalt)
	if err != nil {
		return fmt.Errorf("creating vault config: %w", err)
	}
	return nil
}
