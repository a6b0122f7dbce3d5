// Package crypto provides the core's cryptographic primitives (§4.1,
// component C1): AEAD encryption, key derivation, HMAC signing, and
// threshold secret sharing. No function here ever logs key material,
// intermediate state, or returns it in an error string.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of a generated symmetric key (256 bits).
const KeySize = 32

// blobVersion is the single version byte of the self-describing AEAD blob.
// Forward-compatible: a future format bump adds a new version, never
// reinterprets an old one.
const blobVersion = 1

const (
	nonceSize = chacha20poly1305.NonceSize // 12 bytes
	tagSize   = 16
)

// GenerateKey returns a fresh 256-bit symmetric key from the OS CSPRNG.
func GenerateKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("reading random key material: %w", err)
	}
	return k, nil
}

// Seal encrypts plaintext under key, producing a self-describing blob:
// 1-byte version || 12-byte nonce || ciphertext-with-16-byte-tag.
// aad is authenticated but not encrypted (may be nil).
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("reading random nonce: %w", err)
	}

	out := make([]byte, 0, 1+nonceSize+len(plaintext)+tagSize)
	out = append(out, blobVersion)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, aad)
	return out, nil
}

// Open decrypts a blob produced by Seal. Returns an *apperror.Error of
// kind aead_failure on tamper detection, never exposing the ciphertext
// or key in the error.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(blob) < 1+nonceSize+tagSize {
		return nil, errAEADFailure("blob too short")
	}
	if blob[0] != blobVersion {
		return nil, errAEADFailure("unsupported blob version")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD: %w", err)
	}

	nonce := blob[1 : 1+nonceSize]
	ciphertext := blob[1+nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errAEADFailure("authentication tag mismatch")
	}
	return plaintext, nil
}
