package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey stretches ikm (input key material) into a KeySize-byte key
// using HKDF-SHA256 with the given salt and context-binding info string.
// Used to derive the key-wrapping key (KWK) from operator-supplied or
// KMS-unwrapped material.
func DeriveKey(ikm, salt []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("deriving key via HKDF: %w", err)
	}
	return out, nil
}

// HMAC computes HMAC-SHA256(key, data).
func HMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether mac is the valid HMAC-SHA256 of data under key,
// using a constant-time comparison.
func VerifyHMAC(key, data, mac []byte) bool {
	expected := HMAC(key, data)
	return hmac.Equal(expected, mac)
}
