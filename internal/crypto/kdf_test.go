package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	ikm := []byte("input key material")
	salt := []byte("salt")

	k1, err := DeriveKey(ikm, salt, "kwk-wrap")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := DeriveKey(ikm, salt, "kwk-wrap")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("expected deterministic output for identical inputs")
	}
	if len(k1) != KeySize {
		t.Fatalf("expected %d byte key, got %d", KeySize, len(k1))
	}
}

func TestDeriveKeyInfoBinding(t *testing.T) {
	ikm := []byte("input key material")
	salt := []byte("salt")

	k1, _ := DeriveKey(ikm, salt, "context-a")
	k2, _ := DeriveKey(ikm, salt, "context-b")
	if bytes.Equal(k1, k2) {
		t.Fatalf("expected different keys for different info strings")
	}
}

func TestHMACVerify(t *testing.T) {
	key := []byte("audit-hmac-key-at-least-32-bytes!!")
	data := []byte("event-id|42|deadbeef")

	mac := HMAC(key, data)
	if !VerifyHMAC(key, data, mac) {
		t.Fatalf("expected valid signature to verify")
	}

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0x01
	if VerifyHMAC(key, tampered, mac) {
		t.Fatalf("expected signature verification to fail for tampered data")
	}

	wrongKey := []byte("a different key entirely, 32+ b")
	if VerifyHMAC(wrongKey, data, mac) {
		t.Fatalf("expected signature verification to fail for wrong key")
	}
}
