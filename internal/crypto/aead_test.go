package crypto

import (
	"bytes"
	"testing"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	plaintext := []byte(`{"username":"svc","password":"hunter2"}`)
	blob, err := Seal(key, plaintext, nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open(key, blob, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestSealBlobShape(t *testing.T) {
	key, _ := GenerateKey()
	blob, err := Seal(key, []byte("hello"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// version(1) + nonce(12) + ciphertext(5) + tag(16)
	want := 1 + nonceSize + len("hello") + tagSize
	if len(blob) != want {
		t.Fatalf("blob length = %d, want %d", len(blob), want)
	}
	if blob[0] != blobVersion {
		t.Fatalf("blob version byte = %d, want %d", blob[0], blobVersion)
	}
}

func TestOpenDetectsTamper(t *testing.T) {
	key, _ := GenerateKey()
	blob, err := Seal(key, []byte("sensitive"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Open(key, tampered, nil)
	if !apperror.Is(err, apperror.KindAEADFailure) {
		t.Fatalf("expected aead_failure, got %v", err)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()

	blob, err := Seal(key, []byte("sensitive"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(other, blob, nil); !apperror.Is(err, apperror.KindAEADFailure) {
		t.Fatalf("expected aead_failure with wrong key, got %v", err)
	}
}

func TestSealProducesDistinctNoncesPerCall(t *testing.T) {
	key, _ := GenerateKey()
	a, _ := Seal(key, []byte("same plaintext"), nil)
	b, _ := Seal(key, []byte("same plaintext"), nil)

	nonceA := a[1 : 1+nonceSize]
	nonceB := b[1 : 1+nonceSize]
	if bytes.Equal(nonceA, nonceB) {
		t.Fatalf("expected distinct random nonces across calls")
	}
}

func TestAAD(t *testing.T) {
	key, _ := GenerateKey()
	aad := []byte("secret-path:prod.db.password")

	blob, err := Seal(key, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(key, blob, []byte("different-aad")); !apperror.Is(err, apperror.KindAEADFailure) {
		t.Fatalf("expected aead_failure for mismatched AAD")
	}

	if _, err := Open(key, blob, aad); err != nil {
		t.Fatalf("Open with correct AAD: %v", err)
	}
}
