package crypto

import (
	"bytes"
	"testing"
)

func TestSplitCombineRoundTrip(t *testing.T) {
	cases := []struct {
		t, n int
	}{
		{1, 1}, {1, 5}, {2, 3}, {3, 5}, {5, 5}, {3, 10},
	}

	secret := []byte("a 32 byte master key goes here!")

	for _, c := range cases {
		shares, err := Split(secret, c.t, c.n)
		if err != nil {
			t.Fatalf("Split(t=%d,n=%d): %v", c.t, c.n, err)
		}
		if len(shares) != c.n {
			t.Fatalf("expected %d shares, got %d", c.n, len(shares))
		}

		// Any t distinct shares reconstruct the secret.
		got, err := Combine(shares[:c.t])
		if err != nil {
			t.Fatalf("Combine: %v", err)
		}
		if !bytes.Equal(got, secret) {
			t.Fatalf("t=%d,n=%d: combined secret mismatch", c.t, c.n)
		}
	}
}

func TestCombineAnySubsetOfSize(t *testing.T) {
	secret := []byte("12345678901234567890123456789012")
	shares, err := Split(secret, 3, 5)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	subsets := [][]Share{
		{shares[0], shares[1], shares[2]},
		{shares[1], shares[2], shares[3]},
		{shares[0], shares[2], shares[4]},
		{shares[2], shares[3], shares[4]},
	}

	for i, subset := range subsets {
		got, err := Combine(subset)
		if err != nil {
			t.Fatalf("subset %d: Combine: %v", i, err)
		}
		if !bytes.Equal(got, secret) {
			t.Fatalf("subset %d: mismatch", i)
		}
	}
}

func TestSplitInvalidParams(t *testing.T) {
	secret := []byte("x")

	if _, err := Split(secret, 0, 5); err == nil {
		t.Fatalf("expected error for threshold 0")
	}
	if _, err := Split(secret, 6, 5); err == nil {
		t.Fatalf("expected error for threshold > n")
	}
	if _, err := Split(secret, 1, 256); err == nil {
		t.Fatalf("expected error for n > 255")
	}
	if _, err := Split(nil, 1, 1); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestShareEncodeParseRoundTrip(t *testing.T) {
	secret := []byte("another master key, 32 bytes!!!")
	shares, err := Split(secret, 2, 3)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	for _, sh := range shares {
		encoded := sh.Encode()
		decoded, err := ParseShare(encoded)
		if err != nil {
			t.Fatalf("ParseShare: %v", err)
		}
		if decoded.ID != sh.ID || !bytes.Equal(decoded.Value, sh.Value) {
			t.Fatalf("round trip mismatch for share %d", sh.ID)
		}
	}
}

func TestParseShareStructuralFailures(t *testing.T) {
	cases := []string{
		"",
		"zz",       // not hex
		"00",       // too short
		"01000100", // length header says 1 byte but payload has 1 byte of 0x00... actually valid; replaced below
	}
	// The last case is intentionally valid-shaped; replace with a genuine
	// mismatch: header claims length 5 but only 1 byte follows.
	cases[3] = "0100050001"

	for _, c := range cases {
		if _, err := ParseShare(c); err == nil {
			t.Fatalf("expected structural error for input %q", c)
		}
	}

	if _, err := ParseShare("00000100ff"); err == nil {
		t.Fatalf("expected error for zero share id")
	}
}

func TestInsufficientSharesYieldWrongSecret(t *testing.T) {
	secret := []byte("threshold soundness test target")
	shares, err := Split(secret, 4, 6)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	// t-1 shares must NOT reconstruct the original secret.
	got, err := Combine(shares[:3])
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if bytes.Equal(got, secret) {
		t.Fatalf("t-1 shares should not reconstruct the secret")
	}
}
