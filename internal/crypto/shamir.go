package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Share is one of n pieces produced by Split. ID is the share's stable
// x-coordinate (1..255); duplicate IDs submitted in the same unseal run
// are the same share and must be deduplicated by the caller.
type Share struct {
	ID    byte
	Value []byte
}

// Encode serializes a share to an opaque hex string: 1-byte ID, 2-byte
// big-endian length, then the value bytes. The length prefix lets Parse
// perform a structural check independent of knowing the secret size.
func (s Share) Encode() string {
	buf := make([]byte, 0, 1+2+len(s.Value))
	buf = append(buf, s.ID)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s.Value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s.Value...)
	return hex.EncodeToString(buf)
}

// ParseShare decodes and structurally validates a share produced by Encode.
// It returns an apperror of kind invalid_share on any structural failure:
// malformed hex, truncated header, length mismatch, or a zero ID (x=0 is
// the secret itself in Shamir's scheme and is never a valid share point).
func ParseShare(s string) (Share, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Share{}, errInvalidShare("not valid hex")
	}
	if len(raw) < 3 {
		return Share{}, errInvalidShare("too short to contain a header")
	}

	id := raw[0]
	if id == 0 {
		return Share{}, errInvalidShare("share id must not be zero")
	}

	wantLen := int(binary.BigEndian.Uint16(raw[1:3]))
	value := raw[3:]
	if len(value) != wantLen {
		return Share{}, errInvalidShare("length header does not match payload")
	}
	if wantLen == 0 {
		return Share{}, errInvalidShare("empty share value")
	}

	return Share{ID: id, Value: value}, nil
}

// Split divides secret into n shares such that any t of them reconstruct
// it exactly, and fewer than t reveal no information about it. t and n
// must satisfy 1 <= t <= n <= 255.
func Split(secret []byte, threshold, totalShares int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret must not be empty")
	}
	if threshold < 1 || totalShares < threshold || totalShares > 255 {
		return nil, fmt.Errorf("invalid threshold/shares: need 1 <= t(%d) <= n(%d) <= 255", threshold, totalShares)
	}

	shares := make([]Share, totalShares)
	for i := range shares {
		shares[i] = Share{ID: byte(i + 1), Value: make([]byte, len(secret))}
	}

	// Degenerate t=1 case: every share is the secret itself.
	if threshold == 1 {
		for i := range shares {
			copy(shares[i].Value, secret)
		}
		return shares, nil
	}

	coeffs := make([]byte, threshold-1)
	for byteIdx, secretByte := range secret {
		if _, err := rand.Read(coeffs); err != nil {
			return nil, fmt.Errorf("reading random polynomial coefficients: %w", err)
		}
		for _, sh := range shares {
			shares[sh.ID-1].Value[byteIdx] = evalPolynomial(secretByte, coeffs, sh.ID)
		}
	}

	return shares, nil
}

// Combine reconstructs the secret from exactly the given set of shares via
// Lagrange interpolation at x=0 in GF(256). The caller is responsible for
// ensuring the set has size >= the original threshold and contains no
// duplicate IDs; Combine itself only requires a non-empty, length-consistent
// set. A corrupted or mismatched share set silently produces garbage output
// rather than an error. The seal package reports reconstruction_failed
// only when Combine returns an error; it does not check the reconstructed
// key, so such a share set unseals the vault with a wrong master key.
func Combine(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("no shares provided")
	}

	secretLen := len(shares[0].Value)
	xs := make([]byte, len(shares))
	for i, sh := range shares {
		if len(sh.Value) != secretLen {
			return nil, fmt.Errorf("share length mismatch: share %d has %d bytes, want %d", i, len(sh.Value), secretLen)
		}
		xs[i] = sh.ID
	}

	secret := make([]byte, secretLen)
	for byteIdx := 0; byteIdx < secretLen; byteIdx++ {
		ys := make([]byte, len(shares))
		for i, sh := range shares {
			ys[i] = sh.Value[byteIdx]
		}
		secret[byteIdx] = interpolateAtZero(xs, ys)
	}

	return secret, nil
}

// evalPolynomial evaluates, at point x, the polynomial whose constant term
// is secretByte and whose remaining coefficients are coeffs (highest
// degree first is not required — order only has to be consistent across
// all x evaluations for the same byte, which it is here).
func evalPolynomial(secretByte byte, coeffs []byte, x byte) byte {
	// Horner's method, evaluating from the highest-degree coefficient down
	// to the constant term (secretByte).
	result := byte(0)
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = gfAdd(gfMul(result, x), coeffs[i])
	}
	return gfAdd(gfMul(result, x), secretByte)
}

// interpolateAtZero computes f(0) given points (xs[i], ys[i]) via the
// Lagrange interpolation formula, specialized to evaluation at x=0:
//
//	f(0) = sum_i ys[i] * prod_{j != i} ( xs[j] / (xs[j] - xs[i]) )
//
// all arithmetic over GF(256), where subtraction is XOR-equivalent to addition.
func interpolateAtZero(xs, ys []byte) byte {
	var result byte
	for i := range xs {
		term := ys[i]
		for j := range xs {
			if i == j {
				continue
			}
			num := xs[j]
			den := gfAdd(xs[j], xs[i])
			term = gfMul(term, gfDiv(num, den))
		}
		result = gfAdd(result, term)
	}
	return result
}
