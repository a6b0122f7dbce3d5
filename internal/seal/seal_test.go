package seal

import (
	"context"
	"testing"
	"time"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/crypto"
)

func newTestSeal(t *testing.T) (*Seal, context.Context, context.CancelFunc) {
	t.Helper()
	q := newNoopQueries()
	s := New(q, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return s, ctx, cancel
}

func TestInitializeThenUnsealReachesUnsealed(t *testing.T) {
	s, ctx, cancel := newTestSeal(t)
	defer cancel()

	shares, err := s.Initialize(ctx, 3, 5)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(shares) != 5 {
		t.Fatalf("expected 5 shares, got %d", len(shares))
	}

	if _, err := s.GetMasterKey(); !apperror.Is(err, apperror.KindSealed) {
		t.Fatalf("expected sealed error before unseal, got %v", err)
	}

	var snap StatusSnapshot
	for i := 0; i < 2; i++ {
		snap, err = s.Unseal(ctx, shares[i])
		if err != nil {
			t.Fatalf("Unseal share %d: %v", i, err)
		}
		if snap.State != StatusSealed {
			t.Fatalf("expected still sealed after %d/3 shares, got %s", i+1, snap.State)
		}
	}

	snap, err = s.Unseal(ctx, shares[2])
	if err != nil {
		t.Fatalf("Unseal final share: %v", err)
	}
	if snap.State != StatusUnsealed {
		t.Fatalf("expected unsealed after threshold met, got %s", snap.State)
	}

	key, err := s.GetMasterKey()
	if err != nil {
		t.Fatalf("GetMasterKey after unseal: %v", err)
	}
	if len(key) != crypto.KeySize {
		t.Fatalf("expected %d byte key, got %d", crypto.KeySize, len(key))
	}
}

func TestUnsealDedupesRepeatedShareID(t *testing.T) {
	s, ctx, cancel := newTestSeal(t)
	defer cancel()

	shares, err := s.Initialize(ctx, 2, 3)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := s.Unseal(ctx, shares[0]); err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	// Resubmitting the same share must not count twice toward the threshold.
	snap, err := s.Unseal(ctx, shares[0])
	if err != nil {
		t.Fatalf("Unseal duplicate: %v", err)
	}
	if snap.State != StatusSealed {
		t.Fatalf("expected still sealed, duplicate share must not advance threshold")
	}
}

func TestSealZeroizesMasterKey(t *testing.T) {
	s, ctx, cancel := newTestSeal(t)
	defer cancel()

	shares, err := s.Initialize(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := s.Unseal(ctx, shares[0]); err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if _, err := s.GetMasterKey(); err != nil {
		t.Fatalf("expected master key available while unsealed: %v", err)
	}

	if err := s.Seal(ctx); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s.GetMasterKey(); !apperror.Is(err, apperror.KindSealed) {
		t.Fatalf("expected sealed error after Seal, got %v", err)
	}
}

func TestUnsealBeforeInitializeFails(t *testing.T) {
	s, ctx, cancel := newTestSeal(t)
	defer cancel()

	_, err := s.Unseal(ctx, crypto.Share{ID: 1, Value: []byte("x")})
	if !apperror.Is(err, apperror.KindNotInitialized) {
		t.Fatalf("expected not_initialized, got %v", err)
	}
}

func TestDoubleInitializeFails(t *testing.T) {
	s, ctx, cancel := newTestSeal(t)
	defer cancel()

	if _, err := s.Initialize(ctx, 1, 1); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := s.Initialize(ctx, 1, 1); !apperror.Is(err, apperror.KindAlreadyInitialized) {
		t.Fatalf("expected already_initialized, got %v", err)
	}
}

func TestAutoSealFiresAfterIdleTimeout(t *testing.T) {
	q := newNoopQueries()
	s := New(q, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	shares, err := s.Initialize(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := s.Unseal(ctx, shares[0]); err != nil {
		t.Fatalf("Unseal: %v", err)
	}

	// No further access: auto-seal should fire once the idle window elapses.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if _, err := s.GetMasterKey(); apperror.Is(err, apperror.KindSealed) {
				return
			}
		case <-deadline:
			t.Fatalf("expected auto-seal to fire within deadline")
		}
	}
}

func TestContinuousAccessPostponesAutoSeal(t *testing.T) {
	q := newNoopQueries()
	s := New(q, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	shares, err := s.Initialize(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := s.Unseal(ctx, shares[0]); err != nil {
		t.Fatalf("Unseal: %v", err)
	}

	// Access well inside the auto-seal window, repeatedly, for longer than
	// the configured window. The vault must stay unsealed throughout since
	// every access rearms the idle countdown.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := s.GetMasterKey(); err != nil {
			t.Fatalf("expected master key available under continuous access, got %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := s.GetMasterKey(); err != nil {
		t.Fatalf("expected still unsealed after continuous access, got %v", err)
	}
}
