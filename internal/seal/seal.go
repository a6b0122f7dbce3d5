// Package seal implements the seal/unseal master-key state machine (§4.4,
// component C4): the single owner of the in-memory master key. It follows
// the single-owner actor pattern the spec's design notes call for — one
// goroutine owns all mutable state, every request is a message on a
// bounded channel, and the only thing exposed lock-free is a cheap atomic
// status snapshot for GetMasterKey's sub-millisecond hot path.
package seal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/crypto"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/telemetry"
)

// Status is the externally observable seal state.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusSealed        Status = "sealed"
	StatusUnsealed      Status = "unsealed"
)

// StatusSnapshot is the read-only view returned by Status().
type StatusSnapshot struct {
	State          Status
	Threshold      int
	TotalShares    int
	SharesProvided int
}

const mailboxSize = 32

// Seal owns the master key. Create one with New and call Run in its own
// goroutine before sending it any requests.
type Seal struct {
	queries       *store.Queries
	autoSealAfter time.Duration

	mailbox chan func(*sealState)

	// statusAtomic is updated by the actor goroutine on every transition.
	// Nothing in this package reads it: Status() answers from sealState
	// through the mailbox.
	statusAtomic atomic.String

	// masterKeyReady gates GetMasterKey: it must be an atomic load, never
	// a channel round trip, to stay I/O-free and sub-millisecond.
	masterKeyReady atomic.Bool

	// lastAccessNano is updated lock-free by every successful GetMasterKey
	// call and read by the auto-seal goroutine, so continuous secret
	// reads keep postponing auto-seal instead of it firing on a fixed
	// countdown from Unseal (§4.4: auto-seal is an inactivity timeout).
	lastAccessNano atomic.Int64

	mu        sync.RWMutex // guards masterKey only, for GetMasterKey's fast path
	masterKey []byte
}

type sealState struct {
	status         Status
	threshold      int
	totalShares    int
	keyWrapSalt    []byte
	pending        map[byte]crypto.Share // shares submitted for the in-progress unseal, deduped by ID
	autoSealTimer  *time.Timer
	autoSealCancel context.CancelFunc
}

// New constructs a Seal backed by queries for persistence, auto-sealing
// autoSealAfter after the vault becomes unsealed with no further activity
// (0 disables auto-seal).
func New(queries *store.Queries, autoSealAfter time.Duration) *Seal {
	s := &Seal{
		queries:       queries,
		autoSealAfter: autoSealAfter,
		mailbox:       make(chan func(*sealState), mailboxSize),
	}
	s.statusAtomic.Store(string(StatusUninitialized))
	return s
}

// Run processes requests until ctx is cancelled. It owns all mutable seal
// state and must be the only goroutine that touches sealState.
func (s *Seal) Run(ctx context.Context) {
	st := &sealState{status: StatusUninitialized, pending: map[byte]crypto.Share{}}

	// Recover persisted config (if init already ran in a prior process) so
	// a restart starts sealed, not uninitialized.
	if cfg, err := s.queries.GetVaultConfig(ctx); err == nil {
		st.threshold = cfg.Threshold
		st.totalShares = cfg.TotalShares
		st.keyWrapSalt = cfg.KeyWrapSalt
		st.status = StatusSealed
		s.statusAtomic.Store(string(StatusSealed))
	}

	for {
		select {
		case <-ctx.Done():
			s.zeroize(st)
			return
		case req := <-s.mailbox:
			req(st)
		}
	}
}

func (s *Seal) do(ctx context.Context, fn func(*sealState)) error {
	done := make(chan struct{})
	select {
	case s.mailbox <- func(st *sealState) {
		fn(st)
		close(done)
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialize generates a fresh master key, splits it into n shares with
// threshold t, persists the vault config, and leaves the vault sealed.
// Callers hold the cluster's "init" distributed lock around this call.
func (s *Seal) Initialize(ctx context.Context, threshold, totalShares int) ([]crypto.Share, error) {
	var (
		shares []crypto.Share
		outErr error
	)
	err := s.do(ctx, func(st *sealState) {
		if st.status != StatusUninitialized {
			outErr = apperror.New(apperror.KindAlreadyInitialized, "vault already initialized")
			return
		}

		masterKey, err := crypto.GenerateKey()
		if err != nil {
			outErr = fmt.Errorf("generating master key: %w", err)
			return
		}
		split, err := crypto.Split(masterKey, threshold, totalShares)
		if err != nil {
			outErr = fmt.Errorf("splitting master key: %w", err)
			return
		}

		salt, err := crypto.GenerateKey() // 32 random bytes, reused as a KDF salt
		if err != nil {
			outErr = fmt.Errorf("generating key-wrap salt: %w", err)
			return
		}
		auditSalt, err := crypto.GenerateKey()
		if err != nil {
			outErr = fmt.Errorf("generating audit hmac salt: %w", err)
			return
		}

		if err := s.queries.CreateVaultConfig(ctx, store.VaultConfig{
			Threshold: threshold, TotalShares: totalShares,
			KeyWrapSalt: salt, AuditHMACSalt: auditSalt,
		}); err != nil {
			outErr = fmt.Errorf("persisting vault config: %w", err)
			return
		}

		st.threshold, st.totalShares, st.keyWrapSalt = threshold, totalShares, salt
		st.status = StatusSealed
		s.statusAtomic.Store(string(StatusSealed))
		shares = split
	})
	if err != nil {
		return nil, err
	}
	return shares, outErr
}

// Unseal submits one share toward the unseal threshold. Once threshold
// distinct shares have been submitted across one or more calls, the
// master key is reconstructed, held in memory, and the auto-seal timer
// (if configured) is armed. Resubmitting a share already in the pending
// set is a no-op, not an error — the spec requires dedup-by-ID so a
// retried client request doesn't double-count.
func (s *Seal) Unseal(ctx context.Context, share crypto.Share) (StatusSnapshot, error) {
	var (
		snap   StatusSnapshot
		outErr error
	)
	err := s.do(ctx, func(st *sealState) {
		switch st.status {
		case StatusUninitialized:
			outErr = apperror.New(apperror.KindNotInitialized, "vault has not been initialized")
			return
		case StatusUnsealed:
			snap = snapshot(st)
			return
		}

		st.pending[share.ID] = share
		telemetry.UnsealProgress.Set(float64(len(st.pending)))
		if len(st.pending) < st.threshold {
			snap = snapshot(st)
			return
		}

		combined := make([]crypto.Share, 0, len(st.pending))
		for _, sh := range st.pending {
			combined = append(combined, sh)
		}
		masterKey, err := crypto.Combine(combined)
		if err != nil {
			outErr = apperror.Wrap(apperror.KindReconstructionFailed, "combining shares", err)
			return
		}

		s.mu.Lock()
		s.masterKey = masterKey
		s.mu.Unlock()
		s.masterKeyReady.Store(true)

		st.status = StatusUnsealed
		s.statusAtomic.Store(string(StatusUnsealed))
		st.pending = map[byte]crypto.Share{}
		telemetry.UnsealProgress.Set(0)
		telemetry.SealStatus.Set(1)

		s.armAutoSeal(st)
		snap = snapshot(st)
	})
	if err != nil {
		return StatusSnapshot{}, err
	}
	return snap, outErr
}

// Seal immediately zeroizes the master key and returns to the sealed
// state. Used for both manual seal and auto-seal firing.
func (s *Seal) Seal(ctx context.Context) error {
	return s.do(ctx, func(st *sealState) {
		s.zeroize(st)
	})
}

// Status returns a point-in-time snapshot of the seal state. It goes
// through the actor mailbox like every other request, so it waits behind
// whatever the actor is processing and returns ctx's error if ctx ends
// first.
func (s *Seal) Status(ctx context.Context) (StatusSnapshot, error) {
	var snap StatusSnapshot
	err := s.do(ctx, func(st *sealState) { snap = snapshot(st) })
	return snap, err
}

// GetMasterKey returns the current master key. It is deliberately I/O-free
// and does not go through the actor mailbox, so it stays sub-millisecond
// on the secret-read hot path (§4.4's stated latency requirement) — it
// only takes the narrow mu around the key bytes themselves.
func (s *Seal) GetMasterKey() ([]byte, error) {
	if !s.masterKeyReady.Load() {
		return nil, apperror.New(apperror.KindSealed, "vault is sealed")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return nil, apperror.New(apperror.KindSealed, "vault is sealed")
	}
	s.lastAccessNano.Store(time.Now().UnixNano())
	key := make([]byte, len(s.masterKey))
	copy(key, s.masterKey)
	return key, nil
}

// zeroize wipes the master key from memory and cancels any pending
// auto-seal timer. Called on every exit from the unsealed state: manual
// seal, auto-seal firing, and actor shutdown.
func (s *Seal) zeroize(st *sealState) {
	s.masterKeyReady.Store(false)
	s.mu.Lock()
	for i := range s.masterKey {
		s.masterKey[i] = 0
	}
	s.masterKey = nil
	s.mu.Unlock()

	if st.autoSealCancel != nil {
		st.autoSealCancel()
		st.autoSealCancel = nil
	}
	st.autoSealTimer = nil
	st.pending = map[byte]crypto.Share{}
	telemetry.UnsealProgress.Set(0)

	if st.status == StatusUnsealed {
		st.status = StatusSealed
		s.statusAtomic.Store(string(StatusSealed))
		telemetry.SealStatus.Set(0)
	}
}

// armAutoSeal (re)starts the auto-seal watchdog. Per §4.4, auto-seal is an
// inactivity timeout, not a fixed countdown from Unseal: the watchdog
// goroutine re-reads lastAccessNano (updated lock-free by every
// GetMasterKey call) each time its wait expires, and only seals once no
// access has happened for a full autoSealAfter window. Re-arming always
// cancels any previous watchdog first so a flurry of activity doesn't
// leave more than one goroutine racing to fire.
func (s *Seal) armAutoSeal(st *sealState) {
	if s.autoSealAfter <= 0 {
		return
	}
	if st.autoSealCancel != nil {
		st.autoSealCancel()
	}
	s.lastAccessNano.Store(time.Now().UnixNano())
	timerCtx, cancel := context.WithCancel(context.Background())
	st.autoSealCancel = cancel

	go func() {
		wait := s.autoSealAfter
		for {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
				idle := time.Since(time.Unix(0, s.lastAccessNano.Load()))
				if idle >= s.autoSealAfter {
					_ = s.Seal(context.Background())
					return
				}
				wait = s.autoSealAfter - idle
			case <-timerCtx.Done():
				t.Stop()
				return
			}
		}
	}()
}

func snapshot(st *sealState) StatusSnapshot {
	return StatusSnapshot{
		State:          st.status,
		Threshold:      st.threshold,
		TotalShares:    st.totalShares,
		SharesProvided: len(st.pending),
	}
}
