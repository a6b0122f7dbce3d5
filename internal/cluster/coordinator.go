// Package cluster implements the cluster coordinator (§4.5, component
// C5): node registration, heartbeats, leader election, and coordinated
// cluster-wide initialization, all mediated through internal/lock's
// advisory locks so any node can safely race any other.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/crypto"
	"github.com/gsmlg-dev/secrethub/internal/lock"
	"github.com/gsmlg-dev/secrethub/internal/seal"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/telemetry"
)

// Config tunes the coordinator's periodic work.
type Config struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	ElectionInterval  time.Duration
	HealthRetention   time.Duration
}

// Coordinator runs this node's membership in the cluster: it registers
// itself, heartbeats, periodically sweeps stale peers, and continuously
// contends for cluster leadership.
type Coordinator struct {
	cfg     Config
	queries *store.Queries
	locks   *lock.Manager
	seal    *seal.Seal
	logger  *slog.Logger

	nodeID  uuid.UUID
	address string

	isLeader atomic.Bool
}

// New builds a Coordinator for this process, identified by nodeID/address.
func New(cfg Config, queries *store.Queries, locks *lock.Manager, sealMgr *seal.Seal, logger *slog.Logger, nodeID uuid.UUID, address string) *Coordinator {
	return &Coordinator{
		cfg: cfg, queries: queries, locks: locks, seal: sealMgr, logger: logger,
		nodeID: nodeID, address: address,
	}
}

// Start registers this node and runs its heartbeat, reaper, and
// leader-election loops concurrently until ctx is cancelled. All three
// loops are started via errgroup, so the first loop to return an error
// cancels the context the other two run under, and Start returns that
// error once all three have stopped. A panic in a loop is not recovered.
func (c *Coordinator) Start(ctx context.Context) error {
	if _, err := c.queries.RegisterNode(ctx, c.nodeID, c.address); err != nil {
		return fmt.Errorf("registering node: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.heartbeatLoop(gctx) })
	g.Go(func() error { return c.reaperLoop(gctx) })
	g.Go(func() error { return c.electionLoop(gctx) })
	return g.Wait()
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sealed := true
			if status, err := c.seal.Status(ctx); err == nil {
				sealed = status.State != seal.StatusUnsealed
			}
			if err := c.queries.Heartbeat(ctx, c.nodeID, sealed); err != nil {
				c.logger.Warn("heartbeat failed", "error", err)
				if recErr := c.queries.RecordHealthEvent(ctx, c.nodeID, "heartbeat_error", err.Error()); recErr != nil {
					c.logger.Warn("recording health event failed", "error", recErr)
				}
			}
		}
	}
}

func (c *Coordinator) reaperLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.StaleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-c.cfg.StaleAfter)
			stale, err := c.queries.StaleNodes(ctx, cutoff)
			if err != nil {
				c.logger.Warn("listing stale nodes failed", "error", err)
				continue
			}
			for _, n := range stale {
				if n.ID == c.nodeID {
					continue // never reap self
				}
				if err := c.queries.RemoveNode(ctx, n.ID); err != nil {
					c.logger.Warn("removing stale node failed", "node_id", n.ID, "error", err)
					continue
				}
				c.logger.Info("removed stale node", "node_id", n.ID, "last_heartbeat", n.LastHeartbeat)
			}

			if c.cfg.HealthRetention > 0 {
				if _, err := c.queries.PruneHealthEvents(ctx, time.Now().Add(-c.cfg.HealthRetention)); err != nil {
					c.logger.Warn("pruning health events failed", "error", err)
				}
			}
		}
	}
}

// electionLoop continuously attempts to hold the "leader" lock. Losing
// the lock (or never getting it) demotes this node to follower; holding
// it promotes to leader. Leadership is re-evaluated every ElectionInterval
// rather than held across one long Acquire, so a leader that stops
// ticking (GC pause, network partition) naturally loses the seat to a
// faster peer instead of the cluster having no visible leader forever.
func (c *Coordinator) electionLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ElectionInterval)
	defer ticker.Stop()

	var held *lock.Lock
	defer func() {
		if held != nil {
			_ = held.Release(context.Background())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if held == nil {
				l, err := c.locks.Acquire(ctx, lock.NameLeader, 100*time.Millisecond)
				if err != nil {
					c.setLeader(ctx, false)
					continue
				}
				held = l
				c.setLeader(ctx, true)
				continue
			}

			// Already leading: renew bookkeeping by releasing and
			// immediately re-acquiring, since advisory-lock sessions have
			// no renew primitive of their own.
			_ = held.Release(ctx)
			held = nil
			l, err := c.locks.Acquire(ctx, lock.NameLeader, 100*time.Millisecond)
			if err != nil {
				c.setLeader(ctx, false)
				continue
			}
			held = l
		}
	}
}

func (c *Coordinator) setLeader(ctx context.Context, leading bool) {
	wasLeading := c.isLeader.Swap(leading)
	if wasLeading == leading {
		return
	}
	role := "follower"
	if leading {
		role = "leader"
		telemetry.IsLeader.Set(1)
	} else {
		telemetry.IsLeader.Set(0)
	}
	if err := c.queries.SetRole(ctx, c.nodeID, role); err != nil {
		c.logger.Warn("updating node role failed", "error", err)
	}
	c.logger.Info("leadership changed", "leading", leading)
}

// IsLeader reports whether this node currently holds cluster leadership.
func (c *Coordinator) IsLeader() bool { return c.isLeader.Load() }

// CoordinatedInit runs Initialize under the cluster-wide "init" lock, so
// that a simultaneous init request on two nodes results in exactly one
// winner and one already_initialized error, never two independent vaults.
// It checks vault_config for an existing row before calling Initialize,
// rather than trusting the local node's in-memory seal status: a node
// that loses the race for the lock may still have a locally Uninitialized
// actor (it never ran Initialize itself), and driving straight into
// Initialize would regenerate a master key and hit CreateVaultConfig's
// unique-violation as a bare DB error, leaving that node's actor wrongly
// convinced the vault is uninitialized until restart.
func (c *Coordinator) CoordinatedInit(ctx context.Context, threshold, totalShares int) ([]crypto.Share, error) {
	var (
		shares []crypto.Share
		outErr error
	)
	err := c.locks.WithLock(ctx, lock.NameInit, 5*time.Second, func(ctx context.Context) error {
		if _, err := c.queries.GetVaultConfig(ctx); err == nil {
			outErr = apperror.New(apperror.KindAlreadyInitialized, "vault already initialized")
			return nil
		} else if !errors.Is(err, store.ErrNotInitialized) {
			outErr = fmt.Errorf("checking existing vault config: %w", err)
			return nil
		}
		shares, outErr = c.seal.Initialize(ctx, threshold, totalShares)
		return nil
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindLockTimeout, "acquiring init lock", err)
	}
	return shares, outErr
}

// ListNodes returns every known cluster member.
func (c *Coordinator) ListNodes(ctx context.Context) ([]store.Node, error) {
	return c.queries.ListNodes(ctx)
}
