// Package rotation implements the core's side of the rotation hooks
// (§4.9, component C9): a Rotation capability that an external rotation
// scheduler drives on a cron trigger, with the core responsible only for
// persisting rotation history and archiving the pre-rotation secret
// version via the C8 secrets manager. The scheduler owns engine-specific
// rotation logic (generating new credential material); this package
// never does that itself.
package rotation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron"

	"github.com/gsmlg-dev/secrethub/internal/secrets"
	"github.com/gsmlg-dev/secrethub/internal/store"
)

// rotationStore is the narrow slice of store.Queries this package
// needs. *store.Queries satisfies it structurally.
type rotationStore interface {
	RecordRotation(ctx context.Context, id, secretID uuid.UUID, fromVersion, toVersion int, trigger string) error
	MarkRotationRolledBack(ctx context.Context, secretID uuid.UUID, toVersion int) error
	ListRotations(ctx context.Context, secretID uuid.UUID) ([]store.RotationRecord, error)
}

// secretUpdater is the narrow slice of the C8 manager rotation needs: a
// metadata-only read, archive-then-update semantics, and forward-only
// rollback. *secrets.Manager satisfies this structurally.
type secretUpdater interface {
	Get(ctx context.Context, id uuid.UUID) (store.Secret, error)
	Update(ctx context.Context, id uuid.UUID, attrs secrets.UpdateAttrs) (store.Secret, error)
	Rollback(ctx context.Context, id uuid.UUID, targetVersion int) (store.Secret, error)
}

// RotateOpts configures one rotation attempt.
type RotateOpts struct {
	SecretID uuid.UUID
	Trigger  string // e.g. "scheduled", "manual"
}

// RotateResult is what a Rotator reports back after generating new
// credential material.
type RotateResult struct {
	NewData     json.RawMessage
	NewMetadata json.RawMessage
}

// Rotator is the engine-specific capability a rotation scheduler
// supplies: it knows how to mint new credential material for a secret
// (e.g. issuing a new database password), but nothing about persistence.
type Rotator interface {
	Rotate(ctx context.Context, current store.Secret, opts RotateOpts) (RotateResult, error)
}

// Scheduler applies one rotation per Rotate call, persisting history and
// delegating the actual credential change to a Rotator. It runs no timer
// of its own; ParseSchedule and NextRun compute cron trigger times for
// whoever calls Rotate.
type Scheduler struct {
	store   rotationStore
	secrets secretUpdater
	rotator Rotator
}

// New builds a Scheduler.
func New(queries *store.Queries, secretsMgr secretUpdater, rotator Rotator) *Scheduler {
	return &Scheduler{store: queries, secrets: secretsMgr, rotator: rotator}
}

// ParseSchedule validates a cron expression, delegating parsing to
// robfig/cron (§4.9: "cron parsing for scheduling is delegated to a
// collaborator").
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing rotation schedule %q: %w", expr, err)
	}
	return sched, nil
}

// NextRun returns the first time strictly after from at which expr fires.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Rotate reads the current secret, asks the Rotator for fresh credential
// material, applies it through secrets.Update (which archives the
// pre-rotation version before overwriting, per §4.8), and records
// rotation history with the old/new version pair the result(§4.9) names.
func (s *Scheduler) Rotate(ctx context.Context, opts RotateOpts) (store.Secret, error) {
	current, err := s.secrets.Get(ctx, opts.SecretID)
	if err != nil {
		return store.Secret{}, err
	}

	result, err := s.rotator.Rotate(ctx, current, opts)
	if err != nil {
		return store.Secret{}, fmt.Errorf("rotator: %w", err)
	}

	updated, err := s.secrets.Update(ctx, opts.SecretID, secrets.UpdateAttrs{Data: result.NewData, Metadata: result.NewMetadata})
	if err != nil {
		return store.Secret{}, err
	}

	trigger := opts.Trigger
	if trigger == "" {
		trigger = "scheduled"
	}
	if err := s.store.RecordRotation(ctx, uuid.New(), opts.SecretID, current.CurrentVersion, updated.CurrentVersion, trigger); err != nil {
		return store.Secret{}, fmt.Errorf("recording rotation history: %w", err)
	}

	return updated, nil
}

// RollbackLast reverts secretID to targetVersion and flags the rotation
// that produced currentVersion as rolled back.
func (s *Scheduler) RollbackLast(ctx context.Context, secretID uuid.UUID, currentVersion, targetVersion int) (store.Secret, error) {
	reverted, err := s.secrets.Rollback(ctx, secretID, targetVersion)
	if err != nil {
		return store.Secret{}, err
	}
	if err := s.store.MarkRotationRolledBack(ctx, secretID, currentVersion); err != nil {
		return store.Secret{}, fmt.Errorf("marking rotation rolled back: %w", err)
	}
	return reverted, nil
}

// History returns a secret's rotation history, most recent first.
func (s *Scheduler) History(ctx context.Context, secretID uuid.UUID) ([]store.RotationRecord, error) {
	return s.store.ListRotations(ctx, secretID)
}
