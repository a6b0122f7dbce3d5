package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuditEvent is one entry in the tamper-evident hash chain (§4.6). Seq is
// the monotonic chain position; PrevHash/EntryHash/Signature are computed
// by internal/audit and merely persisted here. SecretID, SecretVersion,
// AccessGranted, PolicyMatched, DenialReason, SourceIP, and CorrelationID
// are the structured fields §3's Data Model calls for, stored as real
// columns rather than buried in Detail, so Search can filter on them.
type AuditEvent struct {
	Seq           int64
	ID            uuid.UUID
	OccurredAt    time.Time
	ActorType     string
	ActorID       string
	Action        string
	Target        string
	Outcome       string
	Detail        []byte // raw JSON
	SecretID      *uuid.UUID
	SecretVersion *int
	AccessGranted *bool
	PolicyMatched string
	DenialReason  string
	SourceIP      string
	CorrelationID *uuid.UUID
	PrevHash      []byte
	EntryHash     []byte
	Signature     []byte
}

const auditColumns = `seq, id, occurred_at, actor_type, actor_id, action, target, outcome, detail,
	secret_id, secret_version, access_granted, policy_matched, denial_reason, source_ip, correlation_id,
	prev_hash, entry_hash, signature`

func scanAuditEvent(row pgx.Row) (AuditEvent, error) {
	var e AuditEvent
	err := row.Scan(&e.Seq, &e.ID, &e.OccurredAt, &e.ActorType, &e.ActorID, &e.Action, &e.Target, &e.Outcome, &e.Detail,
		&e.SecretID, &e.SecretVersion, &e.AccessGranted, &e.PolicyMatched, &e.DenialReason, &e.SourceIP, &e.CorrelationID,
		&e.PrevHash, &e.EntryHash, &e.Signature)
	return e, err
}

// AppendAuditEvent inserts the next chain entry. The caller (internal/audit,
// running as the sole writer actor) is responsible for seq being exactly
// last+1 and prev_hash matching the prior entry_hash — this call does not
// itself serialize against concurrent writers.
func (q *Queries) AppendAuditEvent(ctx context.Context, e AuditEvent) (AuditEvent, error) {
	const query = `INSERT INTO audit_events (id, occurred_at, actor_type, actor_id, action, target, outcome, detail,
		secret_id, secret_version, access_granted, policy_matched, denial_reason, source_ip, correlation_id,
		prev_hash, entry_hash, signature)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	RETURNING ` + auditColumns
	row := q.db.QueryRow(ctx, query, e.ID, e.OccurredAt, e.ActorType, e.ActorID, e.Action, e.Target, e.Outcome, e.Detail,
		e.SecretID, e.SecretVersion, e.AccessGranted, e.PolicyMatched, e.DenialReason, e.SourceIP, e.CorrelationID,
		e.PrevHash, e.EntryHash, e.Signature)
	return scanAuditEvent(row)
}

// LastAuditEvent returns the most recently appended entry, or
// pgx.ErrNoRows if the chain is empty (the genesis case).
func (q *Queries) LastAuditEvent(ctx context.Context) (AuditEvent, error) {
	const query = `SELECT ` + auditColumns + ` FROM audit_events ORDER BY seq DESC LIMIT 1`
	return scanAuditEvent(q.db.QueryRow(ctx, query))
}

// AuditSearchParams filters the audit search endpoint (§6). SecretID,
// AccessGranted, and CorrelationID filter on the structured columns added
// for §4.6 so callers don't need to grep the detail blob.
type AuditSearchParams struct {
	ActorType     string
	ActorID       string
	Action        string
	Since         *time.Time
	Until         *time.Time
	SecretID      *uuid.UUID
	AccessGranted *bool
	CorrelationID *uuid.UUID
	Limit         int
	Offset        int
}

// SearchAuditEvents returns chain entries matching the given filters,
// newest-first by occurred_at (§6: the search endpoint surfaces recent
// activity first). VerifyChain and Export use AllAuditEventsFrom instead,
// which walks the chain oldest-to-newest as hash verification requires.
func (q *Queries) SearchAuditEvents(ctx context.Context, p AuditSearchParams) ([]AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE TRUE`
	args := make([]any, 0, 9)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if p.ActorType != "" {
		query += ` AND actor_type = ` + arg(p.ActorType)
	}
	if p.ActorID != "" {
		query += ` AND actor_id = ` + arg(p.ActorID)
	}
	if p.Action != "" {
		query += ` AND action = ` + arg(p.Action)
	}
	if p.Since != nil {
		query += ` AND occurred_at >= ` + arg(*p.Since)
	}
	if p.Until != nil {
		query += ` AND occurred_at < ` + arg(*p.Until)
	}
	if p.SecretID != nil {
		query += ` AND secret_id = ` + arg(*p.SecretID)
	}
	if p.AccessGranted != nil {
		query += ` AND access_granted = ` + arg(*p.AccessGranted)
	}
	if p.CorrelationID != nil {
		query += ` AND correlation_id = ` + arg(*p.CorrelationID)
	}

	limit := p.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += ` ORDER BY occurred_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(p.Offset)

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllAuditEventsFrom streams the full chain starting at seq > fromSeq, in
// order, for VerifyChain and Export. fromSeq=0 walks the entire chain.
func (q *Queries) AllAuditEventsFrom(ctx context.Context, fromSeq int64) ([]AuditEvent, error) {
	const query = `SELECT ` + auditColumns + ` FROM audit_events WHERE seq > $1 ORDER BY seq ASC`
	rows, err := q.db.Query(ctx, query, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("reading audit chain: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
