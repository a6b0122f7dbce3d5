// Package audit implements the tamper-evident audit log (§4.6, component
// C6): a sequence-numbered, hash-chained, HMAC-signed append-only record
// of every security-relevant operation. Writes are serialized through a
// single actor goroutine — the same single-owner pattern internal/seal
// uses — because each entry's hash depends on the previous entry's hash,
// so two concurrent writers would race on what "previous" means.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/crypto"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/telemetry"
)

// Event is the caller-facing shape of one audit entry to be appended.
// SecretID, SecretVersion, AccessGranted, PolicyMatched, DenialReason,
// SourceIP, and CorrelationID are the structured fields §3's Data Model
// calls for; callers leave the zero value where a field doesn't apply to
// the event (e.g. a policy-admin action has no SecretID).
type Event struct {
	ActorType string
	ActorID   string
	Action    string
	Target    string
	Outcome   string
	Detail    json.RawMessage

	SecretID      *uuid.UUID
	SecretVersion *int
	AccessGranted *bool
	PolicyMatched string
	DenialReason  string
	SourceIP      string
	CorrelationID *uuid.UUID
}

const mailboxSize = 256

// genesisHash seeds the chain for the very first entry, so seq=1's
// prev_hash is a fixed, well-known value rather than all-zero bytes that
// could be confused with an uninitialized field.
var genesisHash = sha256.Sum256([]byte("secrethub-audit-genesis"))

// chainStore is the narrow slice of store.Queries the writer needs. It
// exists so tests can exercise chain construction and verification against
// a plain in-memory fake instead of a real Postgres; *store.Queries
// satisfies it without any explicit declaration.
type chainStore interface {
	LastAuditEvent(ctx context.Context) (store.AuditEvent, error)
	AppendAuditEvent(ctx context.Context, e store.AuditEvent) (store.AuditEvent, error)
	AllAuditEventsFrom(ctx context.Context, fromSeq int64) ([]store.AuditEvent, error)
	SearchAuditEvents(ctx context.Context, p store.AuditSearchParams) ([]store.AuditEvent, error)
}

// Writer is the sole writer of the audit chain.
type Writer struct {
	queries chainStore
	hmacKey []byte
	logger  *slog.Logger

	mailbox chan func()
}

// NewWriter builds a Writer. hmacKey signs every entry's hash; it is the
// process-wide audit HMAC key supplied at construction (app.Run passes the
// configured AUDIT_HMAC_KEY), so it does not depend on the seal state.
func NewWriter(queries chainStore, hmacKey []byte, logger *slog.Logger) *Writer {
	return &Writer{queries: queries, hmacKey: hmacKey, logger: logger, mailbox: make(chan func(), mailboxSize)}
}

// Run processes append requests until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.mailbox:
			req()
		}
	}
}

// LogEvent appends one entry to the chain and returns it once durably
// written. It is the only path that computes entry_hash and signature,
// so ordering and hash-linkage can only ever be produced here.
func (w *Writer) LogEvent(ctx context.Context, e Event) (store.AuditEvent, error) {
	type result struct {
		ev  store.AuditEvent
		err error
	}
	resCh := make(chan result, 1)

	submit := func() {
		prev, err := w.queries.LastAuditEvent(ctx)
		prevHash := genesisHash[:]
		if err == nil {
			prevHash = prev.EntryHash
		}

		detail := e.Detail
		if detail == nil {
			detail = json.RawMessage(`{}`)
		}

		occurredAt := time.Now().UTC()
		entryHash := computeEntryHash(prevHash, occurredAt, e.ActorType, e.ActorID, e.Action, e.Target, e.Outcome, detail,
			e.SecretID, e.SecretVersion, e.AccessGranted, e.PolicyMatched, e.DenialReason, e.SourceIP, e.CorrelationID)
		signature := crypto.HMAC(w.hmacKey, entryHash)

		appended, err := w.queries.AppendAuditEvent(ctx, store.AuditEvent{
			ID:            uuid.New(),
			OccurredAt:    occurredAt,
			ActorType:     e.ActorType,
			ActorID:       e.ActorID,
			Action:        e.Action,
			Target:        e.Target,
			Outcome:       e.Outcome,
			Detail:        detail,
			SecretID:      e.SecretID,
			SecretVersion: e.SecretVersion,
			AccessGranted: e.AccessGranted,
			PolicyMatched: e.PolicyMatched,
			DenialReason:  e.DenialReason,
			SourceIP:      e.SourceIP,
			CorrelationID: e.CorrelationID,
			PrevHash:      prevHash,
			EntryHash:     entryHash,
			Signature:     signature,
		})
		if err != nil {
			w.logger.Error("audit append failed", "action", e.Action, "error", err)
			telemetry.AuditAppendTotal.WithLabelValues("error").Inc()
			resCh <- result{err: apperror.Wrap(apperror.KindAuditWriteFailure, "appending audit event", err)}
			return
		}
		telemetry.AuditAppendTotal.WithLabelValues("ok").Inc()
		resCh <- result{ev: appended}
	}

	select {
	case w.mailbox <- submit:
	case <-ctx.Done():
		return store.AuditEvent{}, ctx.Err()
	}

	select {
	case res := <-resCh:
		return res.ev, res.err
	case <-ctx.Done():
		return store.AuditEvent{}, ctx.Err()
	}
}

// computeEntryHash binds every field of an entry, plus the previous
// entry's hash, into one digest — so altering any field (including
// reordering against prev_hash) changes the hash and breaks VerifyChain.
// The structured fields added alongside detail (secretID, secretVersion,
// accessGranted, policyMatched, denialReason, sourceIP, correlationID) are
// bound in too, so tampering with them also breaks the chain.
func computeEntryHash(
	prevHash []byte, occurredAt time.Time, actorType, actorID, action, target, outcome string, detail json.RawMessage,
	secretID *uuid.UUID, secretVersion *int, accessGranted *bool, policyMatched, denialReason, sourceIP string, correlationID *uuid.UUID,
) []byte {
	h := sha256.New()
	h.Write(prevHash)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(occurredAt.UnixNano()))
	h.Write(ts[:])
	h.Write([]byte(actorType))
	h.Write([]byte{0})
	h.Write([]byte(actorID))
	h.Write([]byte{0})
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(outcome))
	h.Write([]byte{0})
	h.Write(detail)
	h.Write([]byte{0})
	if secretID != nil {
		h.Write(secretID[:])
	}
	h.Write([]byte{0})
	if secretVersion != nil {
		var sv [8]byte
		binary.BigEndian.PutUint64(sv[:], uint64(*secretVersion))
		h.Write(sv[:])
	}
	h.Write([]byte{0})
	if accessGranted != nil {
		if *accessGranted {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	h.Write([]byte{0})
	h.Write([]byte(policyMatched))
	h.Write([]byte{0})
	h.Write([]byte(denialReason))
	h.Write([]byte{0})
	h.Write([]byte(sourceIP))
	h.Write([]byte{0})
	if correlationID != nil {
		h.Write(correlationID[:])
	}
	return h.Sum(nil)
}

// VerifyResult reports the outcome of walking the whole chain.
type VerifyResult struct {
	Valid       bool
	EntryCount  int64
	BrokenAtSeq int64 // 0 if Valid
	Reason      string
}

// VerifyChain recomputes every entry's hash and signature from its stored
// fields and confirms each prev_hash matches its predecessor's entry_hash,
// detecting insertion, deletion, reordering, or tampering anywhere in the
// chain.
func (w *Writer) VerifyChain(ctx context.Context) (VerifyResult, error) {
	events, err := w.queries.AllAuditEventsFrom(ctx, 0)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reading audit chain: %w", err)
	}

	prevHash := genesisHash[:]
	for _, e := range events {
		if !bytes.Equal(e.PrevHash, prevHash) {
			return VerifyResult{Valid: false, EntryCount: int64(len(events)), BrokenAtSeq: e.Seq, Reason: "prev_hash does not match predecessor"}, nil
		}
		want := computeEntryHash(e.PrevHash, e.OccurredAt, e.ActorType, e.ActorID, e.Action, e.Target, e.Outcome, e.Detail,
			e.SecretID, e.SecretVersion, e.AccessGranted, e.PolicyMatched, e.DenialReason, e.SourceIP, e.CorrelationID)
		if !bytes.Equal(want, e.EntryHash) {
			return VerifyResult{Valid: false, EntryCount: int64(len(events)), BrokenAtSeq: e.Seq, Reason: "entry_hash does not match recomputed hash"}, nil
		}
		if !crypto.VerifyHMAC(w.hmacKey, e.EntryHash, e.Signature) {
			return VerifyResult{Valid: false, EntryCount: int64(len(events)), BrokenAtSeq: e.Seq, Reason: "signature does not verify"}, nil
		}
		prevHash = e.EntryHash
	}

	return VerifyResult{Valid: true, EntryCount: int64(len(events))}, nil
}

// Search exposes the store's filtered, paginated query for the /audit
// search endpoint.
func (w *Writer) Search(ctx context.Context, p store.AuditSearchParams) ([]store.AuditEvent, error) {
	return w.queries.SearchAuditEvents(ctx, p)
}

// Export renders the full chain (or a seq-bounded slice, via fromSeq) as
// CSV, matching the export format named in §6.
func (w *Writer) Export(ctx context.Context, fromSeq int64) ([]byte, error) {
	events, err := w.queries.AllAuditEventsFrom(ctx, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("reading audit chain for export: %w", err)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	header := []string{
		"timestamp", "event_type", "actor_type", "actor_id", "secret_id",
		"access_granted", "policy_matched", "denial_reason", "source_ip", "correlation_id",
	}
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	for _, e := range events {
		var secretID, accessGranted, correlationID string
		if e.SecretID != nil {
			secretID = e.SecretID.String()
		}
		if e.AccessGranted != nil {
			accessGranted = strconv.FormatBool(*e.AccessGranted)
		}
		if e.CorrelationID != nil {
			correlationID = e.CorrelationID.String()
		}
		row := []string{
			e.OccurredAt.Format(time.RFC3339Nano),
			e.Action,
			e.ActorType,
			e.ActorID,
			secretID,
			accessGranted,
			e.PolicyMatched,
			e.DenialReason,
			e.SourceIP,
			correlationID,
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ClientIP extracts the caller's address from a request, preferring
// X-Forwarded-For and X-Real-IP over RemoteAddr. The policy handlers use
// it as the evaluated request's source address.
func ClientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
