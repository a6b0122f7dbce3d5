package audit

import (
	"context"
	"sync"

	"github.com/gsmlg-dev/secrethub/internal/store"
)

// memStore is an in-memory chainStore for tests, backed by a plain slice
// instead of Postgres.
type memStore struct {
	mu     sync.Mutex
	events []store.AuditEvent
}

func newMemStore() *wrappedMemStore {
	return &wrappedMemStore{mem: &memStore{}}
}

// wrappedMemStore exposes the underlying memStore for test assertions
// (mem.mem.events) while still satisfying chainStore itself.
type wrappedMemStore struct {
	mem *memStore
}

func (w *wrappedMemStore) LastAuditEvent(ctx context.Context) (store.AuditEvent, error) {
	w.mem.mu.Lock()
	defer w.mem.mu.Unlock()
	if len(w.mem.events) == 0 {
		return store.AuditEvent{}, errNoRows
	}
	return w.mem.events[len(w.mem.events)-1], nil
}

func (w *wrappedMemStore) AppendAuditEvent(ctx context.Context, e store.AuditEvent) (store.AuditEvent, error) {
	w.mem.mu.Lock()
	defer w.mem.mu.Unlock()
	e.Seq = int64(len(w.mem.events)) + 1
	w.mem.events = append(w.mem.events, e)
	return e, nil
}

func (w *wrappedMemStore) AllAuditEventsFrom(ctx context.Context, fromSeq int64) ([]store.AuditEvent, error) {
	w.mem.mu.Lock()
	defer w.mem.mu.Unlock()
	var out []store.AuditEvent
	for _, e := range w.mem.events {
		if e.Seq > fromSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (w *wrappedMemStore) SearchAuditEvents(ctx context.Context, p store.AuditSearchParams) ([]store.AuditEvent, error) {
	return w.AllAuditEventsFrom(ctx, 0)
}

type notFoundError struct{}

func (notFoundError) Error() string { return "no rows" }

var errNoRows = notFoundError{}
