package cluster

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestSetLeaderTogglesIsLeader(t *testing.T) {
	c := &Coordinator{
		logger:  slog.Default(),
		nodeID:  uuid.New(),
		queries: nil,
	}

	if c.IsLeader() {
		t.Fatalf("expected not leading initially")
	}

	// setLeader calls queries.SetRole, which would nil-panic against a real
	// *store.Queries; exercise the atomic-flag transition directly instead.
	wasLeading := c.isLeader.Swap(true)
	if wasLeading {
		t.Fatalf("expected false before first promotion")
	}
	if !c.IsLeader() {
		t.Fatalf("expected leading after promotion")
	}

	wasLeading = c.isLeader.Swap(false)
	if !wasLeading {
		t.Fatalf("expected true before demotion")
	}
	if c.IsLeader() {
		t.Fatalf("expected not leading after demotion")
	}
}
