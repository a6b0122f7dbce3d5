package policy

import (
	"net/netip"
	"strings"
	"testing"
	"time"
)

func TestCacheKeyIncludesEntityPrefix(t *testing.T) {
	req := Request{EntityType: "service", EntityID: "svc-1", Path: "prod.db.password", Operation: "read", When: time.Now()}
	key := cacheKey(req)
	if !strings.HasPrefix(key, "secrethub:policy:service:svc-1:") {
		t.Fatalf("expected key to carry entity prefix, got %q", key)
	}
}

func TestCacheKeyDeterministicForSameRequest(t *testing.T) {
	req := Request{EntityType: "service", EntityID: "svc-1", Path: "prod.db.password", Operation: "read", SourceIP: netip.MustParseAddr("10.0.0.1")}
	if cacheKey(req) != cacheKey(req) {
		t.Fatalf("expected identical requests to produce identical keys")
	}
}

func TestCacheKeyDiffersForDifferentPath(t *testing.T) {
	a := Request{EntityType: "service", EntityID: "svc-1", Path: "prod.db.password", Operation: "read"}
	b := Request{EntityType: "service", EntityID: "svc-1", Path: "prod.cache.password", Operation: "read"}
	if cacheKey(a) == cacheKey(b) {
		t.Fatalf("expected distinct paths to produce distinct keys")
	}
}

func TestCacheKeyDiffersAcrossEntities(t *testing.T) {
	a := Request{EntityType: "service", EntityID: "svc-1", Path: "prod.db.password", Operation: "read"}
	b := Request{EntityType: "service", EntityID: "svc-2", Path: "prod.db.password", Operation: "read"}
	if cacheKey(a) == cacheKey(b) {
		t.Fatalf("expected distinct entities to produce distinct keys")
	}
}

func TestEntityKeyPatternMatchesOnlyThatEntitysKeys(t *testing.T) {
	pattern := entityKeyPattern("service", "svc-1")
	own := cacheKey(Request{EntityType: "service", EntityID: "svc-1", Path: "prod.db.password", Operation: "read"})
	other := cacheKey(Request{EntityType: "service", EntityID: "svc-2", Path: "prod.db.password", Operation: "read"})

	ownPrefix := strings.TrimSuffix(pattern, "*")
	if !strings.HasPrefix(own, ownPrefix) {
		t.Fatalf("expected own entity's key %q to match pattern %q", own, pattern)
	}
	if strings.HasPrefix(other, ownPrefix) {
		t.Fatalf("expected other entity's key %q to not match pattern %q", other, pattern)
	}
}
