package policy

import (
	"net/netip"
	"testing"
)

func TestMatchPathLiteral(t *testing.T) {
	if !matchPath("prod.db.password", "prod.db.password") {
		t.Fatalf("expected exact literal match")
	}
	if matchPath("prod.db.password", "prod.db.username") {
		t.Fatalf("expected literal mismatch to fail")
	}
}

func TestMatchPathSingleSegmentWildcard(t *testing.T) {
	if !matchPath("prod.*.password", "prod.db.password") {
		t.Fatalf("expected * to match one segment")
	}
	if matchPath("prod.*.password", "prod.db.replica.password") {
		t.Fatalf("expected * to not match multiple segments")
	}
}

func TestMatchPathMultiSegmentWildcard(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"prod.**", "prod.db.password", true},
		{"prod.**", "prod", true},
		{"prod.**.password", "prod.db.replica.password", true},
		{"prod.**.password", "prod.password", true},
		{"**", "anything.at.all", true},
		{"staging.**", "prod.db.password", false},
	}
	for _, c := range cases {
		got := matchPath(c.pattern, c.path)
		if got != c.want {
			t.Errorf("matchPath(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestMatchPathAnchored(t *testing.T) {
	if matchPath("prod.db", "prod.db.password") {
		t.Fatalf("expected pattern without ** to be anchored to full path")
	}
}

func TestMatchCIDR(t *testing.T) {
	blocks := []string{"10.0.0.0/8", "192.168.1.0/24"}

	in := netip.MustParseAddr("10.1.2.3")
	if !matchCIDR(blocks, in) {
		t.Fatalf("expected %s to match %v", in, blocks)
	}

	out := netip.MustParseAddr("172.16.0.1")
	if matchCIDR(blocks, out) {
		t.Fatalf("expected %s to not match %v", out, blocks)
	}
}

func TestMatchCIDRIPv6(t *testing.T) {
	blocks := []string{"2001:db8::/32"}
	in := netip.MustParseAddr("2001:db8::1")
	if !matchCIDR(blocks, in) {
		t.Fatalf("expected IPv6 address to match IPv6 block")
	}
}

func TestMatchCIDREmptyListMatchesNothing(t *testing.T) {
	if matchCIDR(nil, netip.MustParseAddr("10.0.0.1")) {
		t.Fatalf("expected empty block list to never match directly")
	}
}
