package lock

import "testing"

func TestLockKeyDeterministic(t *testing.T) {
	a := lockKey(NameInit)
	b := lockKey(NameInit)
	if a != b {
		t.Fatalf("expected lockKey to be deterministic for the same name")
	}
}

func TestLockKeyDistinctForDistinctNames(t *testing.T) {
	names := []string{NameInit, NameUnseal, NameMasterKeyRotation, NameBackup, NameAutoUnseal, NameLeader}
	seen := make(map[int64]string, len(names))
	for _, n := range names {
		k := lockKey(n)
		if prev, ok := seen[k]; ok {
			t.Fatalf("lock key collision between %q and %q", n, prev)
		}
		seen[k] = n
	}
}
