package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/policy"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestCreateThenReadDecryptedRoundTrips(t *testing.T) {
	fs := newFakeSecretStore()
	mgr := newManagerForTest(fs, &fakeMasterKey{key: testKey()}, &fakePolicyEvaluator{}, nil)

	_, err := mgr.Create(context.Background(), CreateAttrs{Path: "com.acme.db.password", Data: json.RawMessage(`{"password":"hunter2"}`)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, s, err := mgr.ReadDecrypted(context.Background(), "com.acme.db.password")
	if err != nil {
		t.Fatalf("ReadDecrypted: %v", err)
	}
	if string(data) != `{"password":"hunter2"}` {
		t.Fatalf("unexpected decrypted data: %s", data)
	}
	if s.CurrentVersion != 1 {
		t.Fatalf("expected version 1, got %d", s.CurrentVersion)
	}
}

func TestCreateRejectsInvalidPath(t *testing.T) {
	fs := newFakeSecretStore()
	mgr := newManagerForTest(fs, &fakeMasterKey{key: testKey()}, &fakePolicyEvaluator{}, nil)

	_, err := mgr.Create(context.Background(), CreateAttrs{Path: "has a space", Data: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatalf("expected error for invalid path")
	}
}

func TestCreateFailsWhileSealed(t *testing.T) {
	fs := newFakeSecretStore()
	sealErr := apperror.New(apperror.KindSealed, "vault is sealed")
	mgr := newManagerForTest(fs, &fakeMasterKey{err: sealErr}, &fakePolicyEvaluator{}, nil)

	if _, err := mgr.Create(context.Background(), CreateAttrs{Path: "com.acme.x", Data: json.RawMessage(`{}`)}); !apperror.Is(err, apperror.KindSealed) {
		t.Fatalf("expected sealed error, got %v", err)
	}
}

func TestReadForEntityDeniedByPolicyEmitsAuditAndNoData(t *testing.T) {
	fs := newFakeSecretStore()
	al := &fakeAuditLogger{}
	mgr := newManagerForTest(fs, &fakeMasterKey{key: testKey()}, &fakePolicyEvaluator{decision: policy.Decision{Allowed: false}}, al)

	if _, err := mgr.Create(context.Background(), CreateAttrs{Path: "com.acme.db.password", Data: json.RawMessage(`{"x":1}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, _, err := mgr.ReadForEntity(context.Background(), "service", "svc-1", "com.acme.db.password", zeroAddr())
	if !apperror.Is(err, apperror.KindPolicyDenied) {
		t.Fatalf("expected policy_denied, got %v", err)
	}
	if len(al.events) != 1 || al.events[0].Action != "secret.access_denied" {
		t.Fatalf("expected one access_denied audit event, got %+v", al.events)
	}
}

func TestReadForEntityGrantedEmitsAuditAndData(t *testing.T) {
	fs := newFakeSecretStore()
	al := &fakeAuditLogger{}
	mgr := newManagerForTest(fs, &fakeMasterKey{key: testKey()}, &fakePolicyEvaluator{decision: policy.Decision{Allowed: true}}, al)

	if _, err := mgr.Create(context.Background(), CreateAttrs{Path: "com.acme.db.password", Data: json.RawMessage(`{"x":1}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, _, err := mgr.ReadForEntity(context.Background(), "service", "svc-1", "com.acme.db.password", zeroAddr())
	if err != nil {
		t.Fatalf("ReadForEntity: %v", err)
	}
	if string(data) != `{"x":1}` {
		t.Fatalf("unexpected data: %s", data)
	}
	if len(al.events) != 1 || al.events[0].Action != "secret.accessed" {
		t.Fatalf("expected one secret.accessed audit event, got %+v", al.events)
	}
}

func TestUpdateArchivesPriorVersionBeforeOverwriting(t *testing.T) {
	fs := newFakeSecretStore()
	mgr := newManagerForTest(fs, &fakeMasterKey{key: testKey()}, &fakePolicyEvaluator{}, nil)

	s, err := mgr.Create(context.Background(), CreateAttrs{Path: "com.acme.db.password", Data: json.RawMessage(`{"v":1}`)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := mgr.Update(context.Background(), s.ID, UpdateAttrs{Data: json.RawMessage(`{"v":2}`), Author: "alice"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.CurrentVersion != 2 {
		t.Fatalf("expected version 2, got %d", updated.CurrentVersion)
	}

	versions, err := mgr.ListVersions(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 1 {
		t.Fatalf("expected archived version 1, got %+v", versions)
	}

	data, _, err := mgr.ReadDecrypted(context.Background(), "com.acme.db.password")
	if err != nil {
		t.Fatalf("ReadDecrypted: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Fatalf("expected updated data, got %s", data)
	}
}

func TestRollbackCreatesNewForwardVersion(t *testing.T) {
	fs := newFakeSecretStore()
	mgr := newManagerForTest(fs, &fakeMasterKey{key: testKey()}, &fakePolicyEvaluator{}, nil)

	s, err := mgr.Create(context.Background(), CreateAttrs{Path: "com.acme.db.password", Data: json.RawMessage(`{"v":1}`)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := mgr.Update(context.Background(), s.ID, UpdateAttrs{Data: json.RawMessage(`{"v":2}`)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rolledBack, err := mgr.Rollback(context.Background(), s.ID, 1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if rolledBack.CurrentVersion != 3 {
		t.Fatalf("expected rollback to mint version 3 (never reuse), got %d", rolledBack.CurrentVersion)
	}

	data, _, err := mgr.ReadDecrypted(context.Background(), "com.acme.db.password")
	if err != nil {
		t.Fatalf("ReadDecrypted: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Fatalf("expected rolled-back data to match version 1, got %s", data)
	}
}

func TestCompareVersionsReportsMetadataOnly(t *testing.T) {
	fs := newFakeSecretStore()
	mgr := newManagerForTest(fs, &fakeMasterKey{key: testKey()}, &fakePolicyEvaluator{}, nil)

	s, err := mgr.Create(context.Background(), CreateAttrs{Path: "com.acme.db.password", Data: json.RawMessage(`{"v":1}`), Author: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := mgr.Update(context.Background(), s.ID, UpdateAttrs{Data: json.RawMessage(`{"v":"longer-value"}`), Author: "bob"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	diff, err := mgr.CompareVersions(context.Background(), s.ID, 1, 2)
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if diff.AuthorA != "alice" {
		t.Fatalf("expected AuthorA alice, got %s", diff.AuthorA)
	}
	if diff.SizeDeltaBytes == 0 {
		t.Fatalf("expected nonzero size delta between differently-sized plaintexts")
	}
}
