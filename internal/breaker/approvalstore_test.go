package breaker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

func testApproval(id string) gateway.ApprovalRequest {
	now := time.Now().UTC()
	return gateway.ApprovalRequest{
		ApprovalID:          id,
		RequestID:           "req-" + id,
		AgentID:             "agent-1",
		ActionType:          gateway.ActionPayment,
		TargetResource:      "payments",
		RiskScore:           0.85,
		RiskLevel:           gateway.RiskCritical,
		MatchedRules:        []string{"payment_limit_10000"},
		SanitizedParameters: map[string]any{"amount": 20000.0},
		Context:             map[string]any{},
		RequestedAt:         now,
		ExpiresAt:           now.Add(24 * time.Hour),
	}
}

func newTestRedisApprovalStore(t *testing.T) *RedisApprovalStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisApprovalStore(client, nil)
}

func TestRedisApprovalStore_PutAndGet(t *testing.T) {
	s := newTestRedisApprovalStore(t)
	a := testApproval("approval-1")

	if !s.Put(a, time.Hour) {
		t.Fatal("Put failed")
	}
	got, ok := s.Get("approval-1")
	if !ok {
		t.Fatal("expected approval to be present")
	}
	if got.AgentID != a.AgentID || got.RiskScore != a.RiskScore {
		t.Errorf("got %+v, want %+v", got, a)
	}
}

func TestRedisApprovalStore_GetMissing(t *testing.T) {
	s := newTestRedisApprovalStore(t)
	if _, ok := s.Get("does-not-exist"); ok {
		t.Fatal("expected absent approval to return false")
	}
}

func TestRedisApprovalStore_DeleteIfPresentIsIdempotent(t *testing.T) {
	s := newTestRedisApprovalStore(t)
	a := testApproval("approval-2")
	s.Put(a, time.Hour)

	if !s.DeleteIfPresent("approval-2") {
		t.Fatal("first delete should observe the record present")
	}
	if s.DeleteIfPresent("approval-2") {
		t.Fatal("second delete should observe the record absent")
	}
	if _, ok := s.Get("approval-2"); ok {
		t.Fatal("approval should no longer be retrievable after delete")
	}
}

func newTestSQLiteApprovalStore(t *testing.T) *SQLiteApprovalStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "approvals.db")
	s, err := NewSQLiteApprovalStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteApprovalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteApprovalStore_PutAndGet(t *testing.T) {
	s := newTestSQLiteApprovalStore(t)
	a := testApproval("approval-3")

	if !s.Put(a, time.Hour) {
		t.Fatal("Put failed")
	}
	got, ok := s.Get("approval-3")
	if !ok {
		t.Fatal("expected approval to be present")
	}
	if got.TargetResource != a.TargetResource {
		t.Errorf("target resource = %q, want %q", got.TargetResource, a.TargetResource)
	}
}

func TestSQLiteApprovalStore_DeleteIfPresentIsIdempotent(t *testing.T) {
	s := newTestSQLiteApprovalStore(t)
	a := testApproval("approval-4")
	s.Put(a, time.Hour)

	if !s.DeleteIfPresent("approval-4") {
		t.Fatal("first delete should observe the record present")
	}
	if s.DeleteIfPresent("approval-4") {
		t.Fatal("second delete should observe the record absent")
	}
}

func TestSQLiteApprovalStore_Expired(t *testing.T) {
	s := newTestSQLiteApprovalStore(t)
	a := testApproval("approval-5")

	if !s.Put(a, -time.Second) {
		t.Fatal("Put failed")
	}
	if _, ok := s.Get("approval-5"); ok {
		t.Fatal("expected expired approval to be absent")
	}
}
