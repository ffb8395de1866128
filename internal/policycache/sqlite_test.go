package policycache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

func newTestSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.db")
	c, err := NewSQLiteCache(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteCache_StoreAndGet(t *testing.T) {
	c := newTestSQLiteCache(t)
	rule := testRule("r1", 10)

	if !c.Store(rule, 0) {
		t.Fatal("Store returned false")
	}
	got, ok := c.Get("r1")
	if !ok {
		t.Fatal("expected Get to find stored rule")
	}
	if got.Name != rule.Name || got.Priority != rule.Priority {
		t.Errorf("got %+v, want %+v", got, rule)
	}
	if len(got.ActionTypes) != 1 || got.ActionTypes[0] != rule.ActionTypes[0] {
		t.Errorf("action types not round-tripped: %v", got.ActionTypes)
	}
}

func TestSQLiteCache_Upsert(t *testing.T) {
	c := newTestSQLiteCache(t)
	c.Store(testRule("r1", 10), 0)

	updated := testRule("r1", 10)
	updated.RiskScoreModifier = 0.99
	c.Store(updated, 0)

	got, _ := c.Get("r1")
	if got.RiskScoreModifier != 0.99 {
		t.Errorf("expected upsert to overwrite, got modifier %v", got.RiskScoreModifier)
	}
}

func TestSQLiteCache_ExpiresAt(t *testing.T) {
	c := newTestSQLiteCache(t)
	c.Store(testRule("expiring", 10), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("expiring"); ok {
		t.Error("expected expired rule to be invisible to Get")
	}
}

func TestSQLiteCache_ListActiveSortedByPriority(t *testing.T) {
	c := newTestSQLiteCache(t)
	c.Store(testRule("low-priority", 50), 0)
	c.Store(testRule("high-priority", 5), 0)

	rules := c.ListActive()
	if len(rules) != 2 || rules[0].RuleID != "high-priority" {
		t.Errorf("rules not sorted by priority: %v", rules)
	}
}

func TestSQLiteCache_Delete(t *testing.T) {
	c := newTestSQLiteCache(t)
	c.Store(testRule("to-delete", 10), 0)
	c.Delete("to-delete")

	if _, ok := c.Get("to-delete"); ok {
		t.Error("expected rule to be gone after Delete")
	}
}

func TestSQLiteCache_Refresh(t *testing.T) {
	c := newTestSQLiteCache(t)
	c.Store(testRule("stale", 99), 0)

	fresh := []gateway.PolicyRule{testRule("fresh-1", 10), testRule("fresh-2", 20)}
	count := c.Refresh(fresh, 0)
	if count != 2 {
		t.Errorf("Refresh count = %d, want 2", count)
	}
	if _, ok := c.Get("stale"); ok {
		t.Error("expected stale rule to be removed by Refresh")
	}
	if rules := c.ListActive(); len(rules) != 2 {
		t.Errorf("expected 2 rules after refresh, got %d", len(rules))
	}
}
