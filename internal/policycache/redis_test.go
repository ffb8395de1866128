package policycache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, time.Minute, nil)
}

func testRule(id string, priority int) gateway.PolicyRule {
	return gateway.PolicyRule{
		RuleID:            id,
		Name:              "test rule " + id,
		ActionTypes:       []gateway.ActionType{gateway.ActionRefund},
		Conditions:        map[string]any{"max_amount": 500.0},
		RiskScoreModifier: 0.5,
		Enabled:           true,
		Priority:          priority,
	}
}

func TestRedisCache_StoreAndGet(t *testing.T) {
	c := newTestRedisCache(t)
	rule := testRule("r1", 10)

	if !c.Store(rule, 0) {
		t.Fatal("Store returned false")
	}

	got, ok := c.Get("r1")
	if !ok {
		t.Fatal("expected Get to find stored rule")
	}
	if got.Name != rule.Name || got.RiskScoreModifier != rule.RiskScoreModifier {
		t.Errorf("got %+v, want %+v", got, rule)
	}
}

func TestRedisCache_GetMissing(t *testing.T) {
	c := newTestRedisCache(t)
	_, ok := c.Get("nonexistent")
	if ok {
		t.Error("expected Get to report false for a missing rule")
	}
}

func TestRedisCache_ListActiveSortedByPriority(t *testing.T) {
	c := newTestRedisCache(t)
	c.Store(testRule("low-priority", 50), 0)
	c.Store(testRule("high-priority", 5), 0)
	c.Store(testRule("mid-priority", 20), 0)

	rules := c.ListActive()
	if len(rules) != 3 {
		t.Fatalf("expected 3 active rules, got %d", len(rules))
	}
	if rules[0].RuleID != "high-priority" || rules[1].RuleID != "mid-priority" || rules[2].RuleID != "low-priority" {
		t.Errorf("rules not sorted by priority: %v", rules)
	}
}

func TestRedisCache_ListActiveExcludesDisabled(t *testing.T) {
	c := newTestRedisCache(t)
	enabled := testRule("enabled-rule", 10)
	disabled := testRule("disabled-rule", 20)
	disabled.Enabled = false

	c.Store(enabled, 0)
	c.Store(disabled, 0)

	rules := c.ListActive()
	if len(rules) != 1 || rules[0].RuleID != "enabled-rule" {
		t.Errorf("expected only the enabled rule, got %v", rules)
	}
}

func TestRedisCache_Delete(t *testing.T) {
	c := newTestRedisCache(t)
	c.Store(testRule("to-delete", 10), 0)

	if !c.Delete("to-delete") {
		t.Fatal("Delete returned false")
	}
	if _, ok := c.Get("to-delete"); ok {
		t.Error("expected rule to be gone after Delete")
	}
	if rules := c.ListActive(); len(rules) != 0 {
		t.Errorf("expected empty active list after delete, got %v", rules)
	}
}

func TestRedisCache_Refresh(t *testing.T) {
	c := newTestRedisCache(t)
	c.Store(testRule("stale", 99), 0)

	fresh := []gateway.PolicyRule{testRule("fresh-1", 10), testRule("fresh-2", 20)}
	count := c.Refresh(fresh, 0)
	if count != 2 {
		t.Errorf("Refresh count = %d, want 2", count)
	}

	rules := c.ListActive()
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules after refresh, got %d", len(rules))
	}
	if _, ok := c.Get("stale"); ok {
		t.Error("expected stale rule to be removed by Refresh")
	}
}
