package policycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

const (
	rulePrefix = "sentinel:policy:"
	indexKey   = "sentinel:policy:index"
)

// wireRule is the JSON-on-the-wire shape stored in redis. Kept separate
// from gateway.PolicyRule so the cache's serialization format doesn't leak
// field-tag concerns into the shared data model package.
type wireRule struct {
	RuleID            string                    `json:"rule_id"`
	Name              string                    `json:"name"`
	Description       string                    `json:"description"`
	ActionTypes       []gateway.ActionType       `json:"action_types"`
	Conditions        map[string]any             `json:"conditions"`
	RiskScoreModifier float64                    `json:"risk_score_modifier"`
	Enabled           bool                       `json:"enabled"`
	Priority          int                        `json:"priority"`
}

func toWire(r gateway.PolicyRule) wireRule {
	return wireRule{
		RuleID:            r.RuleID,
		Name:              r.Name,
		Description:       r.Description,
		ActionTypes:       r.ActionTypes,
		Conditions:        r.Conditions,
		RiskScoreModifier: r.RiskScoreModifier,
		Enabled:           r.Enabled,
		Priority:          r.Priority,
	}
}

func (w wireRule) toRule() gateway.PolicyRule {
	return gateway.PolicyRule{
		RuleID:            w.RuleID,
		Name:              w.Name,
		Description:       w.Description,
		ActionTypes:       w.ActionTypes,
		Conditions:        w.Conditions,
		RiskScoreModifier: w.RiskScoreModifier,
		Enabled:           w.Enabled,
		Priority:          w.Priority,
	}
}

// RedisCache is the primary PolicyCache backend. It mirrors the reference
// redis client's policy-management calls (store_policy/get_all_policies/
// delete_policy/refresh_policies): a SETEX per rule plus an SADD-maintained
// index set so an active rule list can be rebuilt without a KEYS scan.
//
// Every method fails soft: a redis error is logged and produces a
// conservative return value (false, empty slice) rather than propagating
// into the policy engine's hot path, matching the reference client's
// blanket try/except-and-log-and-default pattern.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache wraps an existing *redis.Client. ttl is the default
// expiry applied by Store/Refresh when the caller doesn't override it.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "policycache.RedisCache"),
	}
}

func (c *RedisCache) Store(rule gateway.PolicyRule, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(toWire(rule))
	if err != nil {
		c.logger.Error("failed to marshal policy", "rule_id", rule.RuleID, "error", err)
		return false
	}

	key := rulePrefix + rule.RuleID
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Error("failed to store policy", "rule_id", rule.RuleID, "error", err)
		return false
	}
	if err := c.client.SAdd(ctx, indexKey, rule.RuleID).Err(); err != nil {
		c.logger.Error("failed to index policy", "rule_id", rule.RuleID, "error", err)
		return false
	}
	return true
}

func (c *RedisCache) Get(ruleID string) (gateway.PolicyRule, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, rulePrefix+ruleID).Result()
	if err == redis.Nil {
		return gateway.PolicyRule{}, false
	}
	if err != nil {
		c.logger.Error("failed to get policy", "rule_id", ruleID, "error", err)
		return gateway.PolicyRule{}, false
	}

	var w wireRule
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		c.logger.Warn("failed to parse cached policy", "rule_id", ruleID, "error", err)
		return gateway.PolicyRule{}, false
	}
	return w.toRule(), true
}

func (c *RedisCache) ListActive() []gateway.PolicyRule {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ids, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		c.logger.Error("failed to list policy index", "error", err)
		return []gateway.PolicyRule{}
	}
	if len(ids) == 0 {
		return []gateway.PolicyRule{}
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rulePrefix + id
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("failed to batch fetch policies", "error", err)
		return []gateway.PolicyRule{}
	}

	rules := make([]gateway.PolicyRule, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var w wireRule
		if err := json.Unmarshal([]byte(s), &w); err != nil {
			c.logger.Warn("failed to parse cached policy", "error", err)
			continue
		}
		rule := w.toRule()
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules
}

func (c *RedisCache) Delete(ruleID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, rulePrefix+ruleID).Err(); err != nil {
		c.logger.Error("failed to delete policy", "rule_id", ruleID, "error", err)
		return false
	}
	if err := c.client.SRem(ctx, indexKey, ruleID).Err(); err != nil {
		c.logger.Error("failed to remove policy from index", "rule_id", ruleID, "error", err)
		return false
	}
	return true
}

func (c *RedisCache) Refresh(rules []gateway.PolicyRule, ttl time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	existing, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		c.logger.Error("failed to read policy index during refresh", "error", err)
	}
	for _, id := range existing {
		c.Delete(id)
	}

	count := 0
	for _, rule := range rules {
		if c.Store(rule, ttl) {
			count++
		}
	}
	c.logger.Info("refreshed policy cache", "count", count)
	return count
}

// Ping reports whether the underlying redis connection is reachable, for
// use at startup and health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
