package policycache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// SQLiteCache is the single-node fallback PolicyCache backend, used when the
// configured cache driver is not "redis". WAL mode, a busy timeout, and
// JSON-serialized blob columns hold the nested condition map.
type SQLiteCache struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteCache opens (creating if absent) a sqlite database at path and
// ensures the policies table exists.
func NewSQLiteCache(path string, logger *slog.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite policy cache: %w", err)
	}
	c := &SQLiteCache{db: db, logger: logger.With("component", "policycache.SQLiteCache")}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		rule_id             TEXT PRIMARY KEY,
		name                TEXT NOT NULL,
		description         TEXT,
		action_types        TEXT NOT NULL,
		conditions          TEXT NOT NULL,
		risk_score_modifier REAL NOT NULL,
		enabled             INTEGER NOT NULL DEFAULT 1,
		priority            INTEGER NOT NULL DEFAULT 100,
		expires_at          DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_policies_priority ON policies(priority);
	CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(enabled);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) Store(rule gateway.PolicyRule, ttl time.Duration) bool {
	actionTypes, err := json.Marshal(rule.ActionTypes)
	if err != nil {
		c.logger.Error("failed to marshal action types", "rule_id", rule.RuleID, "error", err)
		return false
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		c.logger.Error("failed to marshal conditions", "rule_id", rule.RuleID, "error", err)
		return false
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	_, err = c.db.Exec(`INSERT INTO policies
		(rule_id, name, description, action_types, conditions, risk_score_modifier, enabled, priority, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			name=excluded.name, description=excluded.description, action_types=excluded.action_types,
			conditions=excluded.conditions, risk_score_modifier=excluded.risk_score_modifier,
			enabled=excluded.enabled, priority=excluded.priority, expires_at=excluded.expires_at`,
		rule.RuleID, rule.Name, rule.Description, string(actionTypes), string(conditions),
		rule.RiskScoreModifier, rule.Enabled, rule.Priority, expiresAt,
	)
	if err != nil {
		c.logger.Error("failed to store policy", "rule_id", rule.RuleID, "error", err)
		return false
	}
	return true
}

func (c *SQLiteCache) scanRow(row *sql.Row) (gateway.PolicyRule, bool) {
	var rule gateway.PolicyRule
	var actionTypes, conditions string
	var description sql.NullString
	var expiresAt sql.NullTime

	err := row.Scan(&rule.RuleID, &rule.Name, &description, &actionTypes, &conditions,
		&rule.RiskScoreModifier, &rule.Enabled, &rule.Priority, &expiresAt)
	if err == sql.ErrNoRows {
		return gateway.PolicyRule{}, false
	}
	if err != nil {
		c.logger.Error("failed to scan policy row", "error", err)
		return gateway.PolicyRule{}, false
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return gateway.PolicyRule{}, false
	}

	rule.Description = description.String
	if err := json.Unmarshal([]byte(actionTypes), &rule.ActionTypes); err != nil {
		c.logger.Warn("failed to parse action types", "rule_id", rule.RuleID, "error", err)
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		c.logger.Warn("failed to parse conditions", "rule_id", rule.RuleID, "error", err)
	}
	return rule, true
}

func (c *SQLiteCache) Get(ruleID string) (gateway.PolicyRule, bool) {
	row := c.db.QueryRow(`SELECT rule_id, name, description, action_types, conditions,
		risk_score_modifier, enabled, priority, expires_at FROM policies WHERE rule_id = ?`, ruleID)
	return c.scanRow(row)
}

func (c *SQLiteCache) ListActive() []gateway.PolicyRule {
	rows, err := c.db.Query(`SELECT rule_id, name, description, action_types, conditions,
		risk_score_modifier, enabled, priority, expires_at
		FROM policies WHERE enabled = 1 ORDER BY priority ASC`)
	if err != nil {
		c.logger.Error("failed to list active policies", "error", err)
		return []gateway.PolicyRule{}
	}
	defer rows.Close()

	rules := make([]gateway.PolicyRule, 0)
	for rows.Next() {
		var rule gateway.PolicyRule
		var actionTypes, conditions string
		var description sql.NullString
		var expiresAt sql.NullTime

		if err := rows.Scan(&rule.RuleID, &rule.Name, &description, &actionTypes, &conditions,
			&rule.RiskScoreModifier, &rule.Enabled, &rule.Priority, &expiresAt); err != nil {
			c.logger.Error("failed to scan policy row", "error", err)
			continue
		}
		if expiresAt.Valid && time.Now().After(expiresAt.Time) {
			continue
		}
		rule.Description = description.String
		if err := json.Unmarshal([]byte(actionTypes), &rule.ActionTypes); err != nil {
			c.logger.Warn("failed to parse action types", "rule_id", rule.RuleID, "error", err)
		}
		if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
			c.logger.Warn("failed to parse conditions", "rule_id", rule.RuleID, "error", err)
		}
		rules = append(rules, rule)
	}
	return rules
}

func (c *SQLiteCache) Delete(ruleID string) bool {
	_, err := c.db.Exec(`DELETE FROM policies WHERE rule_id = ?`, ruleID)
	if err != nil {
		c.logger.Error("failed to delete policy", "rule_id", ruleID, "error", err)
		return false
	}
	return true
}

func (c *SQLiteCache) Refresh(rules []gateway.PolicyRule, ttl time.Duration) int {
	if _, err := c.db.Exec(`DELETE FROM policies`); err != nil {
		c.logger.Error("failed to clear policy cache during refresh", "error", err)
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
