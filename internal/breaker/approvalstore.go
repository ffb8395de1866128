package breaker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

const approvalKeyPrefix = "sentinel:approval:"

// wireApproval is the JSON-on-the-wire shape of a persisted ApprovalRequest.
type wireApproval struct {
	ApprovalID          string         `json:"approval_id"`
	RequestID           string         `json:"request_id"`
	AgentID             string         `json:"agent_id"`
	ActionType          string         `json:"action_type"`
	TargetResource      string         `json:"target_resource"`
	RiskScore           float64        `json:"risk_score"`
	RiskLevel           string         `json:"risk_level"`
	MatchedRules        []string       `json:"matched_rules"`
	SanitizedParameters map[string]any `json:"sanitized_parameters"`
	Context             map[string]any `json:"context"`
	RequestedAt         time.Time      `json:"requested_at"`
	ExpiresAt           time.Time      `json:"expires_at"`
}

func toWireApproval(r gateway.ApprovalRequest) wireApproval {
	return wireApproval{
		ApprovalID:          r.ApprovalID,
		RequestID:           r.RequestID,
		AgentID:             r.AgentID,
		ActionType:          string(r.ActionType),
		TargetResource:      r.TargetResource,
		RiskScore:           r.RiskScore,
		RiskLevel:           string(r.RiskLevel),
		MatchedRules:        r.MatchedRules,
		SanitizedParameters: r.SanitizedParameters,
		Context:             r.Context,
		RequestedAt:         r.RequestedAt,
		ExpiresAt:           r.ExpiresAt,
	}
}

func (w wireApproval) toRequest() gateway.ApprovalRequest {
	return gateway.ApprovalRequest{
		ApprovalID:          w.ApprovalID,
		RequestID:           w.RequestID,
		AgentID:             w.AgentID,
		ActionType:          gateway.ActionType(w.ActionType),
		TargetResource:      w.TargetResource,
		RiskScore:           w.RiskScore,
		RiskLevel:           gateway.RiskLevel(w.RiskLevel),
		MatchedRules:        w.MatchedRules,
		SanitizedParameters: w.SanitizedParameters,
		Context:             w.Context,
		RequestedAt:         w.RequestedAt,
		ExpiresAt:           w.ExpiresAt,
	}
}

// RedisApprovalStore persists pending approvals in redis with a TTL,
// grounded on the reference client's store_pending_approval /
// get_pending_approval / delete_pending_approval trio. DeleteIfPresent
// uses GETDEL for the atomic read-and-remove spec.md's design notes call
// for: of two concurrent callers racing on the same id, exactly one
// observes the record.
type RedisApprovalStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisApprovalStore wraps an existing *redis.Client.
func NewRedisApprovalStore(client *redis.Client, logger *slog.Logger) *RedisApprovalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisApprovalStore{client: client, logger: logger.With("component", "breaker.RedisApprovalStore")}
}

func (s *RedisApprovalStore) Put(req gateway.ApprovalRequest, ttl time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(toWireApproval(req))
	if err != nil {
		s.logger.Error("failed to marshal approval record", "approval_id", req.ApprovalID, "error", err)
		return false
	}
	if err := s.client.Set(ctx, approvalKeyPrefix+req.ApprovalID, data, ttl).Err(); err != nil {
		s.logger.Error("failed to store approval record", "approval_id", req.ApprovalID, "error", err)
		return false
	}
	return true
}

func (s *RedisApprovalStore) Get(approvalID string) (gateway.ApprovalRequest, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := s.client.Get(ctx, approvalKeyPrefix+approvalID).Result()
	if err == redis.Nil {
		return gateway.ApprovalRequest{}, false
	}
	if err != nil {
		s.logger.Error("failed to get approval record", "approval_id", approvalID, "error", err)
		return gateway.ApprovalRequest{}, false
	}

	var w wireApproval
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		s.logger.Warn("failed to parse approval record", "approval_id", approvalID, "error", err)
		return gateway.ApprovalRequest{}, false
	}
	return w.toRequest(), true
}

func (s *RedisApprovalStore) DeleteIfPresent(approvalID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.client.GetDel(ctx, approvalKeyPrefix+approvalID).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		s.logger.Error("failed to delete approval record", "approval_id", approvalID, "error", err)
		return false
	}
	return true
}

// SQLiteApprovalStore is the single-node fallback, grounded on the same
// schema-then-CRUD style as policycache.SQLiteCache. DeleteIfPresent uses a
// transaction so the read-then-delete is atomic with respect to other
// callers racing on the same approval id.
type SQLiteApprovalStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteApprovalStore opens (creating if absent) a sqlite database at
// path and ensures the approvals table exists.
func NewSQLiteApprovalStore(path string, logger *slog.Logger) (*SQLiteApprovalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite approval store: %w", err)
	}
	s := &SQLiteApprovalStore{db: db, logger: logger.With("component", "breaker.SQLiteApprovalStore")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteApprovalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS approvals (
		approval_id TEXT PRIMARY KEY,
		payload     TEXT NOT NULL,
		expires_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_expires_at ON approvals(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteApprovalStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteApprovalStore) Put(req gateway.ApprovalRequest, ttl time.Duration) bool {
	data, err := json.Marshal(toWireApproval(req))
	if err != nil {
		s.logger.Error("failed to marshal approval record", "approval_id", req.ApprovalID, "error", err)
		return false
	}
	expiresAt := time.Now().Add(ttl)
	_, err = s.db.Exec(`INSERT INTO approvals (approval_id, payload, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(approval_id) DO UPDATE SET payload=excluded.payload, expires_at=excluded.expires_at`,
		req.ApprovalID, string(data), expiresAt)
	if err != nil {
		s.logger.Error("failed to store approval record", "approval_id", req.ApprovalID, "error", err)
		return false
	}
	return true
}

func (s *SQLiteApprovalStore) Get(approvalID string) (gateway.ApprovalRequest, bool) {
	var payload string
	var expiresAt time.Time
	err := s.db.QueryRow(`SELECT payload, expires_at FROM approvals WHERE approval_id = ?`, approvalID).
		Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return gateway.ApprovalRequest{}, false
	}
	if err != nil {
		s.logger.Error("failed to get approval record", "approval_id", approvalID, "error", err)
		return gateway.ApprovalRequest{}, false
	}
	if time.Now().After(expiresAt) {
		return gateway.ApprovalRequest{}, false
	}

	var w wireApproval
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		s.logger.Warn("failed to parse approval record", "approval_id", approvalID, "error", err)
		return gateway.ApprovalRequest{}, false
	}
	return w.toRequest(), true
}

func (s *SQLiteApprovalStore) DeleteIfPresent(approvalID string) bool {
	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Error("failed to begin approval delete transaction", "approval_id", approvalID, "error", err)
		return false
	}
	defer tx.Rollback()

	var expiresAt time.Time
	err = tx.QueryRow(`SELECT expires_at FROM approvals WHERE approval_id = ?`, approvalID).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		s.logger.Error("failed to check approval record", "approval_id", approvalID, "error", err)
		return false
	}
	if time.Now().After(expiresAt) {
		return false
	}

	if _, err := tx.Exec(`DELETE FROM approvals WHERE approval_id = ?`, approvalID); err != nil {
		s.logger.Error("failed to delete approval record", "approval_id", approvalID, "error", err)
		return false
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit approval delete", "approval_id", approvalID, "error", err)
		return false
	}
	return true
}
