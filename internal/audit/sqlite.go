package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink is the reference Sink implementation, grounded on the same
// schema-then-insert style as the rest of this module's sqlite-backed
// stores. It is a single append-only table -- no update or delete path --
// matching the audit trail's intended write-once semantics.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSink opens (creating if absent) a sqlite database at path and
// ensures the audit_log table exists.
func NewSQLiteSink(path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite audit sink: %w", err)
	}
	s := &SQLiteSink{db: db, logger: logger.With("component", "audit.SQLiteSink")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		request_id      TEXT NOT NULL,
		agent_id        TEXT NOT NULL,
		action_type     TEXT NOT NULL,
		target_resource TEXT NOT NULL,
		decision        TEXT NOT NULL,
		risk_score      REAL NOT NULL,
		risk_level      TEXT NOT NULL,
		matched_rules   TEXT NOT NULL,
		status          TEXT NOT NULL,
		approval_id     TEXT,
		recorded_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_agent_id ON audit_log(agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_recorded_at ON audit_log(recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends r to the audit log.
func (s *SQLiteSink) Record(r Record) error {
	matchedRules, err := json.Marshal(r.MatchedRules)
	if err != nil {
		return fmt.Errorf("failed to marshal matched rules: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO audit_log
		(request_id, agent_id, action_type, target_resource, decision, risk_score, risk_level,
		 matched_rules, status, approval_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.AgentID, string(r.ActionType), r.TargetResource, string(r.Decision),
		r.RiskScore, string(r.RiskLevel), string(matchedRules), r.Status, r.ApprovalID, r.RecordedAt,
	)
	if err != nil {
		s.logger.Error("failed to record audit entry", "request_id", r.RequestID, "error", err)
		return err
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
