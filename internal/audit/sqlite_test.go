package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLiteSink(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFromResponse(t *testing.T) {
	req := gateway.AgentRequest{
		RequestID:      "req-1",
		AgentID:        "agent-1",
		ActionType:     gateway.ActionPayment,
		TargetResource: "acct:1",
	}
	eval := gateway.PolicyEvaluationResult{
		RiskScore:    0.9,
		RiskLevel:    gateway.RiskCritical,
		MatchedRules: []string{"refund_limit_500"},
	}
	resp := gateway.GatewayResponse{
		Decision:   gateway.DecisionDeny,
		Status:     "denied",
		ApprovalID: "",
	}

	rec := FromResponse(req, eval, resp)
	if rec.RequestID != "req-1" || rec.AgentID != "agent-1" {
		t.Errorf("unexpected identifying fields: %+v", rec)
	}
	if rec.Decision != gateway.DecisionDeny || rec.RiskLevel != gateway.RiskCritical {
		t.Errorf("unexpected decision fields: %+v", rec)
	}
	if rec.RecordedAt.IsZero() {
		t.Error("expected RecordedAt to be populated")
	}
}

func TestSQLiteSink_Record(t *testing.T) {
	s := newTestSink(t)
	rec := Record{
		RequestID:      "req-1",
		AgentID:        "agent-1",
		ActionType:     gateway.ActionRefund,
		TargetResource: "acct:1",
		Decision:       gateway.DecisionAllow,
		RiskScore:      0.1,
		RiskLevel:      gateway.RiskLow,
		MatchedRules:   []string{"refund_limit_500"},
		Status:         "success",
		RecordedAt:     time.Now().UTC(),
	}
	if err := s.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE request_id = ?", rec.RequestID).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row for request_id, got %d", count)
	}
}

func TestSQLiteSink_RecordMultiple(t *testing.T) {
	s := newTestSink(t)
	for i := 0; i < 3; i++ {
		rec := Record{RequestID: "req", AgentID: "agent", Decision: gateway.DecisionAllow, RecordedAt: time.Now().UTC()}
		if err := s.Record(rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 appended rows, got %d", count)
	}
}
