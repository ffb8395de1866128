package breaker

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

func mustAgentRequest(t *testing.T, actionType gateway.ActionType) gateway.AgentRequest {
	t.Helper()
	req, err := gateway.NewAgentRequest("agent-1", actionType, "target", nil, nil)
	if err != nil {
		t.Fatalf("NewAgentRequest: %v", err)
	}
	return req
}

func newTestBreaker(t *testing.T, mode gateway.GatewayMode, webhook *WebhookSender) (*CircuitBreaker, *SQLiteApprovalStore) {
	t.Helper()
	store := newTestSQLiteApprovalStore(t)
	return NewCircuitBreaker(store, webhook, gateway.NewModeSwitch(mode), nil), store
}

func TestCircuitBreaker_Allow(t *testing.T) {
	b, _ := newTestBreaker(t, gateway.ModeEnforce, nil)
	req := mustAgentRequest(t, gateway.ActionAPICall)
	eval := gateway.PolicyEvaluationResult{RequestID: req.RequestID, Decision: gateway.DecisionAllow, RiskLevel: gateway.RiskLow}

	resp := b.Process(req, eval)

	if resp.Status != "success" || !resp.Forwarded {
		t.Errorf("got %+v, want forwarded success", resp)
	}
	if resp.ApprovalRequired {
		t.Error("allow should not require approval")
	}
}

func TestCircuitBreaker_ShadowLogged(t *testing.T) {
	b, _ := newTestBreaker(t, gateway.ModeEnforce, nil)
	req := mustAgentRequest(t, gateway.ActionAPICall)
	eval := gateway.PolicyEvaluationResult{RequestID: req.RequestID, Decision: gateway.DecisionShadowLogged, RiskLevel: gateway.RiskHigh}

	resp := b.Process(req, eval)

	if resp.Status != "success" || !resp.Forwarded {
		t.Errorf("got %+v, want forwarded success", resp)
	}
}

func TestCircuitBreaker_PendingApproval_Enforce_CreatesApproval(t *testing.T) {
	var gotWebhook bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWebhook = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	webhook := NewWebhookSender(srv.URL, "", time.Second)
	b, store := newTestBreaker(t, gateway.ModeEnforce, webhook)
	req := mustAgentRequest(t, gateway.ActionPayment)
	eval := gateway.PolicyEvaluationResult{
		RequestID:    req.RequestID,
		Decision:     gateway.DecisionPendingApproval,
		RiskScore:    0.85,
		RiskLevel:    gateway.RiskCritical,
		MatchedRules: []string{"payment_limit_10000"},
		SanitizedRequest: map[string]any{
			"parameters": map[string]any{"amount": 20000.0},
			"context":    map[string]any{},
		},
	}

	resp := b.Process(req, eval)

	if resp.Status != "pending" || resp.Forwarded {
		t.Errorf("got %+v, want pending/not-forwarded", resp)
	}
	if !resp.ApprovalRequired || resp.ApprovalID == "" {
		t.Fatalf("expected an approval id, got %+v", resp)
	}
	if _, ok := store.Get(resp.ApprovalID); !ok {
		t.Error("expected the approval record to be persisted")
	}
	if !gotWebhook {
		t.Error("expected the webhook to have been dispatched")
	}
}

func TestCircuitBreaker_PendingApproval_Shadow_CoercesAndForwards(t *testing.T) {
	b, _ := newTestBreaker(t, gateway.ModeShadow, nil)
	req := mustAgentRequest(t, gateway.ActionPayment)
	eval := gateway.PolicyEvaluationResult{RequestID: req.RequestID, Decision: gateway.DecisionPendingApproval, RiskScore: 0.85, RiskLevel: gateway.RiskCritical}

	resp := b.Process(req, eval)

	if resp.Decision != gateway.DecisionShadowLogged {
		t.Errorf("decision = %v, want shadow_logged", resp.Decision)
	}
	if resp.Status != "success" || !resp.Forwarded {
		t.Errorf("got %+v, want forwarded success", resp)
	}
	if resp.ApprovalRequired {
		t.Error("shadow mode should not require approval")
	}
}

func TestCircuitBreaker_Deny_Enforce(t *testing.T) {
	b, _ := newTestBreaker(t, gateway.ModeEnforce, nil)
	req := mustAgentRequest(t, gateway.ActionRefund)
	eval := gateway.PolicyEvaluationResult{
		RequestID:     req.RequestID,
		Decision:      gateway.DecisionDeny,
		RiskScore:     1.0,
		RiskLevel:     gateway.RiskCritical,
		DenialReasons: []string{"Amount 750.00 exceeds limit of 500"},
	}

	resp := b.Process(req, eval)

	if resp.Status != "denied" || resp.Forwarded {
		t.Errorf("got %+v, want denied/not-forwarded", resp)
	}
	if resp.Message == "" {
		t.Error("expected a denial message")
	}
}

func TestCircuitBreaker_Deny_Shadow_CoercesAndForwards(t *testing.T) {
	b, _ := newTestBreaker(t, gateway.ModeShadow, nil)
	req := mustAgentRequest(t, gateway.ActionRefund)
	eval := gateway.PolicyEvaluationResult{
		RequestID:     req.RequestID,
		Decision:      gateway.DecisionDeny,
		RiskScore:     1.0,
		RiskLevel:     gateway.RiskCritical,
		DenialReasons: []string{"Amount 750.00 exceeds limit of 500"},
	}

	resp := b.Process(req, eval)

	if resp.Decision != gateway.DecisionShadowLogged {
		t.Errorf("decision = %v, want shadow_logged", resp.Decision)
	}
	if resp.Status != "success" || !resp.Forwarded {
		t.Errorf("got %+v, want forwarded success", resp)
	}
}

// Testable property 7: a second decision submission for the same approval
// id is idempotent and observes the approval as already resolved.
func TestCircuitBreaker_ProcessDecision_IsIdempotent(t *testing.T) {
	b, store := newTestBreaker(t, gateway.ModeEnforce, nil)
	store.Put(testApproval("approval-idem"), time.Hour)

	resp1, ok1 := b.ProcessDecision("approval-idem", true, "reviewer-1", "looks fine")
	if !ok1 {
		t.Fatal("first decision should observe the approval present")
	}
	if resp1.Status != gateway.ApprovalApproved {
		t.Errorf("status = %v, want approved", resp1.Status)
	}

	_, ok2 := b.ProcessDecision("approval-idem", true, "reviewer-2", "duplicate")
	if ok2 {
		t.Error("second decision for the same id should observe it absent")
	}
}

func TestCircuitBreaker_ProcessDecision_Deny(t *testing.T) {
	b, store := newTestBreaker(t, gateway.ModeEnforce, nil)
	store.Put(testApproval("approval-deny"), time.Hour)

	resp, ok := b.ProcessDecision("approval-deny", false, "reviewer-1", "too risky")
	if !ok {
		t.Fatal("expected the approval to be present")
	}
	if resp.Status != gateway.ApprovalDenied {
		t.Errorf("status = %v, want denied", resp.Status)
	}
	if resp.Reason != "too risky" {
		t.Errorf("reason = %q, want %q", resp.Reason, "too risky")
	}
}

func TestCircuitBreaker_ProcessDecision_UnknownApproval(t *testing.T) {
	b, _ := newTestBreaker(t, gateway.ModeEnforce, nil)
	if _, ok := b.ProcessDecision("does-not-exist", true, "reviewer", ""); ok {
		t.Fatal("expected an unknown approval id to return false")
	}
}

func TestCircuitBreaker_GetSetMode(t *testing.T) {
	b, _ := newTestBreaker(t, gateway.ModeShadow, nil)
	if b.GetMode() != gateway.ModeShadow {
		t.Fatalf("GetMode() = %v, want SHADOW", b.GetMode())
	}
	b.SetMode(gateway.ModeEnforce)
	if b.GetMode() != gateway.ModeEnforce {
		t.Fatalf("GetMode() = %v, want ENFORCE", b.GetMode())
	}
}
