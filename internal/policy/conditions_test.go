package policy

import (
	"testing"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

func TestCompileConditions_Blanket(t *testing.T) {
	conds, err := compileConditions(map[string]any{}, nil)
	if err != nil {
		t.Fatalf("compileConditions: %v", err)
	}
	if len(conds) != 1 || conds[0].kind != condBlanket {
		t.Fatalf("expected a single blanket condition, got %+v", conds)
	}
}

func TestCompileConditions_UnknownKeyIgnored(t *testing.T) {
	conds, err := compileConditions(map[string]any{"some_future_key": "value"}, nil)
	if err != nil {
		t.Fatalf("compileConditions: %v", err)
	}
	if len(conds) != 1 || conds[0].kind != condBlanket {
		t.Fatalf("unknown-only keys should compile to blanket, got %+v", conds)
	}
}

func TestCompileConditions_MaxAmountRejectsNonNumeric(t *testing.T) {
	_, err := compileConditions(map[string]any{"max_amount": "not a number"}, nil)
	if err == nil {
		t.Fatal("expected an error for a non-numeric max_amount")
	}
}

func TestCompileConditions_ExpressionWithoutEvaluator(t *testing.T) {
	_, err := compileConditions(map[string]any{"expression": "action.type == 'payment'"}, nil)
	if err == nil {
		t.Fatal("expected an error compiling an expression condition with no CEL evaluator")
	}
}

func TestEvaluateConditions_ExpressionMatch(t *testing.T) {
	celEval, err := NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator: %v", err)
	}

	conds, err := compileConditions(map[string]any{"expression": `action.type == "payment"`}, celEval)
	if err != nil {
		t.Fatalf("compileConditions: %v", err)
	}

	rule := gateway.PolicyRule{Name: "expr rule"}
	req, _ := gateway.NewAgentRequest("agent-1", gateway.ActionPayment, "payments", nil, nil)

	violated, reason, err := evaluateConditions(rule, conds, req, map[string]any{}, celEval)
	if err != nil {
		t.Fatalf("evaluateConditions: %v", err)
	}
	if !violated {
		t.Fatal("expected the expression condition to match a payment action")
	}
	if reason == "" {
		t.Error("expected a non-empty reason")
	}
}

func TestEvaluateConditions_ExpressionNoMatch(t *testing.T) {
	celEval, err := NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator: %v", err)
	}

	conds, err := compileConditions(map[string]any{"expression": `action.type == "refund"`}, celEval)
	if err != nil {
		t.Fatalf("compileConditions: %v", err)
	}

	rule := gateway.PolicyRule{Name: "expr rule"}
	req, _ := gateway.NewAgentRequest("agent-1", gateway.ActionPayment, "payments", nil, nil)

	violated, _, err := evaluateConditions(rule, conds, req, map[string]any{}, celEval)
	if err != nil {
		t.Fatalf("evaluateConditions: %v", err)
	}
	if violated {
		t.Error("expected no violation for a non-matching expression")
	}
}
