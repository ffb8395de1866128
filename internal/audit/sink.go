// Package audit is an extension point: the gateway's core pipeline
// (policycache, pii, ratelimit, policy, breaker) never calls into it
// directly, but spec.md §1 lists an append-only audit trail as a natural
// companion to the governance decisions the gateway makes, and the
// reference implementation this module is built against persists every
// evaluation for later review. Sink lets an embedding caller record each
// GatewayResponse without the core packages depending on a storage layer;
// cmd/sentinel-gateway does not construct or call one.
package audit

import (
	"time"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// Record is a single governance decision, paired with enough of the
// originating request to make the audit trail self-describing.
type Record struct {
	RequestID      string
	AgentID        string
	ActionType     gateway.ActionType
	TargetResource string
	Decision       gateway.DecisionType
	RiskScore      float64
	RiskLevel      gateway.RiskLevel
	MatchedRules   []string
	Status         string
	ApprovalID     string
	RecordedAt     time.Time
}

// Sink persists governance decisions for later review. Implementations
// must not block the evaluate/process hot path on slow storage -- callers
// are expected to invoke Record from a background goroutine or a buffered
// queue, not inline with a client request.
type Sink interface {
	Record(r Record) error
	Close() error
}

// FromResponse builds a Record from the inputs available at the point
// CircuitBreaker.Process returns.
func FromResponse(req gateway.AgentRequest, eval gateway.PolicyEvaluationResult, resp gateway.GatewayResponse) Record {
	return Record{
		RequestID:      req.RequestID,
		AgentID:        req.AgentID,
		ActionType:     req.ActionType,
		TargetResource: req.TargetResource,
		Decision:       resp.Decision,
		RiskScore:      eval.RiskScore,
		RiskLevel:      eval.RiskLevel,
		MatchedRules:   eval.MatchedRules,
		Status:         resp.Status,
		ApprovalID:     resp.ApprovalID,
		RecordedAt:     time.Now().UTC(),
	}
}
