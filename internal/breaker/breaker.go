// Package breaker implements the CircuitBreaker described in spec.md §4.5:
// it takes a PolicyEvaluationResult and turns it into a client-facing
// GatewayResponse, creating and dispatching human-in-the-loop approvals
// when the current GatewayMode calls for one.
package breaker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// approvalTTL is the spec.md §6 tunable lifetime of a pending approval
// record.
const approvalTTL = 24 * time.Hour

// CircuitBreaker maps a PolicyEvaluationResult to a GatewayResponse per the
// mode-dependent table in spec.md §4.5, creating ApprovalRequest records
// and dispatching webhooks for the pending_approval path under ENFORCE.
type CircuitBreaker struct {
	store   gateway.ApprovalStore
	webhook *WebhookSender
	mode    *gateway.ModeSwitch
	logger  *slog.Logger
}

// NewCircuitBreaker constructs a CircuitBreaker. webhook may be nil, in
// which case Process still creates and persists the approval record but
// skips dispatch (logged once per call).
func NewCircuitBreaker(store gateway.ApprovalStore, webhook *WebhookSender, mode *gateway.ModeSwitch, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == nil {
		mode = gateway.NewModeSwitch(gateway.ModeEnforce)
	}
	return &CircuitBreaker{
		store:   store,
		webhook: webhook,
		mode:    mode,
		logger:  logger.With("component", "breaker.CircuitBreaker"),
	}
}

// GetMode returns the shared gateway mode.
func (b *CircuitBreaker) GetMode() gateway.GatewayMode {
	return b.mode.Get()
}

// SetMode updates the shared gateway mode.
func (b *CircuitBreaker) SetMode(mode gateway.GatewayMode) {
	b.logger.Info("gateway mode changed", "mode", mode)
	b.mode.Set(mode)
}

// Process applies spec.md §4.5's decision table to eval and returns the
// client-visible response. req supplies the fields an ApprovalRequest needs
// that aren't already on the evaluation result.
func (b *CircuitBreaker) Process(req gateway.AgentRequest, eval gateway.PolicyEvaluationResult) gateway.GatewayResponse {
	mode := b.mode.Get()

	resp := gateway.GatewayResponse{
		RequestID: eval.RequestID,
		Decision:  eval.Decision,
		RiskLevel: eval.RiskLevel,
		Timestamp: time.Now().UTC(),
	}

	switch eval.Decision {
	case gateway.DecisionAllow:
		resp.Status = "success"
		resp.Forwarded = true
		resp.Message = "request allowed"

	case gateway.DecisionShadowLogged:
		resp.Status = "success"
		resp.Forwarded = true
		resp.Message = "shadow mode: request would have been blocked, forwarding anyway"
		b.logger.Warn("shadow mode violation", "request_id", eval.RequestID, "matched_rules", eval.MatchedRules)

	case gateway.DecisionPendingApproval:
		if mode == gateway.ModeShadow {
			resp.Decision = gateway.DecisionShadowLogged
			resp.Status = "success"
			resp.Forwarded = true
			resp.Message = "shadow mode: request would require approval, forwarding anyway"
			b.logger.Warn("shadow mode approval-required violation", "request_id", eval.RequestID, "matched_rules", eval.MatchedRules)
			break
		}

		approvalID := b.createApproval(req, eval)
		resp.Status = "pending"
		resp.Forwarded = false
		resp.ApprovalRequired = true
		resp.ApprovalID = approvalID
		resp.Message = "request requires human approval"

	case gateway.DecisionDeny:
		if mode == gateway.ModeShadow {
			resp.Decision = gateway.DecisionShadowLogged
			resp.Status = "success"
			resp.Forwarded = true
			resp.Message = "shadow mode: request would have been denied, forwarding anyway"
			b.logger.Warn("shadow mode deny violation", "request_id", eval.RequestID, "matched_rules", eval.MatchedRules)
			break
		}

		resp.Status = "denied"
		resp.Forwarded = false
		resp.Message = denialMessage(eval.DenialReasons)

	default:
		resp.Status = "denied"
		resp.Forwarded = false
		resp.Message = "unrecognized decision, denying conservatively"
	}

	return resp
}

// createApproval persists a fresh ApprovalRequest and dispatches the
// webhook, per spec.md §4.5's approval orchestration steps. The approval id
// is returned to the caller regardless of webhook delivery outcome -- the
// persisted record, not the notification, is the source of truth.
func (b *CircuitBreaker) createApproval(req gateway.AgentRequest, eval gateway.PolicyEvaluationResult) string {
	now := time.Now().UTC()
	approval := gateway.ApprovalRequest{
		ApprovalID:     uuid.NewString(),
		RequestID:      eval.RequestID,
		AgentID:        req.AgentID,
		ActionType:     req.ActionType,
		TargetResource: req.TargetResource,
		RiskScore:      eval.RiskScore,
		RiskLevel:      eval.RiskLevel,
		MatchedRules:   eval.MatchedRules,
		RequestedAt:    now,
		ExpiresAt:      now.Add(approvalTTL),
	}
	if sanitizedParams, ok := eval.SanitizedRequest["parameters"].(map[string]any); ok {
		approval.SanitizedParameters = sanitizedParams
	}
	if sanitizedContext, ok := eval.SanitizedRequest["context"].(map[string]any); ok {
		approval.Context = sanitizedContext
	}

	if !b.store.Put(approval, approvalTTL) {
		b.logger.Error("failed to persist approval record", "approval_id", approval.ApprovalID)
	}

	if b.webhook == nil {
		b.logger.Warn("no webhook sender configured, skipping approval notification", "approval_id", approval.ApprovalID)
	} else if err := b.webhook.Send(approval); err != nil {
		b.logger.Error("failed to dispatch approval webhook", "approval_id", approval.ApprovalID, "error", err)
	}

	return approval.ApprovalID
}

// ProcessDecision resolves a pending approval. It returns (response, true)
// if the approval was present, or (zero value, false) if it had already
// been decided, expired, or never existed -- the idempotency testable
// property requires a second submission for the same id to observe false.
func (b *CircuitBreaker) ProcessDecision(approvalID string, approved bool, approverID, reason string) (gateway.ApprovalResponse, bool) {
	if !b.store.DeleteIfPresent(approvalID) {
		return gateway.ApprovalResponse{}, false
	}

	status := gateway.ApprovalDenied
	if approved {
		status = gateway.ApprovalApproved
	}

	resp := gateway.ApprovalResponse{
		ApprovalID: approvalID,
		Status:     status,
		ApproverID: approverID,
		Reason:     reason,
		ApprovedAt: time.Now().UTC(),
	}
	b.logger.Info("approval decided", "approval_id", approvalID, "status", status, "approver_id", approverID)
	return resp, true
}

func denialMessage(reasons []string) string {
	if len(reasons) == 0 {
		return "request denied by policy"
	}
	msg := "request denied: "
	for i, r := range reasons {
		if i > 0 {
			msg += "; "
		}
		msg += r
	}
	return msg
}
