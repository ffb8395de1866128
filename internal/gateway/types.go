// Package gateway holds the core data model shared by the policy cache, PII
// scanner, rate limiter, policy engine, and circuit breaker: a dependency-free
// home for types and interfaces that several higher packages need without
// creating import cycles between them.
package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionType is the closed enumeration of agent-issued action kinds.
type ActionType string

const (
	ActionDatabaseQuery  ActionType = "database_query"
	ActionDatabaseWrite  ActionType = "database_write"
	ActionAPICall        ActionType = "api_call"
	ActionFileAccess     ActionType = "file_access"
	ActionPayment        ActionType = "payment"
	ActionRefund         ActionType = "refund"
	ActionUserDataAccess ActionType = "user_data_access"
	ActionAdminAction    ActionType = "admin_action"
)

// ValidActionTypes enumerates every recognized ActionType, in the order they
// appear in spec.md §3.
var ValidActionTypes = []ActionType{
	ActionDatabaseQuery,
	ActionDatabaseWrite,
	ActionAPICall,
	ActionFileAccess,
	ActionPayment,
	ActionRefund,
	ActionUserDataAccess,
	ActionAdminAction,
}

// IsValid reports whether a is one of the closed set of ActionTypes.
func (a ActionType) IsValid() bool {
	for _, v := range ValidActionTypes {
		if v == a {
			return true
		}
	}
	return false
}

// RiskLevel is the ordered risk classification derived from a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders RiskLevel values so low < medium < high < critical.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// Less reports whether r is strictly lower risk than other.
func (r RiskLevel) Less(other RiskLevel) bool {
	return r.rank() < other.rank()
}

// LevelForScore maps a risk score in [0,1] to a RiskLevel per spec.md §4.4
// step 5: critical >= 0.8, high >= 0.5, medium >= 0.2, else low.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.5:
		return RiskHigh
	case score >= 0.2:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DecisionType is the outcome of a policy evaluation.
type DecisionType string

const (
	DecisionAllow           DecisionType = "allow"
	DecisionDeny            DecisionType = "deny"
	DecisionPendingApproval DecisionType = "pending_approval"
	DecisionShadowLogged    DecisionType = "shadow_logged"
)

// GatewayMode selects whether the circuit breaker observes or enforces.
type GatewayMode string

const (
	ModeShadow  GatewayMode = "SHADOW"
	ModeEnforce GatewayMode = "ENFORCE"
)

// ParseGatewayMode normalizes a mode string (case-insensitive) into a
// GatewayMode, defaulting to ENFORCE for anything unrecognized -- this
// gateway fails closed on a malformed mode rather than silently going
// permissive.
func ParseGatewayMode(s string) GatewayMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ModeShadow):
		return ModeShadow
	default:
		return ModeEnforce
	}
}

// AgentRequest is an immutable (after construction) action request issued by
// an agent. See spec.md §3.
type AgentRequest struct {
	RequestID      string
	AgentID        string
	ActionType     ActionType
	TargetResource string
	Parameters     map[string]any
	Context        map[string]any
	Timestamp      time.Time
}

// NewAgentRequest validates and constructs an AgentRequest, generating a
// fresh RequestID and Timestamp. Malformed input (the length/enum
// constraints of spec.md §3) is rejected here, at the boundary, rather than
// inside PolicyEngine.Evaluate -- per spec.md §7, "malformed input... is
// rejected at the boundary before reaching the engine."
func NewAgentRequest(agentID string, actionType ActionType, targetResource string, parameters, context map[string]any) (AgentRequest, error) {
	if len(agentID) < 1 || len(agentID) > 128 {
		return AgentRequest{}, fmt.Errorf("agent_id must be 1-128 chars, got %d", len(agentID))
	}
	if len(targetResource) < 1 || len(targetResource) > 512 {
		return AgentRequest{}, fmt.Errorf("target_resource must be 1-512 chars, got %d", len(targetResource))
	}
	if !actionType.IsValid() {
		return AgentRequest{}, fmt.Errorf("unknown action_type %q", actionType)
	}
	if parameters == nil {
		parameters = map[string]any{}
	}
	if context == nil {
		context = map[string]any{}
	}
	return AgentRequest{
		RequestID:      uuid.NewString(),
		AgentID:        agentID,
		ActionType:     actionType,
		TargetResource: targetResource,
		Parameters:     parameters,
		Context:        context,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// PolicyRule is a single named predicate plus its risk contribution.
// See spec.md §3 and the condition keys in §4.4.
type PolicyRule struct {
	RuleID             string
	Name               string
	Description        string
	ActionTypes        []ActionType
	Conditions         map[string]any
	RiskScoreModifier  float64
	Enabled            bool
	Priority           int
}

// MatchesAction reports whether the rule applies to the given ActionType.
func (r PolicyRule) MatchesAction(a ActionType) bool {
	for _, at := range r.ActionTypes {
		if at == a {
			return true
		}
	}
	return false
}

// PolicyEvaluationResult is the outcome of PolicyEngine.Evaluate. See
// spec.md §3.
type PolicyEvaluationResult struct {
	RequestID          string
	Decision           DecisionType
	RiskScore          float64
	RiskLevel          RiskLevel
	MatchedRules       []string
	DenialReasons      []string
	SanitizedRequest   map[string]any
	PIIDetected        bool
	PIIFields          []string
	EvaluationTimeMs   float64
	Timestamp          time.Time
}

// GatewayResponse is the client-visible outcome of CircuitBreaker.Process.
type GatewayResponse struct {
	RequestID        string
	Status           string // "success", "pending", "denied"
	Decision         DecisionType
	Message          string
	RiskLevel        RiskLevel
	ApprovalRequired bool
	ApprovalID       string
	Forwarded        bool
	Timestamp        time.Time
}

// ApprovalRequest is the persisted state of a pending human-in-the-loop
// decision. See spec.md §3 and §4.5.
type ApprovalRequest struct {
	ApprovalID           string
	RequestID            string
	AgentID              string
	ActionType           ActionType
	TargetResource       string
	RiskScore            float64
	RiskLevel            RiskLevel
	MatchedRules         []string
	SanitizedParameters  map[string]any
	Context              map[string]any
	RequestedAt          time.Time
	ExpiresAt            time.Time
}

// ApprovalStatus is the terminal or pending state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalResponse is the result of submitting a decision for a pending
// ApprovalRequest.
type ApprovalResponse struct {
	ApprovalID string
	Status     ApprovalStatus
	ApproverID string
	Reason     string
	ApprovedAt time.Time
}
