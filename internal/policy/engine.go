// Package policy implements the PolicyEngine described in spec.md §4.4: PII
// scrubbing, rule matching against a priority-ordered policy set, risk
// aggregation, and decision derivation.
package policy

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
	"github.com/sentinelgw/sentinel-gateway/internal/pii"
)

// compiledPolicy pairs a PolicyRule with its pre-parsed condition clauses,
// so Evaluate never re-inspects the raw conditions map in the hot path.
type compiledPolicy struct {
	rule       gateway.PolicyRule
	conditions []condition
}

// Config holds the engine's scoring thresholds. Defaults match the
// reference settings in spec.md §6.
type Config struct {
	BlockThreshold    float64
	ApprovalThreshold float64
}

// DefaultConfig returns the spec.md §6 tunable defaults.
func DefaultConfig() Config {
	return Config{BlockThreshold: 1.0, ApprovalThreshold: 0.8}
}

// Engine is the PolicyEngine. It holds a hot-swappable compiled policy set
// guarded by a RWMutex, swapped atomically on LoadPolicies/ReloadFromCache,
// plus the scanner and CEL evaluator its rules depend on.
type Engine struct {
	mu       sync.RWMutex
	policies []compiledPolicy

	cache   gateway.Cache
	scanner *pii.Scanner
	celEval *CELEvaluator
	mode    *gateway.ModeSwitch
	config  Config
	logger  *slog.Logger
}

// NewEngine constructs an Engine. cache and scanner are required; celEval
// and mode may be nil (expression conditions are then rejected at load
// time, and mode defaults to ENFORCE for the block-threshold decision).
func NewEngine(cache gateway.Cache, scanner *pii.Scanner, celEval *CELEvaluator, mode *gateway.ModeSwitch, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BlockThreshold == 0 && cfg.ApprovalThreshold == 0 {
		cfg = DefaultConfig()
	}
	if mode == nil {
		mode = gateway.NewModeSwitch(gateway.ModeEnforce)
	}
	return &Engine{
		cache:   cache,
		scanner: scanner,
		celEval: celEval,
		mode:    mode,
		config:  cfg,
		logger:  logger.With("component", "policy.Engine"),
	}
}

// LoadPolicies compiles rules and atomically replaces the engine's active
// policy set. A rule whose conditions fail to compile is skipped with a
// logged warning rather than aborting the whole load -- one bad policy file
// entry shouldn't take down evaluation for every other rule.
func (e *Engine) LoadPolicies(rules []gateway.PolicyRule) {
	compiled := make([]compiledPolicy, 0, len(rules))
	for _, rule := range rules {
		conds, err := compileConditions(rule.Conditions, e.celEval)
		if err != nil {
			e.logger.Warn("skipping policy with invalid conditions", "rule_id", rule.RuleID, "error", err)
			continue
		}
		compiled = append(compiled, compiledPolicy{rule: rule, conditions: conds})
	}

	sort.Slice(compiled, func(i, j int) bool { return compiled[i].rule.Priority < compiled[j].rule.Priority })

	e.mu.Lock()
	e.policies = compiled
	e.mu.Unlock()

	e.logger.Info("loaded policies", "count", len(compiled))
}

// ReloadFromCache re-reads the active rule set from the PolicyCache,
// falling back to the built-in defaults when the cache is empty (spec.md
// §4.1's required degraded behavior).
func (e *Engine) ReloadFromCache(defaults []gateway.PolicyRule) {
	rules := e.cache.ListActive()
	if len(rules) == 0 {
		rules = defaults
	}
	e.LoadPolicies(rules)
}

// PolicyCount reports how many compiled policies are currently active.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies)
}

// Evaluate runs the full §4.4 pipeline against req: sanitize, fetch rules,
// match, score, level, decide, and record timing. Any internal failure
// degrades to deny/critical/1.0 with a single descriptive denial reason,
// per spec.md §4.4's closing paragraph and §7's evaluation-failure
// taxonomy -- evaluate itself never returns an error.
func (e *Engine) Evaluate(req gateway.AgentRequest) (result gateway.PolicyEvaluationResult) {
	start := time.Now()

	result = gateway.PolicyEvaluationResult{
		RequestID: req.RequestID,
		Decision:  gateway.DecisionAllow,
		RiskLevel: gateway.RiskLow,
		Timestamp: time.Now().UTC(),
	}

	defer func() {
		result.EvaluationTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	}()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("policy evaluation panicked", "request_id", req.RequestID, "panic", r)
			result.Decision = gateway.DecisionDeny
			result.RiskScore = 1.0
			result.RiskLevel = gateway.RiskCritical
			result.DenialReasons = []string{"Evaluation error: internal panic"}
		}
	}()

	// Step 1: sanitize.
	sanitizedParams, paramsPII := e.scanner.ScanTree(valueOrEmpty(req.Parameters))
	sanitizedContext, contextPII := e.scanner.ScanTree(valueOrEmpty(req.Context))

	piiFields := unionStrings(paramsPII, contextPII)
	result.PIIDetected = len(piiFields) > 0
	result.PIIFields = piiFields
	result.SanitizedRequest = map[string]any{
		"parameters":      sanitizedParams,
		"context":         sanitizedContext,
		"agent_id":        req.AgentID,
		"action_type":     string(req.ActionType),
		"target_resource": req.TargetResource,
	}

	sanitizedParamsMap, _ := sanitizedParams.(map[string]any)
	if sanitizedParamsMap == nil {
		sanitizedParamsMap = map[string]any{}
	}

	// Step 2: fetch rules (already cache-priority-ordered by LoadPolicies).
	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	// Step 3: match.
	var matchedRules []string
	var denialReasons []string
	var cumulativeRisk float64

	for _, cp := range policies {
		if !cp.rule.Enabled || !cp.rule.MatchesAction(req.ActionType) {
			continue
		}

		violated, reason, err := evaluateConditions(cp.rule, cp.conditions, req, sanitizedParamsMap, e.celEval)
		if err != nil {
			e.logger.Error("condition evaluation failed", "rule_id", cp.rule.RuleID, "error", err)
			result.Decision = gateway.DecisionDeny
			result.RiskScore = 1.0
			result.RiskLevel = gateway.RiskCritical
			result.DenialReasons = []string{"Evaluation error: " + err.Error()}
			return result
		}
		if violated {
			matchedRules = append(matchedRules, cp.rule.RuleID)
			denialReasons = append(denialReasons, reason)
			cumulativeRisk += cp.rule.RiskScoreModifier
		}
	}

	result.MatchedRules = matchedRules
	result.DenialReasons = denialReasons

	// Step 4: score.
	result.RiskScore = clamp(cumulativeRisk, 0.0, 1.0)

	// Step 5: level.
	result.RiskLevel = gateway.LevelForScore(result.RiskScore)

	// Step 6: decision. The block threshold's outcome depends on the
	// current gateway mode; everything else is mode-independent (the
	// breaker applies the rest of the mode mapping in §4.5).
	switch {
	case result.RiskScore >= e.config.BlockThreshold:
		if e.mode.Get() == gateway.ModeShadow {
			result.Decision = gateway.DecisionShadowLogged
		} else {
			result.Decision = gateway.DecisionDeny
		}
	case result.RiskScore >= e.config.ApprovalThreshold:
		result.Decision = gateway.DecisionPendingApproval
	default:
		result.Decision = gateway.DecisionAllow
	}

	return result
}

func valueOrEmpty(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
