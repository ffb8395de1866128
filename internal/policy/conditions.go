package policy

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// conditionKind is the closed set of recognized condition variants, per the
// condition DSL called out in spec.md's design notes: a tag-dispatched
// evaluator compiled once at rule-load time from the loose conditions
// mapping, rather than re-inspecting map keys on every evaluation.
type conditionKind int

const (
	condMaxAmount conditionKind = iota
	condProtectedTables
	condMaxAffectedRows
	condRequireJustification
	condExpression
	condBlanket
)

// condition is one compiled clause of a rule's condition set. A rule
// compiles to zero or more of these (see compileConditions); condBlanket is
// used only when none of the other kinds were present in the source
// mapping, matching the reference engine's "empty conditions still flags
// the action type" behavior.
type condition struct {
	kind            conditionKind
	maxAmount       float64
	protectedTables []string
	maxAffectedRows float64
	celProgram      cel.Program
	celSource       string
}

// compileConditions converts a rule's loose conditions map into the closed
// set of condition clauses, in the fixed evaluation order the reference
// engine checks them (max_amount, protected_tables, max_affected_rows,
// require_justification, expression). Unknown keys are ignored, which is
// what makes this forward-compatible: an operator can add metadata keys to
// a policy file without breaking evaluation.
func compileConditions(raw map[string]any, celEval *CELEvaluator) ([]condition, error) {
	var out []condition

	if v, ok := raw["max_amount"]; ok {
		amount, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("max_amount must be numeric, got %T", v)
		}
		out = append(out, condition{kind: condMaxAmount, maxAmount: amount})
	}

	if v, ok := raw["protected_tables"]; ok {
		tables, err := toStringSlice(v)
		if err != nil {
			return nil, fmt.Errorf("protected_tables: %w", err)
		}
		out = append(out, condition{kind: condProtectedTables, protectedTables: tables})
	}

	if v, ok := raw["max_affected_rows"]; ok {
		rows, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("max_affected_rows must be numeric, got %T", v)
		}
		out = append(out, condition{kind: condMaxAffectedRows, maxAffectedRows: rows})
	}

	if v, ok := raw["require_justification"]; ok {
		if b, ok := v.(bool); ok && b {
			out = append(out, condition{kind: condRequireJustification})
		}
	}

	if v, ok := raw["expression"]; ok {
		expr, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expression must be a string, got %T", v)
		}
		if celEval == nil {
			return nil, fmt.Errorf("expression condition %q requires a CEL evaluator", expr)
		}
		prg, err := celEval.CompileExpression(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, condition{kind: condExpression, celProgram: prg, celSource: expr})
	}

	if len(out) == 0 {
		out = append(out, condition{kind: condBlanket})
	}

	return out, nil
}

// evaluateConditions runs a rule's compiled conditions against the
// sanitized parameters and raw context, in the fixed order they were
// compiled in, and returns on the first violation -- matching the
// reference implementation's short-circuit behavior. A rule with no
// violating clause contributes no risk.
func evaluateConditions(rule gateway.PolicyRule, conds []condition, req gateway.AgentRequest, sanitizedParams map[string]any, celEval *CELEvaluator) (violated bool, reason string, err error) {
	for _, c := range conds {
		switch c.kind {
		case condMaxAmount:
			amount, ok := toFloat(sanitizedParams["amount"])
			if ok && amount > c.maxAmount {
				return true, fmt.Sprintf("Amount $%g exceeds limit of $%g (%s)", amount, c.maxAmount, rule.Name), nil
			}

		case condProtectedTables:
			target := strings.ToLower(req.TargetResource)
			for _, table := range c.protectedTables {
				if strings.Contains(target, strings.ToLower(table)) {
					return true, fmt.Sprintf("Access to protected resource %q (%s)", table, rule.Name), nil
				}
			}

		case condMaxAffectedRows:
			affected, _ := toFloat(sanitizedParams["affected_rows"])
			limit, _ := toFloat(sanitizedParams["limit"])
			count := affected
			if limit > count {
				count = limit
			}
			if count > c.maxAffectedRows {
				return true, fmt.Sprintf("Bulk operation affects %g rows, limit is %g (%s)", count, c.maxAffectedRows, rule.Name), nil
			}

		case condRequireJustification:
			justification, _ := req.Context["justification"].(string)
			if len(strings.TrimSpace(justification)) < 10 {
				return true, fmt.Sprintf("Justification required for this action (%s)", rule.Name), nil
			}

		case condExpression:
			if celEval == nil {
				return false, "", fmt.Errorf("expression condition %q has no evaluator bound", c.celSource)
			}
			matched, evalErr := celEval.Evaluate(c.celProgram, req)
			if evalErr != nil {
				return false, "", fmt.Errorf("expression condition %q: %w", c.celSource, evalErr)
			}
			if matched {
				return true, fmt.Sprintf("Expression condition matched (%s)", rule.Name), nil
			}

		case condBlanket:
			return true, fmt.Sprintf("Action type flagged by policy (%s)", rule.Name), nil
		}
	}
	return false, "", nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
}
