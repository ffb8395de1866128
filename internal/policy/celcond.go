package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// CELEvaluator compiles and evaluates the optional "expression" condition
// variant: a CEL boolean expression over the request's action type, target,
// parameters, and context, for operators who need a condition the closed
// MaxAmount/ProtectedTables/MaxAffectedRows/RequireJustification set can't
// express. Expressions are compiled once at policy-load time; Evaluate is
// lock-free and safe for concurrent use, keeping compile-time work off the
// per-request evaluation path.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with the variable declarations
// available to an expression condition.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("action.type", cel.StringType),
		cel.Variable("action.target", cel.StringType),
		cel.Variable("action.params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action.context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("agent.id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:    env,
		logger: logger.With("component", "policy.CELEvaluator"),
	}, nil
}

// CompileExpression parses and type-checks a CEL expression, returning a
// ready-to-evaluate cel.Program. Called at policy-load time, never in the
// hot path.
func (c *CELEvaluator) CompileExpression(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}
	c.logger.Debug("compiled CEL expression", "expression", expr)
	return prg, nil
}

// Evaluate runs a pre-compiled CEL program against req.
func (c *CELEvaluator) Evaluate(prg cel.Program, req gateway.AgentRequest) (bool, error) {
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	context := req.Context
	if context == nil {
		context = map[string]any{}
	}

	vars := map[string]any{
		"action.type":    string(req.ActionType),
		"action.target":  req.TargetResource,
		"action.params":  params,
		"action.context": context,
		"agent.id":       req.AgentID,
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression returned non-bool: %T", out.Value())
	}
	return result, nil
}
