package policycache

import "github.com/sentinelgw/sentinel-gateway/internal/gateway"

// DefaultPolicies returns the built-in rule table a fresh gateway starts
// with before any operator-authored policy file is loaded. The six rules
// and their priorities/modifiers match the reference implementation this
// gateway replaces -- changing them changes production risk scoring, so
// treat this table as load-bearing, not a sample.
func DefaultPolicies() []gateway.PolicyRule {
	return []gateway.PolicyRule{
		{
			RuleID:            "refund_limit_500",
			Name:              "Refund amount limit",
			Description:       "Flags refunds over $500",
			ActionTypes:       []gateway.ActionType{gateway.ActionRefund},
			Conditions:        map[string]any{"max_amount": 500.0},
			RiskScoreModifier: 1.0,
			Enabled:           true,
			Priority:          10,
		},
		{
			RuleID:            "payment_limit_10000",
			Name:              "Payment amount limit",
			Description:       "Flags payments over $10,000",
			ActionTypes:       []gateway.ActionType{gateway.ActionPayment},
			Conditions:        map[string]any{"max_amount": 10000.0},
			RiskScoreModifier: 0.85,
			Enabled:           true,
			Priority:          20,
		},
		{
			RuleID:            "admin_action_high_risk",
			Name:              "Administrative action",
			Description:       "All administrative actions are high risk",
			ActionTypes:       []gateway.ActionType{gateway.ActionAdminAction},
			Conditions:        map[string]any{},
			RiskScoreModifier: 0.85,
			Enabled:           true,
			Priority:          5,
		},
		{
			RuleID:            "user_data_access",
			Name:              "User data access requires justification",
			Description:       "Access to user data must include a justification",
			ActionTypes:       []gateway.ActionType{gateway.ActionUserDataAccess},
			Conditions:        map[string]any{"require_justification": true},
			RiskScoreModifier: 0.3,
			Enabled:           true,
			Priority:          30,
		},
		{
			RuleID:      "database_write_protection",
			Name:        "Protected table write",
			Description: "Flags writes to protected tables",
			ActionTypes: []gateway.ActionType{gateway.ActionDatabaseWrite},
			Conditions: map[string]any{
				"protected_tables": []any{"users", "payments", "credentials"},
			},
			RiskScoreModifier: 1.0,
			Enabled:           true,
			Priority:          15,
		},
		{
			RuleID:            "bulk_operation_limit",
			Name:              "Bulk operation row limit",
			Description:       "Flags writes affecting many rows at once",
			ActionTypes:       []gateway.ActionType{gateway.ActionDatabaseWrite, gateway.ActionDatabaseQuery},
			Conditions:        map[string]any{"max_affected_rows": 1000.0},
			RiskScoreModifier: 0.9,
			Enabled:           true,
			Priority:          25,
		},
	}
}
