package gateway

import "time"

// Cache is the keyed, priority-ordered store of policy rules described in
// spec.md §4.1. Implementations are backed by a network cache (redis) or a
// local fallback (sqlite), and must satisfy the failure semantics of §4.1:
// any remote error is logged by the implementation and produces a
// conservative return (false/empty), never an error that propagates into
// the policy engine's hot path.
type Cache interface {
	// Store upserts rule with TTL and adds its RuleID to the index set.
	// Returns false on any backend failure.
	Store(rule PolicyRule, ttl time.Duration) bool

	// Get returns a rule and true if present and unexpired, or the zero
	// value and false otherwise.
	Get(ruleID string) (PolicyRule, bool)

	// ListActive returns enabled rules in ascending priority order. An
	// empty cache (no index entries, or all expired) returns an empty,
	// non-nil slice -- callers apply their own default set.
	ListActive() []PolicyRule

	// Delete removes rule and its index membership. Idempotent.
	Delete(ruleID string) bool

	// Refresh atomically-enough replaces the indexed rule set: it removes
	// all current index members, then stores the provided rules. It
	// returns the number of rules successfully stored; partial failures
	// are tolerated and leave the cache stale rather than invalid.
	Refresh(rules []PolicyRule, ttl time.Duration) int
}

// ApprovalStore persists pending ApprovalRequest records keyed by approval
// ID with a TTL, per spec.md §4.5. Implementations back the approval
// lifecycle state machine in §4.5: created -> pending -> (approved | denied
// | expired), each terminal transition deleting the record.
type ApprovalStore interface {
	// Put persists req with the given TTL. Returns false on backend
	// failure.
	Put(req ApprovalRequest, ttl time.Duration) bool

	// Get returns the pending approval and true, or the zero value and
	// false if absent or expired.
	Get(approvalID string) (ApprovalRequest, bool)

	// DeleteIfPresent atomically removes the record if it exists and
	// returns whether it was present. Used to give process_decision its
	// required idempotency: of two concurrent submissions for the same
	// ID, exactly one observes true.
	DeleteIfPresent(approvalID string) bool
}
