// Package eligibility decides whether a cart satisfies all enabled
// agent-defined rules for triggering a recovery call. Evaluation is pure:
// the same agent rules and cart snapshot always produce the same result.
package eligibility

import (
	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
)

// Result aggregates the verdict of a full rule-set evaluation.
type Result struct {
	Eligible bool
	Reasons  []string
}

// Check runs every enabled condition of the agent against the cart. Disabled
// conditions are skipped entirely. The record is accepted for symmetry with
// rule types that will need attempt history (previous-orders); none of the
// implemented conditions read it yet.
func Check(agent *domain.Agent, cart *domain.Cart, record *domain.AbandonmentRecord) Result {
	var reasons []string
	for _, cond := range agent.Conditions {
		if !cond.Enabled {
			continue
		}
		if reason := evaluateCondition(cond, cart); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	return Result{Eligible: len(reasons) == 0, Reasons: reasons}
}
