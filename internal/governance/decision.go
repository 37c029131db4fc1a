package governance

import (
	"fmt"
	"time"
)

// Decision labels a gate outcome. The values double as the prometheus
// decision label.
type Decision string

const (
	DecisionAdmitted        Decision = "admitted"
	DecisionNoCredential    Decision = "no_credential"
	DecisionUnknownKey      Decision = "unknown_key"
	DecisionInactive        Decision = "inactive"
	DecisionModelBlocked    Decision = "model_blocked"
	DecisionProviderBlocked Decision = "provider_blocked"
	DecisionBudgetExceeded  Decision = "budget_exceeded"
	DecisionRateLimited     Decision = "rate_limited"
)

// BudgetExceededError reports which tier of the chain rejected the spend.
type BudgetExceededError struct {
	Scope        ScopeLevel
	BudgetID     string
	CurrentUsage int64
	MaxLimit     int64
	Cost         int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget %s exceeded: usage %d + cost %d > limit %d",
		e.Scope, e.BudgetID, e.CurrentUsage, e.Cost, e.MaxLimit)
}

// RateLimitedError reports which pair tripped: "tokens" or "requests".
// RetryAfter is the remaining window time, zero when unknown.
type RateLimitedError struct {
	Kind       string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s", e.Kind)
}
