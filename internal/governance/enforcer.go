package governance

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/llmops/govern/internal/logger"
	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/repository"
)

// Enforcer admits or rejects governed requests. The whole admission runs in
// one transaction: budgets are locked in chain order (key, team, customer)
// and the rate-limit row last, so concurrent requests on the same key
// serialize and a rejection leaves no counter changed.
type Enforcer struct {
	db         *sqlx.DB
	budgets    repository.BudgetsRepository
	rateLimits repository.RateLimitsRepository
	resolver   *Resolver
}

func NewEnforcer(db *sqlx.DB, budgets repository.BudgetsRepository, rateLimits repository.RateLimitsRepository, resolver *Resolver) *Enforcer {
	return &Enforcer{db: db, budgets: budgets, rateLimits: rateLimits, resolver: resolver}
}

// Admit charges cost against every budget in the key's chain and tokens plus
// one request against the key's rate limit. On rejection it rolls back and
// returns *BudgetExceededError or *RateLimitedError; callers map those to
// status codes. Expired windows reset before checking, and the reset only
// persists when the request is admitted.
func (e *Enforcer) Admit(ctx context.Context, vk *model.VirtualKey, cost, tokens int64) error {
	scopes, err := e.resolver.Resolve(ctx, vk)
	if err != nil {
		return err
	}
	if len(scopes) == 0 && vk.RateLimitID == nil {
		return nil
	}

	now := time.Now().UTC()

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	locked := make([]*model.Budget, 0, len(scopes))
	for _, s := range scopes {
		b, err := e.budgets.GetForUpdate(ctx, tx, s.BudgetID)
		if err != nil {
			return err
		}
		b.ResetIfExpired(now)
		if !b.Allows(cost) {
			return &BudgetExceededError{
				Scope:        s.Level,
				BudgetID:     b.ID,
				CurrentUsage: b.CurrentUsage,
				MaxLimit:     b.MaxLimit,
				Cost:         cost,
			}
		}
		locked = append(locked, b)
	}

	var rl *model.RateLimit
	if vk.RateLimitID != nil {
		rl, err = e.rateLimits.GetForUpdate(ctx, tx, *vk.RateLimitID)
		if err != nil {
			return err
		}
		rl.ResetExpiredWindows(now)
		if !rl.AllowsTokens(tokens) {
			return &RateLimitedError{Kind: "tokens", RetryAfter: windowRemaining(rl.TokenResetDuration, rl.TokenLastReset, now)}
		}
		if !rl.AllowsRequest() {
			return &RateLimitedError{Kind: "requests", RetryAfter: windowRemaining(rl.RequestResetDuration, rl.RequestLastReset, now)}
		}
	}

	for _, b := range locked {
		b.CurrentUsage += cost
		if err := e.budgets.SaveCounters(ctx, tx, b); err != nil {
			return err
		}
	}
	if rl != nil {
		rl.TokenCurrentUsage += tokens
		rl.RequestCurrentUsage++
		if err := e.rateLimits.SaveCounters(ctx, tx, rl); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.L().Debug("request admitted",
		zap.String("virtual_key_id", vk.ID),
		zap.Int64("cost", cost),
		zap.Int64("tokens", tokens),
		zap.Int("budgets", len(locked)))
	return nil
}

func windowRemaining(duration *string, lastReset, now time.Time) time.Duration {
	if duration == nil {
		return 0
	}
	d, err := model.ParseResetDuration(*duration)
	if err != nil {
		return 0
	}
	if rem := d - now.Sub(lastReset); rem > 0 {
		return rem
	}
	return 0
}
