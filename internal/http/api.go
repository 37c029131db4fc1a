package http

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/llmops/govern/internal/governance"
	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/repository"
	"github.com/llmops/govern/internal/util"
)

// keyCache is the slice of the credential cache the handlers need: every
// write touching a key or its governance objects drops the cached entry.
type keyCache interface {
	Invalidate(ctx context.Context, value string)
}

// API carries the dependencies of the governance management handlers.
type API struct {
	db          *sqlx.DB
	ch          *sqlx.DB
	rdb         *redis.Client
	customers   repository.CustomersRepository
	teams       repository.TeamsRepository
	virtualKeys repository.VirtualKeysRepository
	budgets     repository.BudgetsRepository
	rateLimits  repository.RateLimitsRepository
	usageEvents repository.CHUsageRepository
	cache       keyCache
	tracker     *governance.Tracker
}

// withServerTx runs fn inside a transaction, committing on success.
func withServerTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// budgetPayload is the nested budget object on create and update bodies.
// Creation requires both fields; patch merges whichever are present.
type budgetPayload struct {
	MaxLimit      *int64  `json:"max_limit"`
	ResetDuration *string `json:"reset_duration"`
}

func (p *budgetPayload) validate() error {
	if p.MaxLimit != nil && *p.MaxLimit < 0 {
		return model.Invalidf("max_limit must be non-negative")
	}
	if p.ResetDuration != nil {
		if _, err := model.ParseResetDuration(*p.ResetDuration); err != nil {
			return model.Invalidf("invalid reset_duration: %v", err)
		}
	}
	return nil
}

// newBudget builds a budget from a creation payload. Both fields are required.
func newBudget(p *budgetPayload) (*model.Budget, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.MaxLimit == nil || p.ResetDuration == nil {
		return nil, model.Invalidf("budget requires max_limit and reset_duration")
	}
	return &model.Budget{
		ID:            util.NewID(),
		MaxLimit:      *p.MaxLimit,
		ResetDuration: *p.ResetDuration,
		LastReset:     time.Now().UTC(),
	}, nil
}

// patchBudget merges present fields into an existing budget.
func patchBudget(b *model.Budget, p *budgetPayload) error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.MaxLimit != nil {
		b.MaxLimit = *p.MaxLimit
	}
	if p.ResetDuration != nil {
		b.ResetDuration = *p.ResetDuration
	}
	return nil
}

// rateLimitPayload is the nested rate-limit object. Either pair may be set;
// a pair's limit and duration travel together on creation.
type rateLimitPayload struct {
	TokenMaxLimit        *int64  `json:"token_max_limit"`
	TokenResetDuration   *string `json:"token_reset_duration"`
	RequestMaxLimit      *int64  `json:"request_max_limit"`
	RequestResetDuration *string `json:"request_reset_duration"`
}

func (p *rateLimitPayload) validate() error {
	if p.TokenMaxLimit != nil && *p.TokenMaxLimit < 0 {
		return model.Invalidf("token_max_limit must be non-negative")
	}
	if p.RequestMaxLimit != nil && *p.RequestMaxLimit < 0 {
		return model.Invalidf("request_max_limit must be non-negative")
	}
	for _, d := range []*string{p.TokenResetDuration, p.RequestResetDuration} {
		if d != nil {
			if _, err := model.ParseResetDuration(*d); err != nil {
				return model.Invalidf("invalid reset_duration: %v", err)
			}
		}
	}
	return nil
}

func newRateLimit(p *rateLimitPayload) (*model.RateLimit, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.TokenMaxLimit == nil && p.RequestMaxLimit == nil {
		return nil, model.Invalidf("rate_limit requires at least one of token_max_limit or request_max_limit")
	}
	if (p.TokenMaxLimit == nil) != (p.TokenResetDuration == nil) {
		return nil, model.Invalidf("token_max_limit and token_reset_duration must be set together")
	}
	if (p.RequestMaxLimit == nil) != (p.RequestResetDuration == nil) {
		return nil, model.Invalidf("request_max_limit and request_reset_duration must be set together")
	}
	ts := time.Now().UTC()
	return &model.RateLimit{
		ID:                   util.NewID(),
		TokenMaxLimit:        p.TokenMaxLimit,
		TokenResetDuration:   p.TokenResetDuration,
		TokenLastReset:       ts,
		RequestMaxLimit:      p.RequestMaxLimit,
		RequestResetDuration: p.RequestResetDuration,
		RequestLastReset:     ts,
	}, nil
}

// patchRateLimit merges present fields, rejecting a merge that would leave a
// limit without its reset duration (or the reverse). The target is untouched
// on error.
func patchRateLimit(rl *model.RateLimit, p *rateLimitPayload) error {
	if err := p.validate(); err != nil {
		return err
	}
	merged := *rl
	if p.TokenMaxLimit != nil {
		merged.TokenMaxLimit = p.TokenMaxLimit
	}
	if p.TokenResetDuration != nil {
		merged.TokenResetDuration = p.TokenResetDuration
	}
	if p.RequestMaxLimit != nil {
		merged.RequestMaxLimit = p.RequestMaxLimit
	}
	if p.RequestResetDuration != nil {
		merged.RequestResetDuration = p.RequestResetDuration
	}
	if (merged.TokenMaxLimit == nil) != (merged.TokenResetDuration == nil) {
		return model.Invalidf("token_max_limit and token_reset_duration must be set together")
	}
	if (merged.RequestMaxLimit == nil) != (merged.RequestResetDuration == nil) {
		return model.Invalidf("request_max_limit and request_reset_duration must be set together")
	}
	*rl = merged
	return nil
}
