package governance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/llmops/govern/internal/logger"
	"github.com/llmops/govern/internal/metrics"
	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/repository"
	"github.com/llmops/govern/internal/util"
)

// Publisher pushes usage events to the stream. Satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Tracker records completed requests and maintains counter hygiene: the
// aggregate rows, the prometheus counters, the event stream and archive, and
// the background sweep that resets elapsed budget and rate-limit windows.
//
// Publisher and archive may be nil; tracking then stays local to MySQL.
type Tracker struct {
	usage       repository.UsageRepository
	virtualKeys repository.VirtualKeysRepository
	budgets     repository.BudgetsRepository
	rateLimits  repository.RateLimitsRepository
	archive     repository.CHUsageRepository
	publisher   Publisher

	sweepInterval time.Duration
}

func NewTracker(
	usage repository.UsageRepository,
	virtualKeys repository.VirtualKeysRepository,
	budgets repository.BudgetsRepository,
	rateLimits repository.RateLimitsRepository,
	archive repository.CHUsageRepository,
	publisher Publisher,
	sweepInterval time.Duration,
) *Tracker {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Tracker{
		usage:         usage,
		virtualKeys:   virtualKeys,
		budgets:       budgets,
		rateLimits:    rateLimits,
		archive:       archive,
		publisher:     publisher,
		sweepInterval: sweepInterval,
	}
}

// Record folds one completed request into the aggregates and fans the event
// out to the stream and archive. The fan-out is asynchronous and best-effort;
// only the aggregate write can fail the call.
func (t *Tracker) Record(ctx context.Context, vkID, provider, mdl string, tokens, cost int64, success bool) error {
	if err := t.usage.Record(ctx, nil, vkID, provider, mdl, tokens, cost); err != nil {
		return err
	}

	metrics.UsageTokensTotal.WithLabelValues(provider).Add(float64(tokens))
	metrics.UsageCostTotal.WithLabelValues(provider).Add(float64(cost))

	if t.publisher == nil && t.archive == nil {
		return nil
	}

	ev := model.UsageEvent{
		ID:           util.NewID(),
		VirtualKeyID: vkID,
		Provider:     provider,
		Model:        mdl,
		Tokens:       tokens,
		Cost:         cost,
		Success:      success,
		CreatedAt:    time.Now().UTC(),
	}
	go t.fanOut(ev)
	return nil
}

func (t *Tracker) fanOut(ev model.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, ev.VirtualKeyID, ev); err != nil {
			logger.L().Warn("usage event publish failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	if t.archive != nil {
		if err := t.archive.InsertEvent(ctx, &ev); err != nil {
			logger.L().Warn("usage event archive failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
}

// Stats returns the aggregates, optionally narrowed to one key.
func (t *Tracker) Stats(ctx context.Context, vkID string) ([]model.UsageCounter, error) {
	return t.usage.List(ctx, vkID)
}

// Reset zeroes the aggregates of one key, narrowed by provider and model when
// given. An unfiltered reset also zeroes the key's own budget and rate-limit
// counters. Unknown keys return model.ErrNotFound.
func (t *Tracker) Reset(ctx context.Context, vkID, provider, mdl string) error {
	vk, err := t.virtualKeys.Get(ctx, vkID)
	if err != nil {
		return err
	}

	if err := t.usage.Reset(ctx, nil, vkID, provider, mdl); err != nil {
		return err
	}

	if provider != "" || mdl != "" {
		return nil
	}

	now := time.Now().UTC()
	if vk.BudgetID != nil {
		b, err := t.budgets.Get(ctx, *vk.BudgetID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if b != nil {
			b.CurrentUsage = 0
			b.LastReset = now
			if err := t.budgets.SaveCounters(ctx, nil, b); err != nil {
				return err
			}
		}
	}
	if vk.RateLimitID != nil {
		rl, err := t.rateLimits.Get(ctx, *vk.RateLimitID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if rl != nil {
			rl.TokenCurrentUsage = 0
			rl.TokenLastReset = now
			rl.RequestCurrentUsage = 0
			rl.RequestLastReset = now
			if err := t.rateLimits.SaveCounters(ctx, nil, rl); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run sweeps expired windows until ctx is done: once at startup, then on
// every tick. Admission also resets on access, so the sweep only keeps idle
// counters from going stale between requests.
func (t *Tracker) Run(ctx context.Context) {
	t.sweep(ctx)

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep resets elapsed windows from an unlocked snapshot. Every write is
// guarded by the last-reset stamp from that snapshot, so a reset committed by
// a concurrent admission between the read and the write wins and its charged
// spend is never erased.
func (t *Tracker) sweep(ctx context.Context) {
	now := time.Now().UTC()

	budgets, err := t.budgets.All(ctx)
	if err != nil {
		logger.L().Warn("budget sweep failed", zap.Error(err))
	} else {
		for i := range budgets {
			b := &budgets[i]
			if !b.WindowExpired(now) {
				continue
			}
			if _, err := t.budgets.ResetWindow(ctx, b.ID, b.LastReset, now); err != nil {
				logger.L().Warn("budget reset failed", zap.String("budget_id", b.ID), zap.Error(err))
			}
		}
	}

	rateLimits, err := t.rateLimits.All(ctx)
	if err != nil {
		logger.L().Warn("rate limit sweep failed", zap.Error(err))
		return
	}
	for i := range rateLimits {
		rl := &rateLimits[i]
		if rl.TokenWindowExpired(now) {
			if _, err := t.rateLimits.ResetTokenWindow(ctx, rl.ID, rl.TokenLastReset, now); err != nil {
				logger.L().Warn("rate limit reset failed", zap.String("rate_limit_id", rl.ID), zap.Error(err))
			}
		}
		if rl.RequestWindowExpired(now) {
			if _, err := t.rateLimits.ResetRequestWindow(ctx, rl.ID, rl.RequestLastReset, now); err != nil {
				logger.L().Warn("rate limit reset failed", zap.String("rate_limit_id", rl.ID), zap.Error(err))
			}
		}
	}
}
