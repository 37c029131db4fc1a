package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/model"
)

// UsageRepository maintains the per-key/provider/model aggregates that back
// usage stats and the debug counters.
type UsageRepository interface {
	// Record folds one completed request into the aggregate row.
	Record(ctx context.Context, tx *sqlx.Tx, vkID, provider, mdl string, tokens, cost int64) error
	List(ctx context.Context, vkID string) ([]model.UsageCounter, error)
	// Reset zeroes aggregates for one key, narrowed by provider and model
	// when those are non-empty.
	Reset(ctx context.Context, tx *sqlx.Tx, vkID, provider, mdl string) error
	Count(ctx context.Context) (int64, error)
}

type UsageRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsageRepository(db *sqlx.DB) *UsageRepositoryImpl {
	return &UsageRepositoryImpl{db: db}
}

var _ UsageRepository = (*UsageRepositoryImpl)(nil)

func (r *UsageRepositoryImpl) Record(ctx context.Context, tx *sqlx.Tx, vkID, provider, mdl string, tokens, cost int64) error {
	const q = `
		INSERT INTO usage_counters (virtual_key_id, provider, model, requests, tokens, cost, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
		    requests = requests + 1,
		    tokens = tokens + VALUES(tokens),
		    cost = cost + VALUES(cost),
		    updated_at = NOW()
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, vkID, provider, mdl, tokens, cost)
		return err
	})
}

func (r *UsageRepositoryImpl) List(ctx context.Context, vkID string) ([]model.UsageCounter, error) {
	q := `SELECT virtual_key_id, provider, model, requests, tokens, cost, updated_at FROM usage_counters`
	args := []any{}
	if vkID != "" {
		q += ` WHERE virtual_key_id = ?`
		args = append(args, vkID)
	}
	q += ` ORDER BY virtual_key_id, provider, model`

	out := []model.UsageCounter{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UsageRepositoryImpl) Reset(ctx context.Context, tx *sqlx.Tx, vkID, provider, mdl string) error {
	q := `UPDATE usage_counters SET requests = 0, tokens = 0, cost = 0, updated_at = NOW() WHERE virtual_key_id = ?`
	args := []any{vkID}
	if provider != "" {
		q += ` AND provider = ?`
		args = append(args, provider)
	}
	if mdl != "" {
		q += ` AND model = ?`
		args = append(args, mdl)
	}
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

func (r *UsageRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM usage_counters`)
	return n, err
}
