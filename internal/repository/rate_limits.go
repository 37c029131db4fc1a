package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/model"
)

// RateLimitsRepository persists rate-limit rows (owned 1:1 by virtual keys).
type RateLimitsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, rl *model.RateLimit) error
	Get(ctx context.Context, id string) (*model.RateLimit, error)
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.RateLimit, error)
	// Update writes the configuration columns only; counters move through
	// SaveCounters and the guarded window resets.
	Update(ctx context.Context, tx *sqlx.Tx, rl *model.RateLimit) error
	// SaveCounters writes only the usage counters and last-reset stamps.
	SaveCounters(ctx context.Context, tx *sqlx.Tx, rl *model.RateLimit) error
	// ResetTokenWindow and ResetRequestWindow zero one counter pair, guarded
	// by the last-reset stamp the caller observed.
	ResetTokenWindow(ctx context.Context, id string, seenLastReset, now time.Time) (bool, error)
	ResetRequestWindow(ctx context.Context, id string, seenLastReset, now time.Time) (bool, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	All(ctx context.Context) ([]model.RateLimit, error)
}

type RateLimitsRepositoryImpl struct {
	db *sqlx.DB
}

func NewRateLimitsRepository(db *sqlx.DB) *RateLimitsRepositoryImpl {
	return &RateLimitsRepositoryImpl{db: db}
}

var _ RateLimitsRepository = (*RateLimitsRepositoryImpl)(nil)

const rateLimitColumns = `
	id,
	token_max_limit, token_reset_duration, token_current_usage, token_last_reset,
	request_max_limit, request_reset_duration, request_current_usage, request_last_reset,
	created_at, updated_at`

func (r *RateLimitsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, rl *model.RateLimit) error {
	const q = `
		INSERT INTO rate_limits
		    (id,
		     token_max_limit, token_reset_duration, token_current_usage, token_last_reset,
		     request_max_limit, request_reset_duration, request_current_usage, request_last_reset,
		     created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			rl.ID,
			rl.TokenMaxLimit, rl.TokenResetDuration, rl.TokenCurrentUsage, rl.TokenLastReset,
			rl.RequestMaxLimit, rl.RequestResetDuration, rl.RequestCurrentUsage, rl.RequestLastReset,
		)
		return err
	})
}

func (r *RateLimitsRepositoryImpl) Get(ctx context.Context, id string) (*model.RateLimit, error) {
	var rl model.RateLimit
	err := r.db.GetContext(ctx, &rl, `SELECT `+rateLimitColumns+` FROM rate_limits WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rl, nil
}

func (r *RateLimitsRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.RateLimit, error) {
	var rl model.RateLimit
	err := tx.GetContext(ctx, &rl, `SELECT `+rateLimitColumns+` FROM rate_limits WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rl, nil
}

func (r *RateLimitsRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, rl *model.RateLimit) error {
	const q = `
		UPDATE rate_limits
		SET token_max_limit = ?, token_reset_duration = ?,
		    request_max_limit = ?, request_reset_duration = ?,
		    updated_at = NOW()
		WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			rl.TokenMaxLimit, rl.TokenResetDuration,
			rl.RequestMaxLimit, rl.RequestResetDuration,
			rl.ID,
		)
		return err
	})
}

func (r *RateLimitsRepositoryImpl) SaveCounters(ctx context.Context, tx *sqlx.Tx, rl *model.RateLimit) error {
	const q = `
		UPDATE rate_limits
		SET token_current_usage = ?, token_last_reset = ?,
		    request_current_usage = ?, request_last_reset = ?,
		    updated_at = NOW()
		WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			rl.TokenCurrentUsage, rl.TokenLastReset,
			rl.RequestCurrentUsage, rl.RequestLastReset,
			rl.ID,
		)
		return err
	})
}

func (r *RateLimitsRepositoryImpl) ResetTokenWindow(ctx context.Context, id string, seenLastReset, now time.Time) (bool, error) {
	const q = `
		UPDATE rate_limits
		SET token_current_usage = 0, token_last_reset = ?, updated_at = NOW()
		WHERE id = ? AND token_last_reset = ?
	`
	return r.guardedReset(ctx, q, id, seenLastReset, now)
}

func (r *RateLimitsRepositoryImpl) ResetRequestWindow(ctx context.Context, id string, seenLastReset, now time.Time) (bool, error) {
	const q = `
		UPDATE rate_limits
		SET request_current_usage = 0, request_last_reset = ?, updated_at = NOW()
		WHERE id = ? AND request_last_reset = ?
	`
	return r.guardedReset(ctx, q, id, seenLastReset, now)
}

func (r *RateLimitsRepositoryImpl) guardedReset(ctx context.Context, q, id string, seenLastReset, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, now, id, seenLastReset)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RateLimitsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM rate_limits WHERE id = ?`, id)
		return err
	})
}

func (r *RateLimitsRepositoryImpl) All(ctx context.Context) ([]model.RateLimit, error) {
	var out []model.RateLimit
	if err := r.db.SelectContext(ctx, &out, `SELECT `+rateLimitColumns+` FROM rate_limits ORDER BY created_at`); err != nil {
		return nil, err
	}
	return out, nil
}
