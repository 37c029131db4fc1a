package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/model"
)

// BudgetsRepository persists budget rows. Counter mutations always run inside
// a caller-owned transaction so admission stays all-or-nothing.
type BudgetsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, b *model.Budget) error
	Get(ctx context.Context, id string) (*model.Budget, error)
	// GetForUpdate locks the row until the transaction ends. Admission locks
	// budgets in scope order to serialize concurrent spend.
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Budget, error)
	// Update writes the configuration columns only; counters move through
	// SaveCounters and ResetWindow, so a management edit cannot clobber
	// concurrently committed spend.
	Update(ctx context.Context, tx *sqlx.Tx, b *model.Budget) error
	// SaveCounters writes only current_usage and last_reset.
	SaveCounters(ctx context.Context, tx *sqlx.Tx, b *model.Budget) error
	// ResetWindow zeroes the counters, guarded by the last-reset stamp the
	// caller observed: when a concurrent admission already reset the window,
	// the guard misses and the committed spend survives.
	ResetWindow(ctx context.Context, id string, seenLastReset, now time.Time) (bool, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	// All returns every budget row, for the background reset sweep and
	// debug counters.
	All(ctx context.Context) ([]model.Budget, error)
}

type BudgetsRepositoryImpl struct {
	db *sqlx.DB
}

func NewBudgetsRepository(db *sqlx.DB) *BudgetsRepositoryImpl {
	return &BudgetsRepositoryImpl{db: db}
}

var _ BudgetsRepository = (*BudgetsRepositoryImpl)(nil)

const budgetColumns = `id, max_limit, reset_duration, current_usage, last_reset, created_at, updated_at`

func (r *BudgetsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, b *model.Budget) error {
	const q = `
		INSERT INTO budgets (id, max_limit, reset_duration, current_usage, last_reset, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, b.ID, b.MaxLimit, b.ResetDuration, b.CurrentUsage, b.LastReset)
		return err
	})
}

func (r *BudgetsRepositoryImpl) Get(ctx context.Context, id string) (*model.Budget, error) {
	var b model.Budget
	err := r.db.GetContext(ctx, &b, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BudgetsRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Budget, error) {
	var b model.Budget
	err := tx.GetContext(ctx, &b, `SELECT `+budgetColumns+` FROM budgets WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BudgetsRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, b *model.Budget) error {
	const q = `
		UPDATE budgets
		SET max_limit = ?, reset_duration = ?, updated_at = NOW()
		WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, b.MaxLimit, b.ResetDuration, b.ID)
		return err
	})
}

func (r *BudgetsRepositoryImpl) SaveCounters(ctx context.Context, tx *sqlx.Tx, b *model.Budget) error {
	const q = `
		UPDATE budgets
		SET current_usage = ?, last_reset = ?, updated_at = NOW()
		WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, b.CurrentUsage, b.LastReset, b.ID)
		return err
	})
}

func (r *BudgetsRepositoryImpl) ResetWindow(ctx context.Context, id string, seenLastReset, now time.Time) (bool, error) {
	const q = `
		UPDATE budgets
		SET current_usage = 0, last_reset = ?, updated_at = NOW()
		WHERE id = ? AND last_reset = ?
	`
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

func (r *BudgetsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
		return err
	})
}

func (r *BudgetsRepositoryImpl) All(ctx context.Context) ([]model.Budget, error) {
	var out []model.Budget
	if err := r.db.SelectContext(ctx, &out, `SELECT `+budgetColumns+` FROM budgets ORDER BY created_at`); err != nil {
		return nil, err
	}
	return out, nil
}
