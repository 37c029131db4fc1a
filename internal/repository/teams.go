package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/model"
)

// TeamsRepository persists the middle tier. Reads preload the owned budget
// and the owning customer (the customer comes without its nested teams).
type TeamsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, t *model.Team) error
	Get(ctx context.Context, id string) (*model.Team, error)
	// List returns all teams, or only those of one customer when
	// customerID is non-empty.
	List(ctx context.Context, customerID string) ([]model.Team, error)
	Update(ctx context.Context, tx *sqlx.Tx, t *model.Team) error
	Touch(ctx context.Context, tx *sqlx.Tx, id string) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	Count(ctx context.Context) (int64, error)
}

type TeamsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTeamsRepository(db *sqlx.DB) *TeamsRepositoryImpl {
	return &TeamsRepositoryImpl{db: db}
}

var _ TeamsRepository = (*TeamsRepositoryImpl)(nil)

const teamColumns = `id, name, customer_id, budget_id, created_at, updated_at`

func (r *TeamsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, t *model.Team) error {
	const q = `
		INSERT INTO teams (id, name, customer_id, budget_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, t.ID, t.Name, t.CustomerID, t.BudgetID)
		return err
	})
}

func (r *TeamsRepositoryImpl) Get(ctx context.Context, id string) (*model.Team, error) {
	var t model.Team
	err := r.db.GetContext(ctx, &t, `SELECT `+teamColumns+` FROM teams WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.preload(ctx, []*model.Team{&t}); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TeamsRepositoryImpl) List(ctx context.Context, customerID string) ([]model.Team, error) {
	q := `SELECT ` + teamColumns + ` FROM teams`
	args := []any{}
	if customerID != "" {
		q += ` WHERE customer_id = ?`
		args = append(args, customerID)
	}
	q += ` ORDER BY created_at`

	var rows []model.Team
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	ptrs := make([]*model.Team, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := r.preload(ctx, ptrs); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *TeamsRepositoryImpl) preload(ctx context.Context, teams []*model.Team) error {
	if len(teams) == 0 {
		return nil
	}

	budgetIDs := make([]string, 0, len(teams))
	customerIDs := make([]string, 0, len(teams))
	for _, t := range teams {
		if t.BudgetID != nil {
			budgetIDs = append(budgetIDs, *t.BudgetID)
		}
		if t.CustomerID != nil {
			customerIDs = append(customerIDs, *t.CustomerID)
		}
	}

	budgets, err := budgetsByID(ctx, r.db, budgetIDs)
	if err != nil {
		return err
	}

	customers := make(map[string]*model.Customer)
	if len(customerIDs) > 0 {
		q, args, err := sqlx.In(`SELECT `+customerColumns+` FROM customers WHERE id IN (?)`, customerIDs)
		if err != nil {
			return err
		}
		var rows []model.Customer
		if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
			return err
		}
		for i := range rows {
			customers[rows[i].ID] = &rows[i]
		}
	}

	for _, t := range teams {
		if t.BudgetID != nil {
			t.Budget = budgets[*t.BudgetID]
		}
		if t.CustomerID != nil {
			t.Customer = customers[*t.CustomerID]
		}
	}
	return nil
}

func (r *TeamsRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, t *model.Team) error {
	const q = `
		UPDATE teams SET name = ?, customer_id = ?, budget_id = ?, updated_at = NOW() WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, t.Name, t.CustomerID, t.BudgetID, t.ID)
		return err
	})
}

func (r *TeamsRepositoryImpl) Touch(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE teams SET updated_at = NOW() WHERE id = ?`, id)
		return err
	})
}

func (r *TeamsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}

func (r *TeamsRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM teams`)
	return n, err
}
