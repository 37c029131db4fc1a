package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/model"
)

// CustomersRepository persists the top tier of the hierarchy. Reads preload
// exactly one hop: the owned budget and the customer's teams (teams come
// without their own relations).
type CustomersRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, c *model.Customer) error
	Get(ctx context.Context, id string) (*model.Customer, error)
	List(ctx context.Context) ([]model.Customer, error)
	Update(ctx context.Context, tx *sqlx.Tx, c *model.Customer) error
	Touch(ctx context.Context, tx *sqlx.Tx, id string) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	Count(ctx context.Context) (int64, error)
}

type CustomersRepositoryImpl struct {
	db *sqlx.DB
}

func NewCustomersRepository(db *sqlx.DB) *CustomersRepositoryImpl {
	return &CustomersRepositoryImpl{db: db}
}

var _ CustomersRepository = (*CustomersRepositoryImpl)(nil)

const customerColumns = `id, name, budget_id, created_at, updated_at`

func (r *CustomersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, c *model.Customer) error {
	const q = `
		INSERT INTO customers (id, name, budget_id, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, c.ID, c.Name, c.BudgetID)
		return err
	})
}

func (r *CustomersRepositoryImpl) Get(ctx context.Context, id string) (*model.Customer, error) {
	var c model.Customer
	err := r.db.GetContext(ctx, &c, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.preload(ctx, []*model.Customer{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CustomersRepositoryImpl) List(ctx context.Context) ([]model.Customer, error) {
	var rows []model.Customer
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+customerColumns+` FROM customers ORDER BY created_at`); err != nil {
		return nil, err
	}
	ptrs := make([]*model.Customer, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := r.preload(ctx, ptrs); err != nil {
		return nil, err
	}
	return rows, nil
}

// preload attaches budgets and team lists to the given customers.
func (r *CustomersRepositoryImpl) preload(ctx context.Context, customers []*model.Customer) error {
	if len(customers) == 0 {
		return nil
	}

	budgetIDs := make([]string, 0, len(customers))
	customerIDs := make([]string, 0, len(customers))
	for _, c := range customers {
		customerIDs = append(customerIDs, c.ID)
		if c.BudgetID != nil {
			budgetIDs = append(budgetIDs, *c.BudgetID)
		}
	}

	budgets, err := budgetsByID(ctx, r.db, budgetIDs)
	if err != nil {
		return err
	}

	var teams []model.Team
	q, args, err := sqlx.In(`SELECT `+teamColumns+` FROM teams WHERE customer_id IN (?) ORDER BY created_at`, customerIDs)
	if err != nil {
		return err
	}
	if err := r.db.SelectContext(ctx, &teams, r.db.Rebind(q), args...); err != nil {
		return err
	}
	teamsByCustomer := make(map[string][]model.Team)
	for _, t := range teams {
		if t.CustomerID != nil {
			teamsByCustomer[*t.CustomerID] = append(teamsByCustomer[*t.CustomerID], t)
		}
	}

	for _, c := range customers {
		if c.BudgetID != nil {
			c.Budget = budgets[*c.BudgetID]
		}
		if ts, ok := teamsByCustomer[c.ID]; ok {
			c.Teams = ts
		} else {
			c.Teams = []model.Team{}
		}
	}
	return nil
}

func (r *CustomersRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, c *model.Customer) error {
	const q = `
		UPDATE customers SET name = ?, budget_id = ?, updated_at = NOW() WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, c.Name, c.BudgetID, c.ID)
		return err
	})
}

func (r *CustomersRepositoryImpl) Touch(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE customers SET updated_at = NOW() WHERE id = ?`, id)
		return err
	})
}

func (r *CustomersRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
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

func (r *CustomersRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM customers`)
	return n, err
}

// budgetsByID loads a set of budgets keyed by id. Shared by the preloaders.
func budgetsByID(ctx context.Context, db *sqlx.DB, ids []string) (map[string]*model.Budget, error) {
	out := make(map[string]*model.Budget, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT `+budgetColumns+` FROM budgets WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []model.Budget
	if err := db.SelectContext(ctx, &rows, db.Rebind(q), args...); err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}
