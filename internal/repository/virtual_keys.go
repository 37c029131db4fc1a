package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/model"
)

// VirtualKeysRepository persists credentials. GetByValue is the hot path: the
// gate resolves every governed request through it (fronted by the redis cache).
type VirtualKeysRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, vk *model.VirtualKey) error
	Get(ctx context.Context, id string) (*model.VirtualKey, error)
	GetByValue(ctx context.Context, value string) (*model.VirtualKey, error)
	List(ctx context.Context) ([]model.VirtualKey, error)
	Update(ctx context.Context, tx *sqlx.Tx, vk *model.VirtualKey) error
	Touch(ctx context.Context, tx *sqlx.Tx, id string) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	Count(ctx context.Context) (int64, error)
}

type VirtualKeysRepositoryImpl struct {
	db *sqlx.DB
}

func NewVirtualKeysRepository(db *sqlx.DB) *VirtualKeysRepositoryImpl {
	return &VirtualKeysRepositoryImpl{db: db}
}

var _ VirtualKeysRepository = (*VirtualKeysRepositoryImpl)(nil)

const virtualKeyColumns = `
	id, name, value, description, is_active,
	allowed_models, allowed_providers,
	team_id, customer_id, budget_id, rate_limit_id,
	created_at, updated_at`

func (r *VirtualKeysRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, vk *model.VirtualKey) error {
	const q = `
		INSERT INTO virtual_keys
		    (id, name, value, description, is_active,
		     allowed_models, allowed_providers,
		     team_id, customer_id, budget_id, rate_limit_id,
		     created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			vk.ID, vk.Name, vk.Value, vk.Description, vk.IsActive,
			vk.AllowedModels, vk.AllowedProviders,
			vk.TeamID, vk.CustomerID, vk.BudgetID, vk.RateLimitID,
		)
		if isDuplicateKey(err) {
			return model.ErrDuplicate
		}
		return err
	})
}

// isDuplicateKey reports MySQL error 1062 (unique constraint hit).
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func (r *VirtualKeysRepositoryImpl) Get(ctx context.Context, id string) (*model.VirtualKey, error) {
	return r.getWhere(ctx, `id = ?`, id)
}

func (r *VirtualKeysRepositoryImpl) GetByValue(ctx context.Context, value string) (*model.VirtualKey, error) {
	return r.getWhere(ctx, `value = ?`, value)
}

func (r *VirtualKeysRepositoryImpl) getWhere(ctx context.Context, cond string, arg any) (*model.VirtualKey, error) {
	var vk model.VirtualKey
	err := r.db.GetContext(ctx, &vk, `SELECT `+virtualKeyColumns+` FROM virtual_keys WHERE `+cond, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.preload(ctx, []*model.VirtualKey{&vk}); err != nil {
		return nil, err
	}
	return &vk, nil
}

func (r *VirtualKeysRepositoryImpl) List(ctx context.Context) ([]model.VirtualKey, error) {
	var rows []model.VirtualKey
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+virtualKeyColumns+` FROM virtual_keys ORDER BY created_at`); err != nil {
		return nil, err
	}
	ptrs := make([]*model.VirtualKey, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := r.preload(ctx, ptrs); err != nil {
		return nil, err
	}
	return rows, nil
}

// preload attaches one hop of relations: owned budget and rate limit plus the
// governing team or customer (without their own nested relations).
func (r *VirtualKeysRepositoryImpl) preload(ctx context.Context, keys []*model.VirtualKey) error {
	if len(keys) == 0 {
		return nil
	}

	var budgetIDs, rateLimitIDs, teamIDs, customerIDs []string
	for _, vk := range keys {
		if vk.BudgetID != nil {
			budgetIDs = append(budgetIDs, *vk.BudgetID)
		}
		if vk.RateLimitID != nil {
			rateLimitIDs = append(rateLimitIDs, *vk.RateLimitID)
		}
		if vk.TeamID != nil {
			teamIDs = append(teamIDs, *vk.TeamID)
		}
		if vk.CustomerID != nil {
			customerIDs = append(customerIDs, *vk.CustomerID)
		}
	}

	budgets, err := budgetsByID(ctx, r.db, budgetIDs)
	if err != nil {
		return err
	}

	rateLimits := make(map[string]*model.RateLimit)
	if len(rateLimitIDs) > 0 {
		q, args, err := sqlx.In(`SELECT `+rateLimitColumns+` FROM rate_limits WHERE id IN (?)`, rateLimitIDs)
		if err != nil {
			return err
		}
		var rows []model.RateLimit
		if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
			return err
		}
		for i := range rows {
			rateLimits[rows[i].ID] = &rows[i]
		}
	}

	teams := make(map[string]*model.Team)
	if len(teamIDs) > 0 {
		q, args, err := sqlx.In(`SELECT `+teamColumns+` FROM teams WHERE id IN (?)`, teamIDs)
		if err != nil {
			return err
		}
		var rows []model.Team
		if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
			return err
		}
		for i := range rows {
			teams[rows[i].ID] = &rows[i]
		}
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

	for _, vk := range keys {
		if vk.BudgetID != nil {
			vk.Budget = budgets[*vk.BudgetID]
		}
		if vk.RateLimitID != nil {
			vk.RateLimit = rateLimits[*vk.RateLimitID]
		}
		if vk.TeamID != nil {
			vk.Team = teams[*vk.TeamID]
		}
		if vk.CustomerID != nil {
			vk.Customer = customers[*vk.CustomerID]
		}
	}
	return nil
}

func (r *VirtualKeysRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, vk *model.VirtualKey) error {
	const q = `
		UPDATE virtual_keys
		SET name = ?, description = ?, is_active = ?,
		    allowed_models = ?, allowed_providers = ?,
		    team_id = ?, customer_id = ?, budget_id = ?, rate_limit_id = ?,
		    updated_at = NOW()
		WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			vk.Name, vk.Description, vk.IsActive,
			vk.AllowedModels, vk.AllowedProviders,
			vk.TeamID, vk.CustomerID, vk.BudgetID, vk.RateLimitID,
			vk.ID,
		)
		return err
	})
}

func (r *VirtualKeysRepositoryImpl) Touch(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE virtual_keys SET updated_at = NOW() WHERE id = ?`, id)
		return err
	})
}

func (r *VirtualKeysRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM virtual_keys WHERE id = ?`, id)
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

func (r *VirtualKeysRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM virtual_keys`)
	return n, err
}
