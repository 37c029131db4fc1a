package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"

	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/util"
)

type createCustomerReq struct {
	Name   string         `json:"name"`
	Budget *budgetPayload `json:"budget"`
}

type updateCustomerReq struct {
	Name   *string        `json:"name"`
	Budget *budgetPayload `json:"budget"`
}

func (a *API) listCustomers(c echo.Context) error {
	customers, err := a.customers.List(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"customers": customers, "count": len(customers)})
}

func (a *API) createCustomer(c echo.Context) error {
	var req createCustomerReq
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return errJSON(c, http.StatusBadRequest, "name is required")
	}

	cust := &model.Customer{ID: util.NewID(), Name: req.Name}

	var budget *model.Budget
	if req.Budget != nil {
		b, err := newBudget(req.Budget)
		if err != nil {
			return fail(c, err)
		}
		budget = b
		cust.BudgetID = &b.ID
	}

	ctx := c.Request().Context()
	err := withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if budget != nil {
			if err := a.budgets.Insert(ctx, tx, budget); err != nil {
				return err
			}
		}
		return a.customers.Insert(ctx, tx, cust)
	})
	if err != nil {
		return fail(c, err)
	}

	out, err := a.customers.Get(ctx, cust.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"customer": out})
}

func (a *API) getCustomer(c echo.Context) error {
	cust, err := a.customers.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"customer": cust})
}

func (a *API) updateCustomer(c echo.Context) error {
	ctx := c.Request().Context()
	cust, err := a.customers.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	var req updateCustomerReq
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed body")
	}

	if req.Name == nil && req.Budget == nil {
		if err := a.customers.Touch(ctx, nil, cust.ID); err != nil {
			return fail(c, err)
		}
		return a.getCustomer(c)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return errJSON(c, http.StatusBadRequest, "name must not be empty")
		}
		cust.Name = name
	}

	err = withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if req.Budget != nil {
			if err := a.upsertOwnedBudget(ctx, tx, &cust.BudgetID, req.Budget); err != nil {
				return err
			}
		}
		return a.customers.Update(ctx, tx, cust)
	})
	if err != nil {
		return fail(c, err)
	}
	return a.getCustomer(c)
}

func (a *API) deleteCustomer(c echo.Context) error {
	ctx := c.Request().Context()
	cust, err := a.customers.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	err = withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if err := a.customers.Delete(ctx, tx, cust.ID); err != nil {
			return err
		}
		if cust.BudgetID != nil {
			return a.budgets.Delete(ctx, tx, *cust.BudgetID)
		}
		return nil
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true, "id": cust.ID})
}

// upsertOwnedBudget applies a nested budget payload to an owner: merge into
// the existing budget, or create one and backfill the owner's reference.
func (a *API) upsertOwnedBudget(ctx context.Context, tx *sqlx.Tx, budgetID **string, p *budgetPayload) error {
	if *budgetID != nil {
		// lock the row so the patch serializes with admission
		b, err := a.budgets.GetForUpdate(ctx, tx, **budgetID)
		if err != nil {
			return err
		}
		if err := patchBudget(b, p); err != nil {
			return err
		}
		return a.budgets.Update(ctx, tx, b)
	}
	b, err := newBudget(p)
	if err != nil {
		return err
	}
	if err := a.budgets.Insert(ctx, tx, b); err != nil {
		return err
	}
	*budgetID = &b.ID
	return nil
}
