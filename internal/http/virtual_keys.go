package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"

	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/util"
)

type createVirtualKeyReq struct {
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	AllowedModels    []string          `json:"allowed_models"`
	AllowedProviders []string          `json:"allowed_providers"`
	TeamID           *string           `json:"team_id"`
	CustomerID       *string           `json:"customer_id"`
	Budget           *budgetPayload    `json:"budget"`
	RateLimit        *rateLimitPayload `json:"rate_limit"`
	IsActive         *bool             `json:"is_active"`
}

type updateVirtualKeyReq struct {
	Description      *string           `json:"description"`
	AllowedModels    []string          `json:"allowed_models"`
	AllowedProviders []string          `json:"allowed_providers"`
	TeamID           *string           `json:"team_id"`
	CustomerID       *string           `json:"customer_id"`
	Budget           *budgetPayload    `json:"budget"`
	RateLimit        *rateLimitPayload `json:"rate_limit"`
	IsActive         *bool             `json:"is_active"`
}

func (r *updateVirtualKeyReq) empty() bool {
	return r.Description == nil && r.AllowedModels == nil && r.AllowedProviders == nil &&
		r.TeamID == nil && r.CustomerID == nil && r.Budget == nil && r.RateLimit == nil &&
		r.IsActive == nil
}

func (a *API) listVirtualKeys(c echo.Context) error {
	keys, err := a.virtualKeys.List(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"virtual_keys": keys, "count": len(keys)})
}

func (a *API) createVirtualKey(c echo.Context) error {
	var req createVirtualKeyReq
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return errJSON(c, http.StatusBadRequest, "name is required")
	}
	if req.TeamID != nil && req.CustomerID != nil {
		return errJSON(c, http.StatusBadRequest, "team_id and customer_id are mutually exclusive")
	}

	ctx := c.Request().Context()
	if req.TeamID != nil {
		if _, err := a.teams.Get(ctx, *req.TeamID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return errJSON(c, http.StatusBadRequest, "unknown team_id")
			}
			return fail(c, err)
		}
	}
	if req.CustomerID != nil {
		if _, err := a.customers.Get(ctx, *req.CustomerID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return errJSON(c, http.StatusBadRequest, "unknown customer_id")
			}
			return fail(c, err)
		}
	}

	vk := &model.VirtualKey{
		ID:               util.NewID(),
		Name:             req.Name,
		Value:            util.NewSecret(),
		Description:      req.Description,
		IsActive:         true,
		AllowedModels:    req.AllowedModels,
		AllowedProviders: req.AllowedProviders,
		TeamID:           req.TeamID,
		CustomerID:       req.CustomerID,
	}
	if req.IsActive != nil {
		vk.IsActive = *req.IsActive
	}

	var budget *model.Budget
	if req.Budget != nil {
		b, err := newBudget(req.Budget)
		if err != nil {
			return fail(c, err)
		}
		budget = b
		vk.BudgetID = &b.ID
	}
	var rateLimit *model.RateLimit
	if req.RateLimit != nil {
		rl, err := newRateLimit(req.RateLimit)
		if err != nil {
			return fail(c, err)
		}
		rateLimit = rl
		vk.RateLimitID = &rl.ID
	}

	err := withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if budget != nil {
			if err := a.budgets.Insert(ctx, tx, budget); err != nil {
				return err
			}
		}
		if rateLimit != nil {
			if err := a.rateLimits.Insert(ctx, tx, rateLimit); err != nil {
				return err
			}
		}
		err := a.virtualKeys.Insert(ctx, tx, vk)
		if errors.Is(err, model.ErrDuplicate) {
			// secret collided with an existing key: mint a new one and retry once
			vk.Value = util.NewSecret()
			err = a.virtualKeys.Insert(ctx, tx, vk)
		}
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	out, err := a.virtualKeys.Get(ctx, vk.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"virtual_key": out})
}

func (a *API) getVirtualKey(c echo.Context) error {
	vk, err := a.virtualKeys.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"virtual_key": vk})
}

func (a *API) updateVirtualKey(c echo.Context) error {
	ctx := c.Request().Context()
	vk, err := a.virtualKeys.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	var req updateVirtualKeyReq
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed body")
	}
	if req.TeamID != nil && req.CustomerID != nil {
		return errJSON(c, http.StatusBadRequest, "team_id and customer_id are mutually exclusive")
	}

	if req.empty() {
		if err := a.virtualKeys.Touch(ctx, nil, vk.ID); err != nil {
			return fail(c, err)
		}
		a.cache.Invalidate(ctx, vk.Value)
		return a.getVirtualKey(c)
	}

	if req.Description != nil {
		vk.Description = *req.Description
	}
	if req.AllowedModels != nil {
		vk.AllowedModels = req.AllowedModels
	}
	if req.AllowedProviders != nil {
		vk.AllowedProviders = req.AllowedProviders
	}
	if req.IsActive != nil {
		vk.IsActive = *req.IsActive
	}

	// Switching association type clears the other side.
	if req.TeamID != nil {
		if *req.TeamID == "" {
			vk.TeamID = nil
		} else {
			if _, err := a.teams.Get(ctx, *req.TeamID); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return errJSON(c, http.StatusBadRequest, "unknown team_id")
				}
				return fail(c, err)
			}
			vk.TeamID = req.TeamID
		}
		vk.CustomerID = nil
	}
	if req.CustomerID != nil {
		if *req.CustomerID == "" {
			vk.CustomerID = nil
		} else {
			if _, err := a.customers.Get(ctx, *req.CustomerID); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return errJSON(c, http.StatusBadRequest, "unknown customer_id")
				}
				return fail(c, err)
			}
			vk.CustomerID = req.CustomerID
		}
		vk.TeamID = nil
	}

	err = withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if req.Budget != nil {
			if err := a.upsertOwnedBudget(ctx, tx, &vk.BudgetID, req.Budget); err != nil {
				return err
			}
		}
		if req.RateLimit != nil {
			if err := a.upsertOwnedRateLimit(ctx, tx, &vk.RateLimitID, req.RateLimit); err != nil {
				return err
			}
		}
		return a.virtualKeys.Update(ctx, tx, vk)
	})
	if err != nil {
		return fail(c, err)
	}

	a.cache.Invalidate(ctx, vk.Value)
	return a.getVirtualKey(c)
}

func (a *API) deleteVirtualKey(c echo.Context) error {
	ctx := c.Request().Context()
	vk, err := a.virtualKeys.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	err = withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if err := a.virtualKeys.Delete(ctx, tx, vk.ID); err != nil {
			return err
		}
		if vk.BudgetID != nil {
			if err := a.budgets.Delete(ctx, tx, *vk.BudgetID); err != nil {
				return err
			}
		}
		if vk.RateLimitID != nil {
			return a.rateLimits.Delete(ctx, tx, *vk.RateLimitID)
		}
		return nil
	})
	if err != nil {
		return fail(c, err)
	}

	a.cache.Invalidate(ctx, vk.Value)
	return c.JSON(http.StatusOK, map[string]any{"deleted": true, "id": vk.ID})
}

// upsertOwnedRateLimit mirrors upsertOwnedBudget for the rate-limit object.
func (a *API) upsertOwnedRateLimit(ctx context.Context, tx *sqlx.Tx, rateLimitID **string, p *rateLimitPayload) error {
	if *rateLimitID != nil {
		rl, err := a.rateLimits.GetForUpdate(ctx, tx, **rateLimitID)
		if err != nil {
			return err
		}
		if err := patchRateLimit(rl, p); err != nil {
			return err
		}
		return a.rateLimits.Update(ctx, tx, rl)
	}
	rl, err := newRateLimit(p)
	if err != nil {
		return err
	}
	if err := a.rateLimits.Insert(ctx, tx, rl); err != nil {
		return err
	}
	*rateLimitID = &rl.ID
	return nil
}
