package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"

	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/util"
)

type createTeamReq struct {
	Name       string         `json:"name"`
	CustomerID *string        `json:"customer_id"`
	Budget     *budgetPayload `json:"budget"`
}

type updateTeamReq struct {
	Name       *string        `json:"name"`
	CustomerID *string        `json:"customer_id"`
	Budget     *budgetPayload `json:"budget"`
}

func (a *API) listTeams(c echo.Context) error {
	teams, err := a.teams.List(c.Request().Context(), c.QueryParam("customer_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"teams": teams, "count": len(teams)})
}

func (a *API) createTeam(c echo.Context) error {
	var req createTeamReq
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return errJSON(c, http.StatusBadRequest, "name is required")
	}

	ctx := c.Request().Context()
	if req.CustomerID != nil {
		if _, err := a.customers.Get(ctx, *req.CustomerID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return errJSON(c, http.StatusBadRequest, "unknown customer_id")
			}
			return fail(c, err)
		}
	}

	team := &model.Team{ID: util.NewID(), Name: req.Name, CustomerID: req.CustomerID}

	var budget *model.Budget
	if req.Budget != nil {
		b, err := newBudget(req.Budget)
		if err != nil {
			return fail(c, err)
		}
		budget = b
		team.BudgetID = &b.ID
	}

	err := withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if budget != nil {
			if err := a.budgets.Insert(ctx, tx, budget); err != nil {
				return err
			}
		}
		return a.teams.Insert(ctx, tx, team)
	})
	if err != nil {
		return fail(c, err)
	}

	out, err := a.teams.Get(ctx, team.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"team": out})
}

func (a *API) getTeam(c echo.Context) error {
	team, err := a.teams.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"team": team})
}

func (a *API) updateTeam(c echo.Context) error {
	ctx := c.Request().Context()
	team, err := a.teams.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	var req updateTeamReq
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed body")
	}

	if req.Name == nil && req.CustomerID == nil && req.Budget == nil {
		if err := a.teams.Touch(ctx, nil, team.ID); err != nil {
			return fail(c, err)
		}
		return a.getTeam(c)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return errJSON(c, http.StatusBadRequest, "name must not be empty")
		}
		team.Name = name
	}
	if req.CustomerID != nil {
		if *req.CustomerID == "" {
			team.CustomerID = nil
		} else {
			if _, err := a.customers.Get(ctx, *req.CustomerID); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return errJSON(c, http.StatusBadRequest, "unknown customer_id")
				}
				return fail(c, err)
			}
			team.CustomerID = req.CustomerID
		}
	}

	err = withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if req.Budget != nil {
			if err := a.upsertOwnedBudget(ctx, tx, &team.BudgetID, req.Budget); err != nil {
				return err
			}
		}
		return a.teams.Update(ctx, tx, team)
	})
	if err != nil {
		return fail(c, err)
	}
	return a.getTeam(c)
}

func (a *API) deleteTeam(c echo.Context) error {
	ctx := c.Request().Context()
	team, err := a.teams.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	err = withServerTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if err := a.teams.Delete(ctx, tx, team.ID); err != nil {
			return err
		}
		if team.BudgetID != nil {
			return a.budgets.Delete(ctx, tx, *team.BudgetID)
		}
		return nil
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true, "id": team.ID})
}
