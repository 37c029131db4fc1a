package http

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
)

// debugStats reports entity counts.
func (a *API) debugStats(c echo.Context) error {
	ctx := c.Request().Context()

	customers, err := a.customers.Count(ctx)
	if err != nil {
		return fail(c, err)
	}
	teams, err := a.teams.Count(ctx)
	if err != nil {
		return fail(c, err)
	}
	keys, err := a.virtualKeys.Count(ctx)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"customers":    customers,
		"teams":        teams,
		"virtual_keys": keys,
	})
}

// debugCounters dumps live budget and rate-limit counter state.
func (a *API) debugCounters(c echo.Context) error {
	ctx := c.Request().Context()

	budgets, err := a.budgets.All(ctx)
	if err != nil {
		return fail(c, err)
	}
	rateLimits, err := a.rateLimits.All(ctx)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"budgets":     budgets,
		"rate_limits": rateLimits,
	})
}

// debugHealth probes the backing stores. MySQL down means 503; redis and
// clickhouse are optional and only reported.
func (a *API) debugHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	out := map[string]any{"status": "ok"}
	healthy := true

	if err := a.db.PingContext(ctx); err != nil {
		out["mysql"] = err.Error()
		healthy = false
	} else {
		out["mysql"] = "ok"
	}

	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			out["redis"] = err.Error()
		} else {
			out["redis"] = "ok"
		}
	}
	if a.ch != nil {
		if err := a.ch.PingContext(ctx); err != nil {
			out["clickhouse"] = err.Error()
		} else {
			out["clickhouse"] = "ok"
		}
	}

	if !healthy {
		out["status"] = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, out)
	}
	return c.JSON(http.StatusOK, out)
}
