package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
)

func (a *API) usageStats(c echo.Context) error {
	stats, err := a.tracker.Stats(c.Request().Context(), c.QueryParam("virtual_key_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"usage_stats": stats, "count": len(stats)})
}

type usageResetReq struct {
	VirtualKeyID string `json:"virtual_key_id"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

func (a *API) usageReset(c echo.Context) error {
	var req usageResetReq
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "malformed body")
	}
	req.VirtualKeyID = strings.TrimSpace(req.VirtualKeyID)
	if req.VirtualKeyID == "" {
		return errJSON(c, http.StatusBadRequest, "virtual_key_id is required")
	}

	if err := a.tracker.Reset(c.Request().Context(), req.VirtualKeyID, req.Provider, req.Model); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"reset": true, "virtual_key_id": req.VirtualKeyID})
}

// listUsageEvents lists archived per-request events from ClickHouse.
func (a *API) listUsageEvents(c echo.Context) error {
	if a.usageEvents == nil {
		return errJSON(c, http.StatusServiceUnavailable, "event archive not configured")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	events, err := a.usageEvents.ListEvents(c.Request().Context(), c.QueryParam("virtual_key_id"), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"usage_events": events, "count": len(events)})
}
