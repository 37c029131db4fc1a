package http

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/llmops/govern/internal/logger"
	"github.com/llmops/govern/internal/model"
)

func errJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// fail maps domain errors to status codes: validation 400, not-found 404,
// anything else 500.
func fail(c echo.Context, err error) error {
	if model.IsValidation(err) {
		return errJSON(c, http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, model.ErrNotFound) {
		return errJSON(c, http.StatusNotFound, "not found")
	}
	logger.L().Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return errJSON(c, http.StatusInternalServerError, "internal error")
}
