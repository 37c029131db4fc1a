package http

import (
	"errors"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/llmops/govern/internal/logger"
	"github.com/llmops/govern/internal/upstream"
)

// governance headers are consumed by the gate, never forwarded
var gatewayHeaders = []string{"x-bf-vk", "x-bf-cost", "x-bf-tokens", "x-bf-provider", "x-bf-model"}

// proxyHandler relays admitted completion requests to the upstream gateway.
// A nil forwarder (no upstream configured) answers 503.
func proxyHandler(fwd *upstream.Forwarder) echo.HandlerFunc {
	return func(c echo.Context) error {
		if fwd == nil {
			return errJSON(c, http.StatusServiceUnavailable, "upstream not configured")
		}

		req := c.Request()
		header := req.Header.Clone()
		for _, h := range gatewayHeaders {
			header.Del(h)
		}

		res, err := fwd.Forward(req.Context(), req.Method, req.URL.RequestURI(), header, req.Body)
		if err != nil {
			if errors.Is(err, upstream.ErrUnavailable) {
				return errJSON(c, http.StatusServiceUnavailable, "upstream unavailable")
			}
			logger.L().Warn("upstream forward failed", zap.String("path", req.URL.Path), zap.Error(err))
			return errJSON(c, http.StatusBadGateway, "upstream error")
		}
		defer res.Body.Close()

		for k, vs := range res.Header {
			for _, v := range vs {
				c.Response().Header().Add(k, v)
			}
		}
		c.Response().WriteHeader(res.StatusCode)
		_, err = io.Copy(c.Response(), res.Body)
		return err
	}
}
