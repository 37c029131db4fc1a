package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/llmops/govern/internal/governance"
	"github.com/llmops/govern/internal/metrics"
	"github.com/llmops/govern/internal/model"
)

// GateConfig tunes the authorization gate.
type GateConfig struct {
	Header         string // credential header, e.g. "x-bf-vk"
	KeyMandatory   bool   // reject requests without a credential
	DefaultCost    int64  // cost estimate when the caller supplies none
	DefaultTokens  int64  // token estimate when the caller supplies none
	RetryAfterHint bool   // set Retry-After header when rate limited
}

// KeyResolver looks up a credential by its secret value.
type KeyResolver interface {
	GetByValue(ctx context.Context, value string) (*model.VirtualKey, error)
}

// Admitter charges a request against a key's budgets and rate limit.
type Admitter interface {
	Admit(ctx context.Context, vk *model.VirtualKey, cost, tokens int64) error
}

// Recorder folds a completed request into usage tracking.
type Recorder interface {
	Record(ctx context.Context, vkID, provider, mdl string, tokens, cost int64, success bool) error
}

const ctxVirtualKey = "virtual_key"

// VirtualKeyFromCtx extracts the admitted key set by Gate, if any.
func VirtualKeyFromCtx(c echo.Context) (*model.VirtualKey, bool) {
	vk, ok := c.Get(ctxVirtualKey).(*model.VirtualKey)
	return vk, ok
}

// Gate authorizes governed requests. The checks run in a fixed order, first
// failure wins: missing credential (pass-through unless mandatory), unknown
// credential, inactive key, provider/model allow-lists, budgets, rate limit.
// Admitted requests are recorded after the handler returns.
func Gate(cfg GateConfig, keys KeyResolver, admitter Admitter, recorder Recorder) echo.MiddlewareFunc {
	if cfg.Header == "" {
		cfg.Header = "x-bf-vk"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := strings.TrimSpace(c.Request().Header.Get(cfg.Header))
			if value == "" {
				if cfg.KeyMandatory {
					metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionNoCredential)).Inc()
					return c.JSON(http.StatusForbidden, map[string]string{"error": "virtual key required"})
				}
				// ungoverned pass-through
				metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionNoCredential)).Inc()
				return next(c)
			}

			ctx := c.Request().Context()
			vk, err := keys.GetByValue(ctx, value)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionUnknownKey)).Inc()
					return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid virtual key"})
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if !vk.IsActive {
				metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionInactive)).Inc()
				return c.JSON(http.StatusForbidden, map[string]string{"error": "virtual key is inactive"})
			}

			provider, mdl := extractTarget(c)
			if !vk.ProviderAllowed(provider) {
				metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionProviderBlocked)).Inc()
				return c.JSON(http.StatusForbidden, map[string]string{"error": "provider not allowed for this key"})
			}
			if !vk.ModelAllowed(mdl) {
				metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionModelBlocked)).Inc()
				return c.JSON(http.StatusForbidden, map[string]string{"error": "model not allowed for this key"})
			}

			cost := headerInt64(c, "x-bf-cost", cfg.DefaultCost)
			tokens := headerInt64(c, "x-bf-tokens", cfg.DefaultTokens)

			if err := admitter.Admit(ctx, vk, cost, tokens); err != nil {
				var be *governance.BudgetExceededError
				if errors.As(err, &be) {
					metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionBudgetExceeded)).Inc()
					return c.JSON(http.StatusPaymentRequired, map[string]any{
						"error": "budget_exceeded",
						"scope": string(be.Scope),
					})
				}
				var rle *governance.RateLimitedError
				if errors.As(err, &rle) {
					metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionRateLimited)).Inc()
					if cfg.RetryAfterHint && rle.RetryAfter > 0 {
						secs := int64(rle.RetryAfter.Seconds())
						if secs < 1 {
							secs = 1
						}
						c.Response().Header().Set("Retry-After", strconv.FormatInt(secs, 10))
					}
					return c.JSON(http.StatusTooManyRequests, map[string]any{
						"error": "rate_limited",
						"limit": rle.Kind,
					})
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "admission error"})
			}

			metrics.AdmissionsTotal.WithLabelValues(string(governance.DecisionAdmitted)).Inc()
			c.Set(ctxVirtualKey, vk)

			handlerErr := next(c)

			if recorder != nil {
				success := handlerErr == nil && c.Response().Status < http.StatusBadRequest
				_ = recorder.Record(ctx, vk.ID, provider, mdl, tokens, cost, success)
			}
			return handlerErr
		}
	}
}

// extractTarget pulls the requested provider and model from the x-bf-provider
// and x-bf-model headers, falling back to the body's "model" field. Models of
// the form "provider/model" split into both.
func extractTarget(c echo.Context) (provider, mdl string) {
	provider = strings.TrimSpace(c.Request().Header.Get("x-bf-provider"))
	mdl = strings.TrimSpace(c.Request().Header.Get("x-bf-model"))

	if mdl == "" && c.Request().Body != nil {
		b, err := io.ReadAll(c.Request().Body)
		if err == nil {
			c.Request().Body = io.NopCloser(bytes.NewReader(b))
			var body struct {
				Model string `json:"model"`
			}
			if json.Unmarshal(b, &body) == nil {
				mdl = strings.TrimSpace(body.Model)
			}
		}
	}

	if provider == "" {
		if i := strings.IndexByte(mdl, '/'); i > 0 {
			provider, mdl = mdl[:i], mdl[i+1:]
		}
	}
	return provider, mdl
}

func headerInt64(c echo.Context, header string, fallback int64) int64 {
	v := strings.TrimSpace(c.Request().Header.Get(header))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
