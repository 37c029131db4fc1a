package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmops/govern/internal/governance"
	"github.com/llmops/govern/internal/http/middleware"
	"github.com/llmops/govern/internal/model"
)

type fakeKeys struct {
	keys map[string]*model.VirtualKey
}

func (f *fakeKeys) GetByValue(_ context.Context, value string) (*model.VirtualKey, error) {
	if vk, ok := f.keys[value]; ok {
		return vk, nil
	}
	return nil, model.ErrNotFound
}

type fakeAdmitter struct {
	err   error
	calls int
}

func (f *fakeAdmitter) Admit(context.Context, *model.VirtualKey, int64, int64) error {
	f.calls++
	return f.err
}

type recordedUsage struct {
	vkID, provider, model string
	tokens, cost          int64
	success               bool
}

type fakeRecorder struct {
	records []recordedUsage
}

func (f *fakeRecorder) Record(_ context.Context, vkID, provider, mdl string, tokens, cost int64, success bool) error {
	f.records = append(f.records, recordedUsage{vkID, provider, mdl, tokens, cost, success})
	return nil
}

func newGateServer(cfg middleware.GateConfig, keys *fakeKeys, admitter *fakeAdmitter, recorder *fakeRecorder) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Gate(cfg, keys, admitter, recorder))
	e.POST("/v1/chat/completions", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

func doRequest(e *echo.Echo, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func activeKey() *model.VirtualKey {
	return &model.VirtualKey{ID: "vk1", Value: "secret", IsActive: true}
}

func TestGatePassThroughWithoutCredential(t *testing.T) {
	admitter := &fakeAdmitter{}
	e := newGateServer(middleware.GateConfig{}, &fakeKeys{}, admitter, &fakeRecorder{})

	rec := doRequest(e, nil, `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, admitter.calls)
}

func TestGateMandatoryCredential(t *testing.T) {
	e := newGateServer(middleware.GateConfig{KeyMandatory: true}, &fakeKeys{}, &fakeAdmitter{}, &fakeRecorder{})

	rec := doRequest(e, nil, `{}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGateUnknownCredential(t *testing.T) {
	e := newGateServer(middleware.GateConfig{}, &fakeKeys{keys: map[string]*model.VirtualKey{}}, &fakeAdmitter{}, &fakeRecorder{})

	rec := doRequest(e, map[string]string{"x-bf-vk": "nope"}, `{}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid virtual key")
}

func TestGateInactiveKey(t *testing.T) {
	vk := activeKey()
	vk.IsActive = false
	e := newGateServer(middleware.GateConfig{}, &fakeKeys{keys: map[string]*model.VirtualKey{"secret": vk}}, &fakeAdmitter{}, &fakeRecorder{})

	rec := doRequest(e, map[string]string{"x-bf-vk": "secret"}, `{}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "inactive")
}

func TestGateModelAllowList(t *testing.T) {
	vk := activeKey()
	vk.AllowedModels = model.StringList{"gpt-4"}
	keys := &fakeKeys{keys: map[string]*model.VirtualKey{"secret": vk}}
	admitter := &fakeAdmitter{}
	e := newGateServer(middleware.GateConfig{}, keys, admitter, &fakeRecorder{})

	rec := doRequest(e, map[string]string{"x-bf-vk": "secret"}, `{"model":"gpt-3.5"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, admitter.calls)

	rec = doRequest(e, map[string]string{"x-bf-vk": "secret"}, `{"model":"gpt-4"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateProviderAllowList(t *testing.T) {
	vk := activeKey()
	vk.AllowedProviders = model.StringList{"openai"}
	e := newGateServer(middleware.GateConfig{}, &fakeKeys{keys: map[string]*model.VirtualKey{"secret": vk}}, &fakeAdmitter{}, &fakeRecorder{})

	rec := doRequest(e, map[string]string{"x-bf-vk": "secret", "x-bf-provider": "anthropic"}, `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// provider derived from a prefixed model name
	rec = doRequest(e, map[string]string{"x-bf-vk": "secret"}, `{"model":"openai/gpt-4"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateBudgetExceeded(t *testing.T) {
	admitter := &fakeAdmitter{err: &governance.BudgetExceededError{Scope: governance.ScopeTeam, BudgetID: "b1", Cost: 10}}
	e := newGateServer(middleware.GateConfig{}, &fakeKeys{keys: map[string]*model.VirtualKey{"secret": activeKey()}}, admitter, &fakeRecorder{})

	rec := doRequest(e, map[string]string{"x-bf-vk": "secret"}, `{}`)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "team")
}

func TestGateRateLimited(t *testing.T) {
	admitter := &fakeAdmitter{err: &governance.RateLimitedError{Kind: "requests", RetryAfter: 42 * time.Second}}
	e := newGateServer(middleware.GateConfig{RetryAfterHint: true}, &fakeKeys{keys: map[string]*model.VirtualKey{"secret": activeKey()}}, admitter, &fakeRecorder{})

	rec := doRequest(e, map[string]string{"x-bf-vk": "secret"}, `{}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "requests")
}

func TestGateAdmittedRecordsUsage(t *testing.T) {
	recorder := &fakeRecorder{}
	e := newGateServer(middleware.GateConfig{DefaultCost: 5, DefaultTokens: 100},
		&fakeKeys{keys: map[string]*model.VirtualKey{"secret": activeKey()}}, &fakeAdmitter{}, recorder)

	rec := doRequest(e, map[string]string{
		"x-bf-vk":     "secret",
		"x-bf-tokens": "250",
	}, `{"model":"openai/gpt-4"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, recorder.records, 1)
	got := recorder.records[0]
	assert.Equal(t, "vk1", got.vkID)
	assert.Equal(t, "openai", got.provider)
	assert.Equal(t, "gpt-4", got.model)
	assert.Equal(t, int64(250), got.tokens)
	assert.Equal(t, int64(5), got.cost)
	assert.True(t, got.success)
}
