package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmops/govern/internal/model"
)

type fakeVKStore struct {
	keys     map[string]*model.VirtualKey
	touched  []string
	inserted []string
	dupFirst bool
}

func (f *fakeVKStore) Insert(_ context.Context, _ *sqlx.Tx, vk *model.VirtualKey) error {
	f.inserted = append(f.inserted, vk.Value)
	if f.dupFirst {
		f.dupFirst = false
		return model.ErrDuplicate
	}
	f.keys[vk.ID] = vk
	return nil
}
func (f *fakeVKStore) Get(_ context.Context, id string) (*model.VirtualKey, error) {
	if vk, ok := f.keys[id]; ok {
		return vk, nil
	}
	return nil, model.ErrNotFound
}
func (f *fakeVKStore) GetByValue(_ context.Context, value string) (*model.VirtualKey, error) {
	for _, vk := range f.keys {
		if vk.Value == value {
			return vk, nil
		}
	}
	return nil, model.ErrNotFound
}
func (f *fakeVKStore) List(context.Context) ([]model.VirtualKey, error)          { return nil, nil }
func (f *fakeVKStore) Update(context.Context, *sqlx.Tx, *model.VirtualKey) error { return nil }
func (f *fakeVKStore) Touch(_ context.Context, _ *sqlx.Tx, id string) error {
	f.touched = append(f.touched, id)
	return nil
}
func (f *fakeVKStore) Delete(context.Context, *sqlx.Tx, string) error { return nil }
func (f *fakeVKStore) Count(context.Context) (int64, error)           { return 0, nil }

type fakeKeyCache struct {
	invalidated []string
}

func (f *fakeKeyCache) Invalidate(_ context.Context, value string) {
	f.invalidated = append(f.invalidated, value)
}

func newHandlerCtx(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestUpdateVirtualKeyEmptyBodyTouchesAndInvalidates(t *testing.T) {
	store := &fakeVKStore{keys: map[string]*model.VirtualKey{
		"vk1": {ID: "vk1", Name: "prod", Value: "secret", IsActive: true},
	}}
	kc := &fakeKeyCache{}
	api := &API{virtualKeys: store, cache: kc}

	c, rec := newHandlerCtx(http.MethodPut, "/api/governance/virtual-keys/vk1", `{}`)
	c.SetParamNames("id")
	c.SetParamValues("vk1")

	require.NoError(t, api.updateVirtualKey(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"vk1"}, store.touched)
	assert.Equal(t, []string{"secret"}, kc.invalidated)
}

func TestCreateVirtualKeyRetriesDuplicateSecret(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	store := &fakeVKStore{keys: map[string]*model.VirtualKey{}, dupFirst: true}
	api := &API{db: sqlx.NewDb(mockDB, "mysql"), virtualKeys: store}

	c, rec := newHandlerCtx(http.MethodPost, "/api/governance/virtual-keys", `{"name":"prod"}`)

	require.NoError(t, api.createVirtualKey(c))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.inserted, 2)
	assert.NotEqual(t, store.inserted[0], store.inserted[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}
