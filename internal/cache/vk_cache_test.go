package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmops/govern/internal/model"
)

type fakeKeysRepo struct {
	byValue map[string]*model.VirtualKey
	lookups int
}

func (f *fakeKeysRepo) Insert(context.Context, *sqlx.Tx, *model.VirtualKey) error { return nil }
func (f *fakeKeysRepo) Get(context.Context, string) (*model.VirtualKey, error) {
	return nil, model.ErrNotFound
}
func (f *fakeKeysRepo) GetByValue(_ context.Context, value string) (*model.VirtualKey, error) {
	f.lookups++
	if vk, ok := f.byValue[value]; ok {
		return vk, nil
	}
	return nil, model.ErrNotFound
}
func (f *fakeKeysRepo) List(context.Context) ([]model.VirtualKey, error)          { return nil, nil }
func (f *fakeKeysRepo) Update(context.Context, *sqlx.Tx, *model.VirtualKey) error { return nil }
func (f *fakeKeysRepo) Touch(context.Context, *sqlx.Tx, string) error             { return nil }
func (f *fakeKeysRepo) Delete(context.Context, *sqlx.Tx, string) error            { return nil }
func (f *fakeKeysRepo) Count(context.Context) (int64, error)                      { return 0, nil }

func TestVirtualKeyCacheWithoutRedisFallsThrough(t *testing.T) {
	repo := &fakeKeysRepo{byValue: map[string]*model.VirtualKey{
		"secret": {ID: "vk1", Value: "secret", IsActive: true},
	}}
	c := NewVirtualKeyCache(repo, nil, 30*time.Second)

	vk, err := c.GetByValue(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, "vk1", vk.ID)
	assert.Equal(t, 1, repo.lookups)

	// no redis means every lookup hits the repository
	_, err = c.GetByValue(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.lookups)

	_, err = c.GetByValue(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVirtualKeyCacheInvalidateWithoutRedisIsNoop(t *testing.T) {
	c := NewVirtualKeyCache(&fakeKeysRepo{}, nil, time.Second)
	c.Invalidate(context.Background(), "secret")
}
