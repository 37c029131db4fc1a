package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmops/govern/internal/model"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

// Update must not bind the counter columns: a configuration edit carrying a
// stale read would otherwise overwrite concurrently committed spend.
func TestBudgetsUpdateWritesConfigurationOnly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBudgetsRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE budgets").
		WithArgs(int64(500), "1h", "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	b := &model.Budget{ID: "b1", MaxLimit: 500, ResetDuration: "1h", CurrentUsage: 40, LastReset: time.Now()}
	require.NoError(t, repo.Update(context.Background(), nil, b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBudgetsResetWindowGuard(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBudgetsRepository(db)

	seen := time.Now().UTC().Add(-time.Hour)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE budgets SET current_usage = 0").
		WithArgs(now, "b1", seen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.ResetWindow(context.Background(), "b1", seen, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// guard misses when another writer already advanced last_reset
	mock.ExpectExec("UPDATE budgets SET current_usage = 0").
		WithArgs(now, "b1", seen).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.ResetWindow(context.Background(), "b1", seen, now)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
