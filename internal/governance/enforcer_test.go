package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmops/govern/internal/model"
)

// newEnforcerDB backs the admission transaction with a mock driver; all row
// traffic goes through the fake repositories.
func newEnforcerDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

func TestAdmitRejectsExhaustedBudgetWithoutMutation(t *testing.T) {
	db, mock := newEnforcerDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	budgets := &fakeBudgets{rows: map[string]*model.Budget{
		"b1": {ID: "b1", MaxLimit: 1, ResetDuration: "1h", LastReset: time.Now().UTC()},
	}}
	budgetID := "b1"
	vk := &model.VirtualKey{ID: "vk1", BudgetID: &budgetID}

	e := NewEnforcer(db, budgets, &fakeRateLimits{}, NewResolver(nil, nil))
	err := e.Admit(context.Background(), vk, 1000, 0)

	var be *BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ScopeVirtualKey, be.Scope)
	assert.Equal(t, int64(1), be.MaxLimit)
	assert.Equal(t, int64(1000), be.Cost)

	assert.Empty(t, budgets.saved)
	assert.Equal(t, int64(0), budgets.rows["b1"].CurrentUsage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitReportsFirstExhaustedTier(t *testing.T) {
	db, mock := newEnforcerDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	now := time.Now().UTC()
	budgets := &fakeBudgets{rows: map[string]*model.Budget{
		"b-vk":   {ID: "b-vk", MaxLimit: 100, ResetDuration: "1h", LastReset: now},
		"b-team": {ID: "b-team", MaxLimit: 10, CurrentUsage: 10, ResetDuration: "1h", LastReset: now},
	}}
	vkBudget, teamBudget, teamID := "b-vk", "b-team", "t1"
	vk := &model.VirtualKey{
		ID:       "vk1",
		BudgetID: &vkBudget,
		TeamID:   &teamID,
		Team:     &model.Team{ID: teamID, BudgetID: &teamBudget},
	}

	e := NewEnforcer(db, budgets, &fakeRateLimits{}, NewResolver(nil, nil))
	err := e.Admit(context.Background(), vk, 5, 0)

	var be *BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ScopeTeam, be.Scope)
	// the key's own budget, checked first, stays unchanged too
	assert.Empty(t, budgets.saved)
	assert.Equal(t, int64(0), budgets.rows["b-vk"].CurrentUsage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitResetsExpiredWindowOnAdmission(t *testing.T) {
	db, mock := newEnforcerDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	stale := time.Now().UTC().Add(-2 * time.Hour)
	budgets := &fakeBudgets{rows: map[string]*model.Budget{
		"b1": {ID: "b1", MaxLimit: 100, CurrentUsage: 100, ResetDuration: "1h", LastReset: stale},
	}}
	budgetID := "b1"
	vk := &model.VirtualKey{ID: "vk1", BudgetID: &budgetID}

	e := NewEnforcer(db, budgets, &fakeRateLimits{}, NewResolver(nil, nil))
	require.NoError(t, e.Admit(context.Background(), vk, 5, 0))

	assert.Equal(t, int64(5), budgets.rows["b1"].CurrentUsage)
	assert.True(t, budgets.rows["b1"].LastReset.After(stale))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitRateLimitKinds(t *testing.T) {
	now := time.Now().UTC()
	dur := "1m"
	tokenMax, reqMax := int64(100), int64(1)

	t.Run("tokens", func(t *testing.T) {
		db, mock := newEnforcerDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		rateLimits := &fakeRateLimits{rows: map[string]*model.RateLimit{
			"rl1": {ID: "rl1", TokenMaxLimit: &tokenMax, TokenResetDuration: &dur, TokenCurrentUsage: 100, TokenLastReset: now},
		}}
		rlID := "rl1"
		vk := &model.VirtualKey{ID: "vk1", RateLimitID: &rlID}

		e := NewEnforcer(db, &fakeBudgets{}, rateLimits, NewResolver(nil, nil))
		err := e.Admit(context.Background(), vk, 0, 10)

		var rle *RateLimitedError
		require.ErrorAs(t, err, &rle)
		assert.Equal(t, "tokens", rle.Kind)
		assert.Greater(t, rle.RetryAfter, time.Duration(0))
		assert.Empty(t, rateLimits.saved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requests", func(t *testing.T) {
		db, mock := newEnforcerDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		rateLimits := &fakeRateLimits{rows: map[string]*model.RateLimit{
			"rl1": {ID: "rl1", RequestMaxLimit: &reqMax, RequestResetDuration: &dur, RequestCurrentUsage: 1, RequestLastReset: now},
		}}
		rlID := "rl1"
		vk := &model.VirtualKey{ID: "vk1", RateLimitID: &rlID}

		e := NewEnforcer(db, &fakeBudgets{}, rateLimits, NewResolver(nil, nil))
		err := e.Admit(context.Background(), vk, 0, 10)

		var rle *RateLimitedError
		require.ErrorAs(t, err, &rle)
		assert.Equal(t, "requests", rle.Kind)
		assert.Empty(t, rateLimits.saved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdmitChargesWholeChain(t *testing.T) {
	db, mock := newEnforcerDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	now := time.Now().UTC()
	budgets := &fakeBudgets{rows: map[string]*model.Budget{
		"b-vk":   {ID: "b-vk", MaxLimit: 100, ResetDuration: "1h", LastReset: now},
		"b-team": {ID: "b-team", MaxLimit: 100, ResetDuration: "1h", LastReset: now},
		"b-cust": {ID: "b-cust", MaxLimit: 100, ResetDuration: "1h", LastReset: now},
	}}
	dur := "1m"
	tokenMax := int64(1000)
	rateLimits := &fakeRateLimits{rows: map[string]*model.RateLimit{
		"rl1": {ID: "rl1", TokenMaxLimit: &tokenMax, TokenResetDuration: &dur, TokenLastReset: now},
	}}

	vkBudget, teamBudget, custBudget := "b-vk", "b-team", "b-cust"
	teamID, custID, rlID := "t1", "c1", "rl1"
	vk := &model.VirtualKey{
		ID:          "vk1",
		BudgetID:    &vkBudget,
		RateLimitID: &rlID,
		TeamID:      &teamID,
		Team: &model.Team{
			ID:         teamID,
			BudgetID:   &teamBudget,
			CustomerID: &custID,
			Customer:   &model.Customer{ID: custID, BudgetID: &custBudget},
		},
	}

	e := NewEnforcer(db, budgets, rateLimits, NewResolver(nil, nil))
	require.NoError(t, e.Admit(context.Background(), vk, 7, 30))

	for _, id := range []string{"b-vk", "b-team", "b-cust"} {
		assert.Equal(t, int64(7), budgets.rows[id].CurrentUsage, id)
	}
	assert.Equal(t, int64(30), rateLimits.rows["rl1"].TokenCurrentUsage)
	assert.Equal(t, int64(1), rateLimits.rows["rl1"].RequestCurrentUsage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitUngovernedKeySkipsTransaction(t *testing.T) {
	db, mock := newEnforcerDB(t)

	e := NewEnforcer(db, &fakeBudgets{}, &fakeRateLimits{}, NewResolver(nil, nil))
	require.NoError(t, e.Admit(context.Background(), &model.VirtualKey{ID: "vk1"}, 5, 10))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConcurrentAdmissionsHonorRequestLimit(t *testing.T) {
	const attempts = 8
	const limit = 3

	db, mock := newEnforcerDB(t)
	// one connection: transactions queue like contending row locks
	db.SetMaxOpenConns(1)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < attempts; i++ {
		mock.ExpectBegin()
	}
	for i := 0; i < limit; i++ {
		mock.ExpectCommit()
	}
	for i := 0; i < attempts-limit; i++ {
		mock.ExpectRollback()
	}

	now := time.Now().UTC()
	dur := "1m"
	reqMax := int64(limit)
	rateLimits := &fakeRateLimits{rows: map[string]*model.RateLimit{
		"rl1": {ID: "rl1", RequestMaxLimit: &reqMax, RequestResetDuration: &dur, RequestLastReset: now},
	}}
	rlID := "rl1"
	vk := &model.VirtualKey{ID: "vk1", RateLimitID: &rlID}

	e := NewEnforcer(db, &fakeBudgets{}, rateLimits, NewResolver(nil, nil))

	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Admit(context.Background(), vk, 0, 0)
		}()
	}
	wg.Wait()
	close(errs)

	admitted, limited := 0, 0
	for err := range errs {
		if err == nil {
			admitted++
			continue
		}
		var rle *RateLimitedError
		require.True(t, errors.As(err, &rle))
		assert.Equal(t, "requests", rle.Kind)
		limited++
	}

	assert.Equal(t, limit, admitted)
	assert.Equal(t, attempts-limit, limited)
	assert.Equal(t, int64(limit), rateLimits.rows["rl1"].RequestCurrentUsage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
