package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmops/govern/internal/model"
)

func TestRateLimitsUpdateWritesConfigurationOnly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRateLimitsRepository(db)

	tokenMax := int64(1000)
	dur := "1m"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE rate_limits").
		WithArgs(tokenMax, dur, nil, nil, "rl1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rl := &model.RateLimit{
		ID:                 "rl1",
		TokenMaxLimit:      &tokenMax,
		TokenResetDuration: &dur,
		TokenCurrentUsage:  900,
		TokenLastReset:     time.Now(),
	}
	require.NoError(t, repo.Update(context.Background(), nil, rl))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitsGuardedWindowResets(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRateLimitsRepository(db)

	seen := time.Now().UTC().Add(-time.Minute)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE rate_limits SET token_current_usage = 0").
		WithArgs(now, "rl1", seen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.ResetTokenWindow(context.Background(), "rl1", seen, now)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE rate_limits SET request_current_usage = 0").
		WithArgs(now, "rl1", seen).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.ResetRequestWindow(context.Background(), "rl1", seen, now)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
