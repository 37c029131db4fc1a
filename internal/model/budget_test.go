package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBudgetAllows(t *testing.T) {
	b := &Budget{MaxLimit: 100, CurrentUsage: 40}
	assert.True(t, b.Allows(60))
	assert.False(t, b.Allows(61))

	// zero limit blocks any non-zero cost but admits free requests
	zero := &Budget{MaxLimit: 0}
	assert.True(t, zero.Allows(0))
	assert.False(t, zero.Allows(1))
}

func TestBudgetResetIfExpired(t *testing.T) {
	now := time.Now().UTC()

	b := &Budget{MaxLimit: 100, CurrentUsage: 80, ResetDuration: "1h", LastReset: now.Add(-2 * time.Hour)}
	assert.True(t, b.ResetIfExpired(now))
	assert.Equal(t, int64(0), b.CurrentUsage)
	assert.Equal(t, now, b.LastReset)

	fresh := &Budget{MaxLimit: 100, CurrentUsage: 80, ResetDuration: "1h", LastReset: now.Add(-time.Minute)}
	assert.False(t, fresh.ResetIfExpired(now))
	assert.Equal(t, int64(80), fresh.CurrentUsage)
}
