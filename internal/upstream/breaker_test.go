package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, b.Allow())
		b.OnFailure()
	}
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()

	assert.True(t, b.Allow())
}

func TestBreakerProbesAfterOpenPeriod(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)

	// one probe slot only
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	b.OnSuccess()
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	b.OnFailure()

	assert.False(t, b.Allow())
}
