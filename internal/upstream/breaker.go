package upstream

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker trips after a run of consecutive upstream failures and lets a
// single probe through once the open period elapses.
type Breaker struct {
	mu            sync.Mutex
	st            breakerState
	fails         int
	failThreshold int
	openFor       time.Duration
	nextTryAt     time.Time
	probeInFlight bool
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Breaker{failThreshold: threshold, openFor: openFor}
}

// Allow reports whether a request may proceed, reserving the probe slot when
// the breaker is recovering.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case stateClosed:
		return true
	case stateOpen:
		if time.Now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = stateHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	default: // half-open
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.fails = 0
	b.st = stateClosed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stateHalfOpen {
		b.st = stateOpen
		b.nextTryAt = time.Now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.fails++
	if b.fails >= b.failThreshold {
		b.st = stateOpen
		b.nextTryAt = time.Now().Add(b.openFor)
	}
}
