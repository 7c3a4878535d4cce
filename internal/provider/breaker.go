package provider

import (
	"sync"
	"time"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after failThreshold consecutive failures, stays open for
// openFor, then lets a single trial through.
type Breaker struct {
	mu               sync.Mutex
	st               BreakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	trialInFlight    bool
	now              func() time.Time
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Breaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Ready reports whether TryAcquire could succeed, without taking the trial slot.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case StateOpen:
		return b.now().After(b.nextTryAt) && !b.trialInFlight
	case StateHalfOpen:
		return !b.trialInFlight
	default:
		return true
	}
}

func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case StateOpen:
		if b.now().After(b.nextTryAt) && !b.trialInFlight {
			b.st = StateHalfOpen
			b.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.st = StateClosed
	b.trialInFlight = false
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == StateHalfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

// OnAbandon frees the trial slot without judging the provider.
func (b *Breaker) OnAbandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == StateHalfOpen {
		b.st = StateOpen
	}
	b.trialInFlight = false
}

func (b *Breaker) trip() {
	b.st = StateOpen
	b.nextTryAt = b.now().Add(b.openFor)
	b.trialInFlight = false
}
