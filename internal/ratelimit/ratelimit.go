package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Jitter returns a random duration in [min, max).
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer pauses a full jittered delay between successive steps of one batch.
// The first step never waits.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	steps    int
	mu       sync.Mutex
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	return &Pacer{minDelay: minDelay, maxDelay: maxDelay, sleep: Sleep}
}

func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.steps++
	if p.steps == 1 {
		return ctx.Err()
	}
	return p.sleep(ctx, Jitter(p.minDelay, p.maxDelay))
}

// Delay returns the current delay window.
func (p *Pacer) Delay() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minDelay, p.maxDelay
}

// AdaptiveRateLimiter is a Pacer whose delay window widens after repeated
// errors and slowly narrows again after a run of successes.
type AdaptiveRateLimiter struct {
	*Pacer
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	floor         time.Duration
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		Pacer:         NewPacer(minDelay, maxDelay),
		maxErrorCount: 3,
		backoffFactor: 1.5,
		floor:         minDelay,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		if a.maxDelay < a.minDelay {
			a.maxDelay = a.minDelay
		}
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}
