package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces successive requests to the same host. It tracks the
// last attempt time per host; the actual in-flight cap lives in HostLimiter.
type RateLimiter struct {
	lastAttempt  map[string]time.Time
	mu           sync.Mutex
	defaultDelay time.Duration // used when a caller passes no delay
	log          *logrus.Entry
}

// NewRateLimiter creates a RateLimiter with the given fallback delay.
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		lastAttempt:  make(map[string]time.Time),
		defaultDelay: defaultDelay,
		log:          log,
	}
}

// ApplyDelay blocks until at least minDelay (jittered) has passed since the
// previous request to host, or until ctx is cancelled. First contact with a
// host returns immediately.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return
	}

	rl.mu.Lock()
	last, seen := rl.lastAttempt[host]
	rl.mu.Unlock()
	if !seen {
		return
	}

	remaining := minDelay - time.Since(last)
	if remaining <= 0 {
		return
	}
	sleep := addJitter(remaining)
	if sleep <= 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": sleep, "required_delay": minDelay,
	}).Debug("Pausing before next request")

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// UpdateLastRequestTime records now as the last attempt time for host.
// Called after every request attempt, successful or not.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.mu.Lock()
	rl.lastAttempt[host] = time.Now()
	rl.mu.Unlock()
}

// addJitter spreads a delay by roughly +/-10% so concurrent workers hitting
// the same host do not fall into lockstep.
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	span := int64(d) / 5 // 20% wide band centered on d
	if span <= 0 {
		return d
	}
	out := d + time.Duration(rand.Int63n(span)) - d/10
	if out < 0 {
		return 0
	}
	return out
}
