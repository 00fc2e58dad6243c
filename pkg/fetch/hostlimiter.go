package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostSlot tracks one host's semaphore and its usage state.
type hostSlot struct {
	sem         *semaphore.Weighted
	active      int64     // held + waiting permits
	lastRelease time.Time // zero if never released
}

// HostLimiter caps in-flight requests per host. A single limiter is shared
// by page fetches and image downloads, so the cap holds across both kinds
// of traffic to the same shop.
type HostLimiter struct {
	slots map[string]*hostSlot
	mu    sync.Mutex
	limit int64
	log   *logrus.Entry
}

// NewHostLimiter creates a limiter with the given per-host cap.
func NewHostLimiter(maxPerHost int64, log *logrus.Entry) *HostLimiter {
	if maxPerHost <= 0 {
		maxPerHost = 4
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", maxPerHost)
	}
	return &HostLimiter{
		slots: make(map[string]*hostSlot),
		limit: maxPerHost,
		log:   log,
	}
}

// Acquire takes one permit for host, creating its semaphore on first
// contact. Blocks until a permit frees up or ctx is done.
func (hl *HostLimiter) Acquire(ctx context.Context, host string) error {
	hl.mu.Lock()
	slot, ok := hl.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(hl.limit)}
		hl.slots[host] = slot
		hl.log.WithFields(logrus.Fields{"host": host, "limit": hl.limit}).Debug("Tracking new host")
	}
	slot.active++
	hl.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		hl.mu.Lock()
		slot.active--
		hl.mu.Unlock()
		return err
	}
	return nil
}

// Release returns one permit for host.
func (hl *HostLimiter) Release(host string) {
	hl.mu.Lock()
	slot, ok := hl.slots[host]
	if !ok {
		hl.mu.Unlock()
		hl.log.Errorf("hostlimiter: Release for untracked host %s", host)
		return
	}
	slot.active--
	slot.lastRelease = time.Now()
	hl.mu.Unlock()

	slot.sem.Release(1)
}

// RunEviction drops idle hosts on a ticker until ctx is done. Run it in its
// own goroutine; a long crawl across many shops would otherwise grow the
// map without bound.
func (hl *HostLimiter) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hl.evictIdle(interval)
		case <-ctx.Done():
			hl.log.Debugf("Host limiter eviction stopping: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes hosts with no activity for at least maxIdle.
func (hl *HostLimiter) evictIdle(maxIdle time.Duration) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, slot := range hl.slots {
		if slot.active == 0 && !slot.lastRelease.IsZero() && now.Sub(slot.lastRelease) >= maxIdle {
			delete(hl.slots, host)
			evicted++
		}
	}
	if evicted > 0 {
		hl.log.Debugf("Evicted %d idle hosts, %d remain", evicted, len(hl.slots))
	}
}

// Len reports the number of tracked hosts.
func (hl *HostLimiter) Len() int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return len(hl.slots)
}
