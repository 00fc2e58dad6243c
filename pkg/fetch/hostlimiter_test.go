package fetch

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestHostLimiter(limit int64) *HostLimiter {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHostLimiter(limit, logrus.NewEntry(log))
}

func TestHostLimiter_CapEnforced(t *testing.T) {
	hl := newTestHostLimiter(2)
	host := "gemshop.example"

	if err := hl.Acquire(context.Background(), host); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := hl.Acquire(context.Background(), host); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Both slots held; the third acquire must block until timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := hl.Acquire(ctx, host); err == nil {
		t.Fatal("expected third acquire to block, but it succeeded")
	}

	hl.Release(host)
	if err := hl.Acquire(context.Background(), host); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}

	hl.Release(host)
	hl.Release(host)
}

func TestHostLimiter_HostsAreIndependent(t *testing.T) {
	hl := newTestHostLimiter(1)

	if err := hl.Acquire(context.Background(), "rings.example"); err != nil {
		t.Fatalf("rings acquire failed: %v", err)
	}
	if err := hl.Acquire(context.Background(), "necklaces.example"); err != nil {
		t.Fatalf("necklaces acquire failed: %v", err)
	}
	if hl.Len() != 2 {
		t.Errorf("expected 2 tracked hosts, got %d", hl.Len())
	}

	hl.Release("rings.example")
	hl.Release("necklaces.example")
}

func TestHostLimiter_InvalidLimitFallsBack(t *testing.T) {
	hl := newTestHostLimiter(0)
	host := "gemshop.example"

	// Default cap is 4; all four acquires must pass without blocking.
	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		err := hl.Acquire(ctx, host)
		cancel()
		if err != nil {
			t.Fatalf("acquire %d failed under default cap: %v", i+1, err)
		}
	}
	for i := 0; i < 4; i++ {
		hl.Release(host)
	}
}

func TestHostLimiter_EvictionRemovesIdleHosts(t *testing.T) {
	hl := newTestHostLimiter(1)

	for _, host := range []string{"a.example", "b.example", "c.example"} {
		if err := hl.Acquire(context.Background(), host); err != nil {
			t.Fatalf("acquire %s failed: %v", host, err)
		}
		hl.Release(host)
	}
	if hl.Len() != 3 {
		t.Fatalf("expected 3 hosts before eviction, got %d", hl.Len())
	}

	time.Sleep(5 * time.Millisecond)
	hl.evictIdle(time.Millisecond)
	if hl.Len() != 0 {
		t.Errorf("expected 0 hosts after eviction, got %d", hl.Len())
	}
}

func TestHostLimiter_EvictionKeepsActiveHosts(t *testing.T) {
	hl := newTestHostLimiter(1)

	if err := hl.Acquire(context.Background(), "busy.example"); err != nil {
		t.Fatalf("acquire busy failed: %v", err)
	}
	if err := hl.Acquire(context.Background(), "idle.example"); err != nil {
		t.Fatalf("acquire idle failed: %v", err)
	}
	hl.Release("idle.example")

	time.Sleep(5 * time.Millisecond)
	hl.evictIdle(time.Millisecond)

	if hl.Len() != 1 {
		t.Errorf("expected the held host to survive eviction, got %d entries", hl.Len())
	}
	hl.Release("busy.example")
}

func TestHostLimiter_AcquireRollbackOnCancel(t *testing.T) {
	hl := newTestHostLimiter(1)
	host := "gemshop.example"

	if err := hl.Acquire(context.Background(), host); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := hl.Acquire(ctx, host); err == nil {
		t.Fatal("expected acquire with cancelled context to fail")
	}

	hl.Release(host)

	// The failed acquire must not leave a phantom active count behind,
	// otherwise the entry is never evictable.
	time.Sleep(5 * time.Millisecond)
	hl.evictIdle(time.Millisecond)
	if hl.Len() != 0 {
		t.Errorf("expected 0 hosts after eviction, got %d", hl.Len())
	}
}

func TestHostLimiter_RunEvictionStopsOnCancel(t *testing.T) {
	hl := newTestHostLimiter(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		hl.RunEviction(ctx, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunEviction ignored context cancellation")
	}
}

func TestHostLimiter_ConcurrentTraffic(t *testing.T) {
	hl := newTestHostLimiter(5)
	host := "gemshop.example"
	const workers = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := hl.Acquire(context.Background(), host); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			hl.Release(host)
		}()
	}
	wg.Wait()

	time.Sleep(5 * time.Millisecond)
	hl.evictIdle(time.Millisecond)
	if hl.Len() != 0 {
		t.Errorf("expected 0 hosts after all released, got %d", hl.Len())
	}
}
