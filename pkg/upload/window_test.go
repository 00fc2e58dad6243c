package upload

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jewelry-scraper/pkg/utils"
)

// fakeClock is a hand-advanced clock for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateWindow_FullHourlyQuota(t *testing.T) {
	clock := newFakeClock()
	w := newRateWindow(500, clock)

	for i := 0; i < 500; i++ {
		require.NoError(t, w.take(), "upload %d should be within quota", i+1)
	}

	err := w.take()
	require.Error(t, err, "the 501st upload must be rejected")
	assert.ErrorIs(t, err, utils.ErrUploadRateLimited)
}

func TestRateWindow_ResetsWhenHourElapses(t *testing.T) {
	clock := newFakeClock()
	w := newRateWindow(3, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.take())
	}
	require.ErrorIs(t, w.take(), utils.ErrUploadRateLimited)

	// Still inside the window: rejection persists.
	clock.Advance(59 * time.Minute)
	require.ErrorIs(t, w.take(), utils.ErrUploadRateLimited)

	// Window has aged out: the counter starts over.
	clock.Advance(time.Minute)
	assert.NoError(t, w.take())
	assert.Equal(t, 2, w.remaining())
}

func TestRateWindow_ZeroLimitDisablesCap(t *testing.T) {
	w := newRateWindow(0, newFakeClock())
	for i := 0; i < 1000; i++ {
		require.NoError(t, w.take())
	}
	assert.Equal(t, -1, w.remaining())
}

func TestRateWindow_RemainingTracksTakes(t *testing.T) {
	clock := newFakeClock()
	w := newRateWindow(10, clock)

	assert.Equal(t, 10, w.remaining())
	require.NoError(t, w.take())
	require.NoError(t, w.take())
	assert.Equal(t, 8, w.remaining())

	clock.Advance(time.Hour)
	assert.Equal(t, 10, w.remaining())
}

func TestRateWindow_ConcurrentTakesNeverExceedLimit(t *testing.T) {
	clock := newFakeClock()
	w := newRateWindow(50, clock)

	var wg sync.WaitGroup
	var allowed, rejected sync.Map
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := w.take(); err != nil {
				rejected.Store(n, true)
			} else {
				allowed.Store(n, true)
			}
		}(i)
	}
	wg.Wait()

	count := func(m *sync.Map) int {
		n := 0
		m.Range(func(_, _ any) bool { n++; return true })
		return n
	}
	assert.Equal(t, 50, count(&allowed))
	assert.Equal(t, 50, count(&rejected))
}
