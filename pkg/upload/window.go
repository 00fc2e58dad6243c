package upload

import (
	"fmt"
	"sync"
	"time"

	"jewelry-scraper/pkg/utils"
)

// rateWindow caps uploads per hour on the client side. The window opens at
// the first charged upload and rolls over once a full hour has elapsed,
// resetting the counter.
type rateWindow struct {
	mu       sync.Mutex
	clock    Clock
	limit    int
	count    int
	openedAt time.Time
}

func newRateWindow(limit int, clock Clock) *rateWindow {
	return &rateWindow{clock: clock, limit: limit}
}

// take charges one upload against the current window. Returns
// ErrUploadRateLimited when the window is already full; a limit of zero or
// less disables the cap.
func (w *rateWindow) take() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.limit <= 0 {
		return nil
	}

	now := w.clock.Now()
	if w.openedAt.IsZero() || now.Sub(w.openedAt) >= time.Hour {
		w.openedAt = now
		w.count = 0
	}
	if w.count >= w.limit {
		return fmt.Errorf("%w: %d uploads since %s",
			utils.ErrUploadRateLimited, w.count, w.openedAt.Format(time.RFC3339))
	}
	w.count++
	return nil
}

// remaining reports how many uploads the current window still allows.
func (w *rateWindow) remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.limit <= 0 {
		return -1
	}
	if w.openedAt.IsZero() || w.clock.Now().Sub(w.openedAt) >= time.Hour {
		return w.limit
	}
	return w.limit - w.count
}
