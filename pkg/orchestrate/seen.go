package orchestrate

import (
	"sync"

	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/storage"
)

// SeenSet answers "has this run already dispatched this canonical URL?".
// Dedup within a run is purely in-memory; every first sight is also recorded
// in the seen store (when present) so the run can dump its discovery log and
// later runs can audit coverage. Cross-run skipping is NOT decided here — a
// URL seen by a previous run may still need work (its item could have
// failed), so that decision belongs to whoever can read the item's status.
type SeenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}

	store storage.SeenStore
	log   *logrus.Entry
}

// NewSeenSet creates a SeenSet. store may be nil for purely in-memory dedup.
func NewSeenSet(store storage.SeenStore, log *logrus.Entry) *SeenSet {
	return &SeenSet{
		keys:  make(map[string]struct{}),
		store: store,
		log:   log,
	}
}

// Add records a canonical URL and reports whether this run sees it for the
// first time. Exactly one caller ever gets true for a given URL, so the
// winner dispatches and everyone else drops it.
func (s *SeenSet) Add(canonicalURL string) bool {
	s.mu.Lock()
	if _, dup := s.keys[canonicalURL]; dup {
		s.mu.Unlock()
		return false
	}
	s.keys[canonicalURL] = struct{}{}
	s.mu.Unlock()

	if s.store != nil {
		if _, err := s.store.MarkSeen(canonicalURL); err != nil {
			s.log.WithError(err).Warn("Seen-store write failed")
		}
	}
	return true
}

// Len returns how many distinct URLs this run has dispatched.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
