package storage

import (
	"context"
	"time"

	"jewelry-scraper/pkg/models"
)

// SeenStore tracks canonical product URLs across runs. The per-run
// first-wins dedup lives in the orchestrator's in-memory set; this layer is
// what lets watch mode skip work it already finished last cycle.
type SeenStore interface {
	// MarkSeen records a canonical URL. Returns true if it was newly added,
	// false if a previous run (or this one) already recorded it.
	MarkSeen(canonicalURL string) (bool, error)

	// WasSeen reports whether a canonical URL has ever been recorded.
	WasSeen(canonicalURL string) (bool, error)
}

// ItemStore persists per-item and per-image processing state.
type ItemStore interface {
	// CheckItem retrieves the status record for an item id. A missing key
	// yields ItemStatusNotFound with a nil entry and no error.
	CheckItem(id string) (status models.ItemStatus, entry *models.ItemDBEntry, err error)

	// UpdateItem writes the status record for an item id.
	UpdateItem(id string, entry *models.ItemDBEntry) error

	// CheckImage retrieves the status record for an image URL.
	CheckImage(imageURL string) (status models.ImageStatus, entry *models.ImageDBEntry, err error)

	// UpdateImage writes the status record for an image URL.
	UpdateImage(imageURL string, entry *models.ImageDBEntry) error
}

// StoreAdmin handles lifecycle and maintenance operations.
type StoreAdmin interface {
	// KeyCount returns the number of keys in the store, O(1).
	KeyCount() (int, error)

	// WriteSeenLog dumps every seen canonical URL to filePath, one per line.
	WriteSeenLog(filePath string) error

	// RunGC runs periodic value-log garbage collection until ctx is done.
	// Run it in a goroutine.
	RunGC(ctx context.Context, interval time.Duration)

	// Close flushes and closes the store.
	Close() error
}

// CrawlStore combines the store facets for components needing full access.
type CrawlStore interface {
	SeenStore
	ItemStore
	StoreAdmin
}

// BlobStore writes crawl artifacts (HTML snapshots, metadata documents) and
// returns a URI for each stored object. Implementations exist for the local
// filesystem and for GCS, selected by the storage_backend config key.
type BlobStore interface {
	// Put stores data under path and returns the object's URI.
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)

	// Get reads the object stored under path.
	Get(ctx context.Context, path string) ([]byte, error)
}
