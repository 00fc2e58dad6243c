// Package persist writes accepted items to durable output: a raw HTML
// snapshot and a metadata document per item as each one lands, plus a
// run-level aggregate (JSON and CSV) flushed once per site. Blob writes get
// a small bounded retry and are then skipped with a log; persistence never
// fails a crawl.
package persist

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/storage"
	"jewelry-scraper/pkg/utils"
)

// Blob keys under the site's storage root.
const (
	RawHTMLKey       = "raw_html/%s.html"
	MetadataKey      = "metadata/%s.json"
	AggregateJSONKey = "all_metadata.json"
	AggregateCSVKey  = "all_metadata.csv"
)

// Writer persists one site's accepted items. Per-item writes happen from
// many goroutines; the aggregate is mutex-guarded and flushed once when the
// site finishes.
type Writer struct {
	blobs   storage.BlobStore
	retries int
	backoff time.Duration
	log     *logrus.Entry

	runID     string
	siteKey   string
	startedAt time.Time

	mu       sync.Mutex
	accepted []models.JewelryItem
}

// NewWriter creates a Writer rooted at the given site's blob store.
func NewWriter(blobs storage.BlobStore, cfg *config.AppConfig, runID, siteKey string, logger *logrus.Logger) *Writer {
	retries := cfg.PersistRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.PersistRetryDelay
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Writer{
		blobs:     blobs,
		retries:   retries,
		backoff:   backoff,
		log:       logger.WithFields(logrus.Fields{"component": "persist", "site": siteKey}),
		runID:     runID,
		siteKey:   siteKey,
		startedAt: time.Now(),
	}
}

// runAggregate is the shape of all_metadata.json: a run header plus every
// accepted item, in acceptance order.
type runAggregate struct {
	RunID     string               `json:"run_id"`
	Site      string               `json:"site"`
	StartedAt time.Time            `json:"started_at"`
	FlushedAt time.Time            `json:"flushed_at"`
	ItemCount int                  `json:"item_count"`
	Items     []models.JewelryItem `json:"items"`
}

// SaveItem writes the item's raw page snapshot and its metadata document,
// then appends it to the run aggregate. The two blob writes are independent:
// one failing (after retries) is logged and skipped without blocking the
// other or the aggregate. Re-scraping the same listing overwrites both blobs
// under the same id. The returned error reports the first skipped write so
// callers can count it; the item still counts as persisted.
func (w *Writer) SaveItem(ctx context.Context, item *models.JewelryItem, rawHTML []byte) error {
	log := w.log.WithField("item_id", item.ID)

	var firstErr error
	if len(rawHTML) > 0 {
		key := fmt.Sprintf(RawHTMLKey, item.ID)
		if err := w.putWithRetry(ctx, key, "text/html; charset=utf-8", rawHTML); err != nil {
			log.WithError(err).Warn("Skipping raw HTML snapshot")
			firstErr = err
		}
	}

	doc, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		// Items are plain data; this means a programming error, not bad input.
		return fmt.Errorf("%w: marshaling item %s to JSON: %w", utils.ErrParsing, item.ID, err)
	}
	key := fmt.Sprintf(MetadataKey, item.ID)
	if err := w.putWithRetry(ctx, key, "application/json", doc); err != nil {
		log.WithError(err).Warn("Skipping item metadata document")
		if firstErr == nil {
			firstErr = err
		}
	}

	w.mu.Lock()
	w.accepted = append(w.accepted, *item)
	w.mu.Unlock()

	log.Debug("Item persisted")
	return firstErr
}

// Count returns how many items this writer has accepted so far.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.accepted)
}

// Flush writes the run aggregate in both JSON and CSV form. Call once after
// the site's crawl finishes; every accepted item from this run is included.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	items := make([]models.JewelryItem, len(w.accepted))
	copy(items, w.accepted)
	w.mu.Unlock()

	agg := runAggregate{
		RunID:     w.runID,
		Site:      w.siteKey,
		StartedAt: w.startedAt,
		FlushedAt: time.Now(),
		ItemCount: len(items),
		Items:     items,
	}

	var firstErr error
	doc, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		firstErr = fmt.Errorf("%w: marshaling aggregate to JSON: %w", utils.ErrParsing, err)
	} else if err := w.putWithRetry(ctx, AggregateJSONKey, "application/json", doc); err != nil {
		w.log.WithError(err).Error("Failed writing aggregate JSON")
		firstErr = err
	}

	csvDoc, err := renderCSV(items)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if err := w.putWithRetry(ctx, AggregateCSVKey, "text/csv", csvDoc); err != nil {
		w.log.WithError(err).Error("Failed writing aggregate CSV")
		if firstErr == nil {
			firstErr = err
		}
	}

	w.log.WithField("items", len(items)).Info("Run aggregate flushed")
	return firstErr
}

// putWithRetry attempts a blob write up to the configured retry budget,
// sleeping the backoff between attempts. Context cancellation stops the
// loop immediately.
func (w *Writer) putWithRetry(ctx context.Context, key, contentType string, data []byte) error {
	var lastErr error
	for attempt := 1; attempt <= w.retries; attempt++ {
		_, err := w.blobs.Put(ctx, key, contentType, data)
		if err == nil {
			if attempt > 1 {
				w.log.WithFields(logrus.Fields{"key": key, "attempt": attempt}).Debug("Blob write succeeded after retry")
			}
			return nil
		}
		lastErr = err
		if attempt < w.retries {
			w.log.WithFields(logrus.Fields{
				"key":     key,
				"attempt": attempt,
			}).WithError(err).Debug("Blob write failed, backing off")
			select {
			case <-time.After(w.backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %q: %w", utils.ErrPersistence, key, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%w: %q after %d attempts: %w", utils.ErrPersistence, key, w.retries, lastErr)
}

// csvHeader defines the flat export's column order.
var csvHeader = []string{
	"id", "title", "category", "style", "price", "material",
	"shop_name", "condition", "era", "source_url", "image_count", "scraped_at",
}

// renderCSV flattens the accepted items into the CSV export.
func renderCSV(items []models.JewelryItem) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	for _, item := range items {
		record := []string{
			item.ID,
			item.Title,
			item.Category.String(),
			item.Style.String(),
			strconv.FormatFloat(item.Price, 'f', 2, 64),
			item.Material,
			item.ShopName,
			item.Condition,
			item.Era,
			item.SourceURL,
			strconv.Itoa(len(item.Metadata.LocalImages)),
			item.Metadata.ScrapedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return nil, fmt.Errorf("writing CSV record for %s: %w", item.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV: %w", err)
	}
	return buf.Bytes(), nil
}
