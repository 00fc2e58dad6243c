package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/extract"
	"jewelry-scraper/pkg/fetch"
	"jewelry-scraper/pkg/images"
	"jewelry-scraper/pkg/metrics"
	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/parse"
	"jewelry-scraper/pkg/persist"
	"jewelry-scraper/pkg/storage"
	"jewelry-scraper/pkg/upload"
	"jewelry-scraper/pkg/utils"
	"jewelry-scraper/pkg/validate"
)

// siteCrawler walks one site: every (category, style) listing is paginated,
// each page's product links fan out into tasks, and the page-level barrier
// holds the next page back until every task has settled.
type siteCrawler struct {
	appCfg  *config.AppConfig
	siteCfg config.SiteConfig
	siteKey string
	runID   string
	resume  bool

	fetcher   *fetch.Fetcher
	pageSlots *semaphore.Weighted
	store     storage.CrawlStore
	writer    *persist.Writer
	acquirer  *images.Acquirer
	uploader  *upload.Client
	extractor *extract.Extractor
	seen      *SeenSet
	metrics   *metrics.Metrics
	log       *logrus.Entry

	siteOutputDir string

	accepted atomic.Int64
	rejected atomic.Int64
	pages    atomic.Int64

	categoryMu    sync.Mutex
	categoryCount map[models.Category]*atomic.Int64
}

// run crawls every configured (category, style) segment in order. Only a
// cancelled context stops it early; segment-level trouble is contained to
// the segment.
func (c *siteCrawler) run(ctx context.Context) error {
	categories := c.siteCfg.CrawlCategories()
	styles := c.siteCfg.CrawlStyles()
	c.log.WithFields(logrus.Fields{
		"categories": len(categories),
		"styles":     len(styles),
	}).Info("Starting site crawl")

	for _, category := range categories {
		for _, style := range styles {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.crawlSegment(ctx, category, style)
		}
	}
	return ctx.Err()
}

// quotaFor returns this site's per-category acceptance quota; zero means
// paginate until the listings run dry.
func (c *siteCrawler) quotaFor() int {
	return config.GetEffectiveMinItemsPerCategory(c.siteCfg, *c.appCfg)
}

// acceptedInCategory returns the shared counter for a category. Styles
// within a category feed the same quota.
func (c *siteCrawler) acceptedInCategory(category models.Category) *atomic.Int64 {
	c.categoryMu.Lock()
	defer c.categoryMu.Unlock()
	if c.categoryCount == nil {
		c.categoryCount = make(map[models.Category]*atomic.Int64)
	}
	counter, ok := c.categoryCount[category]
	if !ok {
		counter = &atomic.Int64{}
		c.categoryCount[category] = counter
	}
	return counter
}

// crawlSegment paginates one (category, style) listing. Pagination stops at
// the first page with zero product links, at max_pages, at a met category
// quota, or on cancellation.
func (c *siteCrawler) crawlSegment(ctx context.Context, category models.Category, style models.Style) {
	log := c.log.WithFields(logrus.Fields{"category": category, "style": style})

	maxPages := config.GetEffectiveMaxPages(c.siteCfg, *c.appCfg)
	pageDelay := config.GetEffectivePageDelay(c.siteCfg, *c.appCfg)
	quota := c.quotaFor()
	counter := c.acceptedInCategory(category)

	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			return
		}
		if quota > 0 && counter.Load() >= int64(quota) {
			log.WithField("accepted", counter.Load()).Debug("Category quota met, stopping pagination")
			return
		}

		pageURL, err := c.siteCfg.BuildListingURL(category, style, page)
		if err != nil {
			log.WithError(err).Warn("Cannot build listing URL, skipping segment")
			return
		}
		pageLog := log.WithFields(logrus.Fields{"page": page, "url": pageURL})

		links, err := c.fetchListing(ctx, pageURL)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// A dead listing page ends the segment: beyond-the-end pages
			// on most sites answer 404 rather than an empty listing.
			pageLog.WithError(err).Warn("Listing fetch failed, ending pagination")
			c.countError(err)
			return
		}
		c.pages.Add(1)
		c.metrics.IncPageFetched(c.siteKey)

		if len(links) == 0 {
			pageLog.Debug("No product links, ending pagination")
			return
		}

		fresh := c.dispatchable(links)
		pageLog.WithFields(logrus.Fields{
			"links": len(links),
			"new":   len(fresh),
		}).Info("Listing page collected")

		var wg sync.WaitGroup
		for _, link := range fresh {
			wg.Add(1)
			go func(canonicalURL string) {
				defer wg.Done()
				c.processProduct(ctx, canonicalURL, category, style, counter)
			}(link)
		}
		wg.Wait()

		if page < maxPages {
			select {
			case <-time.After(pageDelay):
			case <-ctx.Done():
				return
			}
		}
	}
	log.WithField("max_pages", maxPages).Debug("Page cap reached, ending pagination")
}

// dispatchable canonicalizes the page's links and keeps each URL's first
// sighting this run.
func (c *siteCrawler) dispatchable(links []string) []string {
	fresh := make([]string, 0, len(links))
	for _, link := range links {
		canonical, _, err := parse.ParseCanonical(link)
		if err != nil {
			c.log.WithField("url", link).WithError(err).Debug("Dropping unparseable product link")
			continue
		}
		if c.seen.Add(canonical) {
			fresh = append(fresh, canonical)
		}
	}
	return fresh
}

// fetchListing pulls one listing page under the global page-slot budget and
// returns its product links.
func (c *siteCrawler) fetchListing(ctx context.Context, pageURL string) ([]string, error) {
	res, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: listing HTML: %v", utils.ErrParsing, err)
	}
	return extract.ProductLinks(doc, res.FinalURL, c.siteCfg.Selectors["product_links"]), nil
}

// fetchPage performs one polite page fetch: global slot, robots (when the
// site respects them), per-host pacing.
func (c *siteCrawler) fetchPage(ctx context.Context, pageURL string) (*fetch.Result, error) {
	timeout := c.appCfg.SemaphoreAcquireTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	acqCtx, cancel := context.WithTimeout(ctx, timeout)
	err := c.pageSlots.Acquire(acqCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: waiting for page slot: %v", utils.ErrSemaphoreTimeout, err)
	}
	defer c.pageSlots.Release(1)

	start := time.Now()
	res, err := c.fetcher.Fetch(ctx, pageURL, fetch.Options{
		UserAgent:    config.GetEffectiveUserAgent(c.siteCfg, *c.appCfg),
		DelayPerHost: config.GetEffectiveDelayPerHost(c.siteCfg, *c.appCfg),
		CheckRobots:  config.GetEffectiveRespectRobots(c.siteCfg, *c.appCfg),
	})
	c.metrics.ObserveFetchDuration(time.Since(start))
	return res, err
}

// processProduct runs the full pipeline for one product listing: fetch,
// extract, validate, acquire images, upload, persist. Any failure is logged
// and recorded against the item; nothing escapes to the page.
func (c *siteCrawler) processProduct(ctx context.Context, canonicalURL string, category models.Category, style models.Style, counter *atomic.Int64) {
	id := models.ItemID(canonicalURL)
	log := c.log.WithFields(logrus.Fields{
		"item_id":  id,
		"url":      canonicalURL,
		"category": category,
		"style":    style,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("Recovered panic in product task")
			c.recordFailure(id, canonicalURL, category, style, fmt.Errorf("panic: %v", r))
		}
	}()

	if c.resume {
		if status, _, err := c.store.CheckItem(id); err == nil &&
			(status == models.ItemStatusSuccess || status == models.ItemStatusRejected) {
			log.WithField("status", status).Debug("Item settled in a previous run, skipping")
			return
		}
	}

	res, err := c.fetchPage(ctx, canonicalURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithError(err).Warn("Product fetch failed, skipping item")
		c.countError(err)
		c.recordFailure(id, canonicalURL, category, style, err)
		return
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		parseErr := fmt.Errorf("%w: product HTML: %v", utils.ErrParsing, err)
		log.WithError(parseErr).Warn("Product page unparseable, skipping item")
		c.countError(parseErr)
		c.recordFailure(id, canonicalURL, category, style, parseErr)
		return
	}

	item := c.buildItem(id, canonicalURL, doc, res, category, style)

	minImages := config.GetEffectiveMinImagesPerItem(c.siteCfg, *c.appCfg)
	if reasons := validate.Check(item, minImages); len(reasons) > 0 {
		log.WithField("reasons", reasons).Debug("Item rejected by validation")
		c.rejected.Add(1)
		c.metrics.IncItemRejected(c.siteKey)
		c.recordRejection(id, canonicalURL, category, style, reasons)
		return
	}

	saved := c.acquirer.Acquire(ctx, item, c.siteCfg, c.siteOutputDir)
	for _, s := range saved {
		item.Metadata.LocalImages = append(item.Metadata.LocalImages, s.LocalPath)
		c.metrics.IncImageSaved(c.siteKey)
	}

	c.uploadImages(ctx, item, saved, log)

	if err := c.writer.SaveItem(ctx, item, res.Body); err != nil {
		// Bounded retries already happened; the item still counts.
		log.WithError(err).Warn("Item persisted with skipped writes")
	}

	now := time.Now()
	entry := &models.ItemDBEntry{
		Status:       models.ItemStatusSuccess,
		Site:         c.siteKey,
		Category:     category,
		Style:        style,
		SourceURL:    canonicalURL,
		ImageCount:   len(saved),
		DeliveryURLs: item.Metadata.DeliveryURLs,
		ProcessedAt:  now,
		LastAttempt:  now,
	}
	if err := c.store.UpdateItem(id, entry); err != nil {
		log.WithError(err).Error("Item status update failed")
	}

	c.accepted.Add(1)
	counter.Add(1)
	c.metrics.IncItemAccepted(c.siteKey, category.String())
	log.WithField("images", len(saved)).Info("Item accepted")
}

// buildItem assembles the candidate from extracted fields plus crawl
// context. Category and style come from which listing was paginated, never
// from page content.
func (c *siteCrawler) buildItem(id, canonicalURL string, doc *goquery.Document, res *fetch.Result, category models.Category, style models.Style) *models.JewelryItem {
	fields := c.extractor.Extract(doc)
	imageURLs := extract.ImageURLs(doc, res.FinalURL, c.siteCfg.Selectors["images"])

	return &models.JewelryItem{
		ID:          id,
		Title:       fields.Title.Value,
		Description: fields.Description.Value,
		Material:    fields.Material.Value,
		Price:       extract.ParsePrice(fields.Price.Value),
		SourceURL:   canonicalURL,
		Images:      imageURLs,
		Category:    category,
		Style:       style,

		ShopName:      fields.ShopName.Value,
		Condition:     fields.Condition.Value,
		Era:           fields.Era.Value,
		ReviewSummary: fields.ReviewSummary.Value,
		ShippingNote:  fields.ShippingNote.Value,

		Metadata: models.ItemMetadata{
			Site:      c.siteKey,
			RunID:     c.runID,
			ScrapedAt: time.Now(),
		},
	}
}

// uploadImages pushes every saved image to the delivery service, collecting
// delivery URLs onto the item. A full rate window stops the remaining
// uploads for this item; other failures skip just the one image.
func (c *siteCrawler) uploadImages(ctx context.Context, item *models.JewelryItem, saved []models.SavedImage, log *logrus.Entry) {
	if c.uploader == nil || len(saved) == 0 {
		return
	}
	for _, s := range saved {
		absPath := filepath.Join(c.siteOutputDir, filepath.FromSlash(s.LocalPath))
		result, err := c.uploader.UploadImage(ctx, absPath, item.Category, item.Style)
		if err != nil {
			if errors.Is(err, utils.ErrUploadRateLimited) {
				log.Warn("Upload window full, deferring remaining images")
				c.metrics.IncUpload("rate_limited")
				return
			}
			log.WithField("image", s.LocalPath).WithError(err).Warn("Upload failed, keeping local copy")
			c.metrics.IncUpload("error")
			c.countError(err)
			continue
		}
		c.metrics.IncUpload("ok")
		item.Metadata.DeliveryURLs = append(item.Metadata.DeliveryURLs, result.URL)

		imgEntry := &models.ImageDBEntry{
			Status:       models.ImageStatusSuccess,
			ItemID:       item.ID,
			LocalPath:    s.LocalPath,
			DeliveryURL:  result.URL,
			ThumbnailURL: result.ThumbnailURL,
			LastAttempt:  time.Now(),
		}
		if err := c.store.UpdateImage(s.SourceURL, imgEntry); err != nil {
			log.WithError(err).Error("Image delivery-URL update failed")
		}
	}
}

// recordFailure writes a failure status record for an item.
func (c *siteCrawler) recordFailure(id, canonicalURL string, category models.Category, style models.Style, cause error) {
	entry := &models.ItemDBEntry{
		Status:      models.ItemStatusFailure,
		ErrorType:   utils.CategorizeError(cause),
		Site:        c.siteKey,
		Category:    category,
		Style:       style,
		SourceURL:   canonicalURL,
		LastAttempt: time.Now(),
	}
	if err := c.store.UpdateItem(id, entry); err != nil {
		c.log.WithField("item_id", id).WithError(err).Error("Item status update failed")
	}
}

// recordRejection writes a rejection status record. Rejection is a terminal
// state: the page was fine, the item just is not good enough.
func (c *siteCrawler) recordRejection(id, canonicalURL string, category models.Category, style models.Style, reasons []string) {
	entry := &models.ItemDBEntry{
		Status:      models.ItemStatusRejected,
		ErrorType:   "Validation:" + reasons[0],
		Site:        c.siteKey,
		Category:    category,
		Style:       style,
		SourceURL:   canonicalURL,
		LastAttempt: time.Now(),
	}
	if err := c.store.UpdateItem(id, entry); err != nil {
		c.log.WithField("item_id", id).WithError(err).Error("Item status update failed")
	}
}

// countError feeds the error category counter.
func (c *siteCrawler) countError(err error) {
	c.metrics.IncError(utils.CategorizeError(err))
}
