// Package orchestrate runs the crawl: it owns the shared politeness
// machinery (HTTP client, robots cache, per-host limits, global slots) and
// drives one siteCrawler per configured site in parallel. Sites are
// isolated from each other; a panic or dead store on one never stops the
// rest.
package orchestrate

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/extract"
	"jewelry-scraper/pkg/fetch"
	"jewelry-scraper/pkg/images"
	"jewelry-scraper/pkg/metrics"
	"jewelry-scraper/pkg/persist"
	"jewelry-scraper/pkg/storage"
	"jewelry-scraper/pkg/upload"
	"jewelry-scraper/pkg/utils"
)

// SiteResult contains the outcome of crawling a single site.
type SiteResult struct {
	SiteKey       string
	Success       bool
	Error         error
	ItemsAccepted int64
	ItemsRejected int64
	PagesFetched  int64
	Duration      time.Duration
}

// RunSummary aggregates one full run across all sites.
type RunSummary struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Sites    []SiteResult
}

// Orchestrator manages parallel crawling of multiple sites over shared
// resources. One fetcher (and so one robots cache and one per-host pacing
// table) serves every site; the page and image slot budgets are global to
// the process, not per site.
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Logger
	siteKeys []string
	resume   bool

	fetcher    *fetch.Fetcher
	pageSlots  *semaphore.Weighted
	imageSlots *semaphore.Weighted
	uploader   *upload.Client
	metrics    *metrics.Metrics

	// One GCS client per run, created on first use. Only set with the
	// gcs storage backend.
	gcsMu     sync.Mutex
	gcsClient *gcs.Client
}

// New creates an orchestrator for the given sites. metrics may be nil when
// nothing exports them.
func New(appCfg *config.AppConfig, siteKeys []string, resume bool, logger *logrus.Logger, m *metrics.Metrics) *Orchestrator {
	entry := logrus.NewEntry(logger)

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, logger)
	limiter := fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, entry)
	robots := fetch.NewRobotsHandler(httpClient, limiter, appCfg, entry)
	hosts := fetch.NewHostLimiter(appCfg.MaxRequestsPerHost, entry)
	fetcher := fetch.NewFetcher(httpClient, robots, hosts, limiter, appCfg, logger)

	pageBudget := appCfg.MaxConcurrentFetches
	if pageBudget <= 0 {
		pageBudget = 20
	}
	imageBudget := appCfg.MaxConcurrentImages
	if imageBudget <= 0 {
		imageBudget = 8
	}

	// The uploader is shared because the hourly rate window is per
	// delivery service, not per site.
	var uploader *upload.Client
	if appCfg.Upload.Enabled {
		uploader = upload.New(appCfg.Upload, nil, logger)
	}

	return &Orchestrator{
		appCfg:     appCfg,
		log:        logger,
		siteKeys:   siteKeys,
		resume:     resume,
		fetcher:    fetcher,
		pageSlots:  semaphore.NewWeighted(pageBudget),
		imageSlots: semaphore.NewWeighted(imageBudget),
		uploader:   uploader,
		metrics:    m,
	}
}

// Run crawls all sites in parallel and blocks until every site settles.
// Cancelling ctx stops page turns and task dispatch; in-flight tasks finish
// and partial aggregates are still flushed.
func (o *Orchestrator) Run(ctx context.Context) *RunSummary {
	runID := uuid.NewString()
	started := time.Now()
	log := o.log.WithField("run_id", runID)

	if o.appCfg.GlobalCrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.appCfg.GlobalCrawlTimeout)
		defer cancel()
	}
	defer o.closeGCSClient()

	log.Infof("Starting parallel crawl of %d sites: %v", len(o.siteKeys), o.siteKeys)

	// Slot per site; the page barrier inside each crawler orders all other
	// writes, so no mutex is needed here.
	results := make([]SiteResult, len(o.siteKeys))
	var wg sync.WaitGroup
	for i, siteKey := range o.siteKeys {
		wg.Add(1)
		go func(slot int, key string) {
			defer wg.Done()
			results[slot] = o.crawlSite(ctx, runID, key, log)
		}(i, siteKey)
	}
	wg.Wait()

	summary := &RunSummary{
		RunID:    runID,
		Started:  started,
		Duration: time.Since(started),
		Sites:    results,
	}
	o.logSummary(log, summary)
	return summary
}

// crawlSite builds the per-site machinery (state store, blob store,
// persister, image acquirer, extractor) and runs the site to completion.
func (o *Orchestrator) crawlSite(ctx context.Context, runID, siteKey string, runLog *logrus.Entry) (result SiteResult) {
	started := time.Now()
	result.SiteKey = siteKey
	log := runLog.WithField("site", siteKey)

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("Recovered panic in site crawl")
			result.Success = false
			result.Error = fmt.Errorf("panic in site crawl: %v", r)
			result.Duration = time.Since(started)
		}
	}()

	siteCfg, exists := o.appCfg.Sites[siteKey]
	if !exists {
		result.Error = fmt.Errorf("site %q not found in configuration", siteKey)
		result.Duration = time.Since(started)
		log.Error("Site not found in configuration")
		return result
	}

	siteCtx, siteCancel := context.WithCancel(ctx)
	defer siteCancel()

	store, err := storage.NewBadgerStore(o.appCfg.StateDir, siteKey, o.resume, log)
	if err != nil {
		result.Error = fmt.Errorf("opening state store for %q: %w", siteKey, err)
		result.Duration = time.Since(started)
		log.WithError(err).Error("Failed to open state store")
		return result
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("State store close failed")
		}
	}()
	go store.RunGC(siteCtx, 5*time.Minute)

	siteOutputDir := filepath.Join(o.appCfg.OutputBaseDir, utils.SanitizeFilename(siteKey))
	blobs, err := o.blobStore(siteCtx, siteKey, siteOutputDir)
	if err != nil {
		result.Error = fmt.Errorf("opening blob store for %q: %w", siteKey, err)
		result.Duration = time.Since(started)
		log.WithError(err).Error("Failed to open blob store")
		return result
	}

	c := &siteCrawler{
		appCfg:        o.appCfg,
		siteCfg:       siteCfg,
		siteKey:       siteKey,
		runID:         runID,
		resume:        o.resume,
		fetcher:       o.fetcher,
		pageSlots:     o.pageSlots,
		store:         store,
		writer:        persist.NewWriter(blobs, o.appCfg, runID, siteKey, o.log),
		acquirer:      images.NewAcquirer(o.fetcher, store, o.imageSlots, o.appCfg, o.log),
		uploader:      o.uploader,
		extractor:     extract.New(siteCfg.Selectors, log),
		seen:          NewSeenSet(store, log),
		metrics:       o.metrics,
		log:           log,
		siteOutputDir: siteOutputDir,
	}

	crawlErr := c.run(siteCtx)

	// Flush survives cancellation: a stopped run still writes what it has.
	if err := c.writer.Flush(context.Background()); err != nil {
		log.WithError(err).Error("Aggregate flush failed")
		if crawlErr == nil {
			crawlErr = err
		}
	}
	seenLog := filepath.Join(siteOutputDir, "seen_urls.log")
	if err := store.WriteSeenLog(seenLog); err != nil {
		log.WithError(err).Warn("Seen-URL log write failed")
	}

	result.ItemsAccepted = c.accepted.Load()
	result.ItemsRejected = c.rejected.Load()
	result.PagesFetched = c.pages.Load()
	result.Duration = time.Since(started)
	if crawlErr != nil {
		result.Error = crawlErr
		log.WithError(crawlErr).Error("Site crawl failed")
	} else {
		result.Success = true
		log.WithFields(logrus.Fields{
			"accepted": result.ItemsAccepted,
			"rejected": result.ItemsRejected,
			"pages":    result.PagesFetched,
		}).Info("Site crawl completed")
	}
	return result
}

// blobStore selects the artifact backend for one site. Local runs write
// under the site's output directory; GCS runs share one bucket with a
// per-site key prefix.
func (o *Orchestrator) blobStore(ctx context.Context, siteKey, siteOutputDir string) (storage.BlobStore, error) {
	if o.appCfg.StorageBackend == "gcs" {
		client, err := o.sharedGCSClient(ctx)
		if err != nil {
			return nil, err
		}
		store, err := storage.NewGCSBlobStore(client, o.appCfg.GCSBucket)
		if err != nil {
			return nil, err
		}
		return storage.WithPrefix(store, utils.SanitizeFilename(siteKey)), nil
	}
	return storage.NewLocalBlobStore(siteOutputDir)
}

func (o *Orchestrator) sharedGCSClient(ctx context.Context) (*gcs.Client, error) {
	o.gcsMu.Lock()
	defer o.gcsMu.Unlock()
	if o.gcsClient != nil {
		return o.gcsClient, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	o.gcsClient = client
	return client, nil
}

func (o *Orchestrator) closeGCSClient() {
	o.gcsMu.Lock()
	defer o.gcsMu.Unlock()
	if o.gcsClient == nil {
		return
	}
	if err := o.gcsClient.Close(); err != nil {
		o.log.WithError(err).Warn("GCS client close failed")
	}
	o.gcsClient = nil
}

// logSummary logs the per-site and total outcome of a run.
func (o *Orchestrator) logSummary(log *logrus.Entry, summary *RunSummary) {
	log.Info("============================================")
	log.Infof("Crawl run completed in %v", summary.Duration)
	log.Info("Site Results:")

	var totalAccepted, totalRejected, totalPages int64
	successCount := 0
	failCount := 0

	for _, r := range summary.Sites {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalAccepted += r.ItemsAccepted
		totalRejected += r.ItemsRejected
		totalPages += r.PagesFetched

		log.Infof("  %s: %s - %d accepted, %d rejected, %d pages in %v",
			r.SiteKey, status, r.ItemsAccepted, r.ItemsRejected, r.PagesFetched, r.Duration)
		if r.Error != nil {
			log.Infof("    Error: %v", r.Error)
		}
	}

	log.Info("--------------------------------------------")
	log.Infof("Total: %d sites (%d success, %d failed), %d items accepted, %d rejected, %d pages fetched",
		len(summary.Sites), successCount, failCount, totalAccepted, totalRejected, totalPages)
	log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config.
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site %q not found; available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all configured site keys, sorted for stable
// output.
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
