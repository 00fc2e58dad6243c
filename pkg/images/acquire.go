// Package images downloads and enhances product photos. Acquisition for one
// item fans out over its image URLs, bounded by a download semaphore shared
// across all items, and blocks until every download for the item has settled.
// A single failed image is logged, its partial file removed and its slot left
// empty; it never fails the item.
package images

import (
	"context"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/fetch"
	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/storage"
	"jewelry-scraper/pkg/utils"
)

// ImageDir is the subdirectory under a site's output dir holding image files.
const ImageDir = "images"

// Acquirer downloads an item's images and runs the enhancement pass on each.
type Acquirer struct {
	fetcher *fetch.Fetcher
	store   storage.ItemStore
	sem     *semaphore.Weighted // download slots, shared by every item
	cfg     *config.AppConfig
	log     *logrus.Entry
}

// NewAcquirer creates an Acquirer. Pass the run's shared download semaphore
// so every site draws from the same budget; nil sizes a fresh one from
// MaxConcurrentImages.
func NewAcquirer(fetcher *fetch.Fetcher, store storage.ItemStore, sem *semaphore.Weighted, cfg *config.AppConfig, logger *logrus.Logger) *Acquirer {
	if sem == nil {
		maxImages := cfg.MaxConcurrentImages
		if maxImages <= 0 {
			maxImages = 8
		}
		sem = semaphore.NewWeighted(maxImages)
	}
	return &Acquirer{
		fetcher: fetcher,
		store:   store,
		sem:     sem,
		cfg:     cfg,
		log:     logger.WithField("component", "images"),
	}
}

// imageTask carries everything one download goroutine needs.
type imageTask struct {
	index    int
	url      string
	itemID   string
	destPath string // absolute path of the target file
	relPath  string // path recorded in results and the image store
	opts     fetch.Options
}

// Acquire downloads every image URL on the item into
// <siteOutputDir>/images/<id>/<id>_<index>.jpg, enhancing each file in place.
// It returns the successfully saved images in index order. Acquire never
// returns an error: whatever could not be fetched or decoded is simply
// missing from the result, and the validator decides whether what remains
// is enough.
func (a *Acquirer) Acquire(ctx context.Context, item *models.JewelryItem, siteCfg config.SiteConfig, siteOutputDir string) []models.SavedImage {
	log := a.log.WithField("item_id", item.ID)

	if len(item.Images) == 0 {
		return nil
	}
	if config.GetEffectiveSkipImages(siteCfg, *a.cfg) {
		log.Debug("Image acquisition disabled for this site (skip_images)")
		return nil
	}

	itemDir := filepath.Join(siteOutputDir, ImageDir, item.ID)
	if err := os.MkdirAll(itemDir, 0755); err != nil {
		log.WithError(err).Error("Cannot create image directory, skipping image acquisition")
		return nil
	}

	opts := fetch.Options{
		UserAgent:    config.GetEffectiveUserAgent(siteCfg, *a.cfg),
		DelayPerHost: config.GetEffectiveDelayPerHost(siteCfg, *a.cfg),
		CheckRobots:  false, // checked once for the listing page, not per asset
		MaxBodyBytes: config.GetEffectiveMaxImageSize(siteCfg, *a.cfg),
		Referer:      item.SourceURL,
	}

	// Slot array keeps results in index order. Each goroutine writes only its
	// own index; wg.Wait orders those writes before the compaction below.
	slots := make([]*models.SavedImage, len(item.Images))
	var wg sync.WaitGroup
	for i, imgURL := range item.Images {
		filename := fmt.Sprintf("%s_%d.jpg", item.ID, i)
		task := imageTask{
			index:    i,
			url:      imgURL,
			itemID:   item.ID,
			destPath: filepath.Join(itemDir, filename),
			relPath:  path.Join(ImageDir, item.ID, filename),
			opts:     opts,
		}
		wg.Add(1)
		go a.fetchOne(ctx, task, slots, &wg)
	}
	wg.Wait()

	saved := make([]models.SavedImage, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			saved = append(saved, *s)
		}
	}
	log.WithFields(logrus.Fields{
		"requested": len(item.Images),
		"saved":     len(saved),
	}).Debug("Image acquisition finished")
	return saved
}

// fetchOne downloads, saves and enhances a single image. All bookkeeping
// (slot write, image store update, partial-file cleanup, panic recovery)
// happens in the deferred block so every exit path settles the task.
func (a *Acquirer) fetchOne(ctx context.Context, task imageTask, slots []*models.SavedImage, wg *sync.WaitGroup) {
	log := a.log.WithFields(logrus.Fields{
		"image_url":   task.url,
		"image_index": task.index,
	})

	var taskErr error
	var saved *models.SavedImage
	fileWritten := false

	defer func() {
		if r := recover(); r != nil {
			taskErr = fmt.Errorf("panic acquiring image %q: %v", task.url, r)
			saved = nil
			log.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("Recovered panic in image task")
		}

		now := time.Now()
		var entry models.ImageDBEntry
		if taskErr == nil && saved != nil {
			slots[task.index] = saved
			entry = models.ImageDBEntry{
				Status:      models.ImageStatusSuccess,
				ItemID:      task.itemID,
				LocalPath:   task.relPath,
				LastAttempt: now,
			}
		} else {
			if fileWritten {
				os.Remove(task.destPath)
			}
			entry = models.ImageDBEntry{
				Status:      models.ImageStatusFailure,
				ErrorType:   utils.CategorizeError(taskErr),
				ItemID:      task.itemID,
				LastAttempt: now,
			}
			if taskErr != nil {
				log.WithError(taskErr).Warn("Image acquisition failed")
			}
		}
		if updateErr := a.store.UpdateImage(task.url, &entry); updateErr != nil {
			log.WithError(updateErr).Error("Image status update failed")
		}
		wg.Done()
	}()

	// A previous run may have fetched this exact image; the deterministic
	// filename means its file, if still present, is already where this run
	// would put it.
	if status, prev, checkErr := a.store.CheckImage(task.url); checkErr == nil &&
		status == models.ImageStatusSuccess && prev != nil && prev.LocalPath != "" {
		if w, h, dimsErr := imageDims(task.destPath); dimsErr == nil {
			log.Debug("Reusing image from previous run")
			saved = &models.SavedImage{
				SourceURL: task.url,
				LocalPath: task.relPath,
				Index:     task.index,
				Width:     w,
				Height:    h,
			}
			return
		}
		log.Debug("Image store says success but file is unusable, re-downloading")
	}

	// The download slot covers only the network fetch; decode and resize
	// must not starve other downloads.
	if slotErr := a.acquireSlot(ctx); slotErr != nil {
		taskErr = slotErr
		return
	}
	res, fetchErr := a.fetcher.Fetch(ctx, task.url, task.opts)
	a.sem.Release(1)
	if fetchErr != nil {
		taskErr = fmt.Errorf("image fetch failed for %q: %w", task.url, fetchErr)
		return
	}
	if strings.HasPrefix(res.ContentType, "text/") {
		taskErr = fmt.Errorf("%w: %q served %s instead of an image", utils.ErrImageDecode, task.url, res.ContentType)
		return
	}

	if writeErr := os.WriteFile(task.destPath, res.Body, 0644); writeErr != nil {
		taskErr = fmt.Errorf("%w: writing image file %q: %w", utils.ErrFilesystem, task.destPath, writeErr)
		return
	}
	fileWritten = true

	w, h, enhanceErr := Enhance(task.destPath, a.cfg.MinImageResolution, a.cfg.ImageQualityEnhancement, a.cfg.JPEGQuality)
	if enhanceErr != nil {
		taskErr = enhanceErr
		return
	}

	saved = &models.SavedImage{
		SourceURL: task.url,
		LocalPath: task.relPath,
		Index:     task.index,
		Width:     w,
		Height:    h,
	}
}

// acquireSlot takes one download slot, honoring the configured acquire
// timeout. Context cancellation is reported as such, not as a timeout.
func (a *Acquirer) acquireSlot(ctx context.Context) error {
	timeout := a.cfg.SemaphoreAcquireTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	acqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.sem.Acquire(acqCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: waiting for image download slot: %v", utils.ErrSemaphoreTimeout, err)
	}
	return nil
}

// imageDims reads the dimensions of an image file without decoding pixels.
func imageDims(filePath string) (int, int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", utils.ErrImageDecode, err)
	}
	return cfg.Width, cfg.Height, nil
}
