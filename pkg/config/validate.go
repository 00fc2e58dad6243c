package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/utils"
)

// Core logical fields every site descriptor should map; sites missing one
// still crawl, but their candidates will fail validation.
var coreSelectorFields = []string{"title", "description", "material", "price", "images"}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// MaxConcurrentFetches
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = 20
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		c.MaxRequestsPerHost = 4
	}

	// MaxConcurrentImages
	if c.MaxConcurrentImages <= 0 {
		c.MaxConcurrentImages = 8
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './jewelry_data'")
		c.OutputBaseDir = "./jewelry_data"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './scraper_state'")
		c.StateDir = "./scraper_state"
	}

	// StorageBackend
	switch c.StorageBackend {
	case "":
		c.StorageBackend = "local"
	case "local":
	case "gcs":
		if c.GCSBucket == "" {
			return warnings, fmt.Errorf("%w: storage_backend 'gcs' requires gcs_bucket", utils.ErrConfigValidation)
		}
	default:
		return warnings, fmt.Errorf("%w: unknown storage_backend %q (want local or gcs)", utils.ErrConfigValidation, c.StorageBackend)
	}

	// PageDelay
	if c.PageDelay < 0 {
		warnings = append(warnings, "page_delay cannot be negative, defaulting to 2s")
		c.PageDelay = 0
	}
	if c.PageDelay == 0 {
		c.PageDelay = 2 * time.Second
	}

	// MaxPages
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}

	// MinItemsPerCategory (0 = no quota)
	if c.MinItemsPerCategory < 0 {
		warnings = append(warnings, "min_items_per_category cannot be negative, disabling quota")
		c.MinItemsPerCategory = 0
	}

	// MinImagesPerItem
	if c.MinImagesPerItem <= 0 {
		c.MinImagesPerItem = 3
	}

	// MinImageResolution
	if c.MinImageResolution.Width <= 0 {
		c.MinImageResolution.Width = 800
	}
	if c.MinImageResolution.Height <= 0 {
		c.MinImageResolution.Height = 800
	}

	// ImageQualityEnhancement (sharpness factor; 1.0 disables)
	if c.ImageQualityEnhancement < 0 {
		warnings = append(warnings, "image_quality_enhancement cannot be negative, defaulting to 1.2")
		c.ImageQualityEnhancement = 0
	}
	if c.ImageQualityEnhancement == 0 {
		c.ImageQualityEnhancement = 1.2
	}

	// JPEGQuality
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 95
	} else if c.JPEGQuality > 100 {
		warnings = append(warnings, "jpeg_quality capped at 100")
		c.JPEGQuality = 100
	}

	// MaxImageSizeBytes
	if c.MaxImageSizeBytes < 0 {
		warnings = append(warnings, "max_image_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxImageSizeBytes = 0
	}

	// RespectRobots defaults to true
	if c.RespectRobots == nil {
		respect := true
		c.RespectRobots = &respect
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// Persistence retry policy
	if c.PersistRetries < 0 {
		warnings = append(warnings, "persist_retries cannot be negative, setting to 0")
		c.PersistRetries = 0
	}
	if c.PersistRetries == 0 && c.PersistRetryDelay == 0 {
		c.PersistRetries = 3
	}
	if c.PersistRetryDelay <= 0 {
		c.PersistRetryDelay = 500 * time.Millisecond
	}

	// WatchInterval
	if c.WatchInterval <= 0 {
		c.WatchInterval = 6 * time.Hour
	}

	// Upload settings
	c.validateUploadSettings(&warnings)

	// Webhook settings
	if c.Webhook.Addr == "" {
		c.Webhook.Addr = ":8085"
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateUploadSettings applies defaults to the upload client settings.
func (c *AppConfig) validateUploadSettings(warnings *[]string) {
	u := &c.Upload
	if u.RateLimitPerHour <= 0 {
		u.RateLimitPerHour = 500
	}
	if u.Folder == "" {
		u.Folder = "jewelry"
	}
	if u.Timeout <= 0 {
		u.Timeout = 120 * time.Second
	}
	if u.Enabled && u.Endpoint == "" {
		*warnings = append(*warnings,
			"upload.enabled is true but upload.endpoint is empty. Disabling uploads.")
		u.Enabled = false
	}
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 60 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: BaseURL
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: site needs base_url", utils.ErrConfigValidation)
	}
	parsed, parseErr := url.ParseRequestURI(c.BaseURL)
	if parseErr != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: site base_url %q is not an absolute URL", utils.ErrConfigValidation, c.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: site base_url %q must be http or https", utils.ErrConfigValidation, c.BaseURL)
	}

	// Required: ListingURLTemplate with a page placeholder
	if c.ListingURLTemplate == "" {
		return nil, fmt.Errorf("%w: site needs listing_url_template", utils.ErrConfigValidation)
	}
	if !strings.Contains(c.ListingURLTemplate, "{page}") {
		return nil, fmt.Errorf("%w: listing_url_template must contain {page}", utils.ErrConfigValidation)
	}
	if !strings.Contains(c.ListingURLTemplate, "{base}") &&
		!strings.HasPrefix(c.ListingURLTemplate, "http") {
		return nil, fmt.Errorf("%w: listing_url_template must contain {base} or be absolute", utils.ErrConfigValidation)
	}

	// Required: selectors, with product_links for pagination
	if len(c.Selectors) == 0 {
		return nil, fmt.Errorf("%w: site needs selectors", utils.ErrConfigValidation)
	}
	if c.Selectors["product_links"] == "" {
		return nil, fmt.Errorf("%w: site needs a product_links selector", utils.ErrConfigValidation)
	}
	for _, field := range coreSelectorFields {
		if c.Selectors[field] == "" {
			warnings = append(warnings, fmt.Sprintf(
				"site has no %q selector; its candidates will be rejected by validation", field))
		}
	}

	// Required: at least one crawlable category
	if len(c.CategoryPaths) == 0 {
		return nil, fmt.Errorf("%w: site needs category_paths", utils.ErrConfigValidation)
	}
	for raw := range c.CategoryPaths {
		if _, catErr := models.ParseCategory(raw); catErr != nil {
			return nil, fmt.Errorf("%w: category_paths key %q: %v", utils.ErrConfigValidation, raw, catErr)
		}
	}
	for raw := range c.StyleKeywords {
		if _, styleErr := models.ParseStyle(raw); styleErr != nil {
			return nil, fmt.Errorf("%w: style_keywords key %q: %v", utils.ErrConfigValidation, raw, styleErr)
		}
	}
	for _, raw := range c.Categories {
		if _, catErr := models.ParseCategory(raw); catErr != nil {
			return nil, fmt.Errorf("%w: categories entry %q: %v", utils.ErrConfigValidation, raw, catErr)
		}
	}
	for _, raw := range c.Styles {
		if _, styleErr := models.ParseStyle(raw); styleErr != nil {
			return nil, fmt.Errorf("%w: styles entry %q: %v", utils.ErrConfigValidation, raw, styleErr)
		}
	}

	// MaxPages override
	if c.MaxPages != nil && *c.MaxPages <= 0 {
		warnings = append(warnings, "site max_pages must be > 0, ignoring override")
		c.MaxPages = nil
	}

	// MinImagesPerItem override
	if c.MinImagesPerItem != nil && *c.MinImagesPerItem < 0 {
		warnings = append(warnings, "site min_images_per_item cannot be negative, ignoring override")
		c.MinImagesPerItem = nil
	}

	// MaxImageSizeBytes override
	if c.MaxImageSizeBytes != nil && *c.MaxImageSizeBytes < 0 {
		warnings = append(warnings, "site max_image_size_bytes cannot be negative, setting to 0 (unlimited override)")
		zero := int64(0)
		c.MaxImageSizeBytes = &zero
	}

	return warnings, nil
}
