package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jewelry-scraper/pkg/models"
)

// SiteConfig describes how to crawl one source site. Instances are built
// from YAML at process start and never mutated afterwards.
type SiteConfig struct {
	Name    string `yaml:"name,omitempty"` // display name; defaults to the site key
	BaseURL string `yaml:"base_url"`

	// ListingURLTemplate builds category listing URLs. Recognized
	// placeholders: {base}, {category_path}, {style}, {style_path}, {page}.
	// Each site reproduces its own path/query layout here, so no central
	// per-site branching exists anywhere in the orchestrator.
	ListingURLTemplate string `yaml:"listing_url_template"`

	// Selectors maps logical field names (title, description, material,
	// price, images, product_links, shop_name, condition, era,
	// review_summary, shipping_note) to CSS selector expressions.
	Selectors map[string]string `yaml:"selectors"`

	// CategoryPaths maps a category to the site's path or query fragment
	// for it. Categories absent from the map are not crawled on this site.
	CategoryPaths map[string]string `yaml:"category_paths"`

	// StyleKeywords maps a style to the keyword list the site associates
	// with it; the first keyword doubles as the default {style} URL token.
	StyleKeywords map[string][]string `yaml:"style_keywords,omitempty"`
	// StyleParams overrides the {style} query token per style.
	StyleParams map[string]string `yaml:"style_params,omitempty"`
	// StylePaths supplies {style_path} for sites that encode style as a
	// path segment instead of a query parameter.
	StylePaths map[string]string `yaml:"style_paths,omitempty"`

	// Categories/Styles restrict the crawl to a subset; empty means every
	// category with a configured path, and every style.
	Categories []string `yaml:"categories,omitempty"`
	Styles     []string `yaml:"styles,omitempty"`

	UserAgent    string        `yaml:"user_agent,omitempty"`
	DelayPerHost time.Duration `yaml:"delay_per_host,omitempty"`

	PageDelay           *time.Duration `yaml:"page_delay,omitempty"`
	MaxPages            *int           `yaml:"max_pages,omitempty"`
	MinItemsPerCategory *int           `yaml:"min_items_per_category,omitempty"`
	MinImagesPerItem    *int           `yaml:"min_images_per_item,omitempty"`
	RespectRobots       *bool          `yaml:"respect_robots,omitempty"`
	SkipImages          *bool          `yaml:"skip_images,omitempty"`
	MaxImageSizeBytes   *int64         `yaml:"max_image_size_bytes,omitempty"`
}

// Resolution is a width/height pair in pixels.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// UploadConfig configures the remote image-enhancement/delivery service.
type UploadConfig struct {
	Enabled          bool          `yaml:"enabled,omitempty"`
	Endpoint         string        `yaml:"endpoint,omitempty"`
	UploadPreset     string        `yaml:"upload_preset,omitempty"`
	Folder           string        `yaml:"folder,omitempty"`             // base folder, default "jewelry"
	RateLimitPerHour int           `yaml:"rate_limit_per_hour,omitempty"` // default 500
	Timeout          time.Duration `yaml:"timeout,omitempty"`
}

// WebhookConfig configures the callback endpoint served by the webhook
// subcommand.
type WebhookConfig struct {
	Addr          string `yaml:"addr,omitempty"` // default ":8085"
	Secret        string `yaml:"secret,omitempty"`
	EnableMetrics bool   `yaml:"enable_metrics,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent    string        `yaml:"default_user_agent,omitempty"` // empty = rotate the built-in pool
	DefaultDelayPerHost time.Duration `yaml:"default_delay_per_host,omitempty"`

	MaxConcurrentFetches int64 `yaml:"max_concurrent_fetches,omitempty"` // global in-flight cap, default 20
	MaxRequestsPerHost   int64 `yaml:"max_requests_per_host,omitempty"`  // per-host in-flight cap, default 4
	MaxConcurrentImages  int64 `yaml:"max_concurrent_images,omitempty"`  // image download cap, default 8

	OutputBaseDir  string `yaml:"output_base_dir"`
	StateDir       string `yaml:"state_dir"`
	StorageBackend string `yaml:"storage_backend,omitempty"` // "local" (default) or "gcs"
	GCSBucket      string `yaml:"gcs_bucket,omitempty"`

	PageDelay               time.Duration `yaml:"page_delay,omitempty"`                 // default 2s
	MaxPages                int           `yaml:"max_pages,omitempty"`                  // default 100
	MinItemsPerCategory     int           `yaml:"min_items_per_category,omitempty"`     // 0 = no quota
	MinImagesPerItem        int           `yaml:"min_images_per_item,omitempty"`        // default 3
	MinImageResolution      Resolution    `yaml:"min_image_resolution,omitempty"`       // default 800x800
	ImageQualityEnhancement float64       `yaml:"image_quality_enhancement,omitempty"`  // sharpness factor, default 1.2
	JPEGQuality             int           `yaml:"jpeg_quality,omitempty"`               // default 95
	SkipImages              bool          `yaml:"skip_images,omitempty"`
	MaxImageSizeBytes       int64         `yaml:"max_image_size_bytes,omitempty"` // 0 = unlimited

	RespectRobots *bool `yaml:"respect_robots,omitempty"` // default true

	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration `yaml:"global_crawl_timeout,omitempty"` // 0 = no timeout

	PersistRetries    int           `yaml:"persist_retries,omitempty"`     // default 3
	PersistRetryDelay time.Duration `yaml:"persist_retry_delay,omitempty"` // default 500ms

	WatchInterval time.Duration `yaml:"watch_interval,omitempty"` // default 6h

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Upload             UploadConfig     `yaml:"upload,omitempty"`
	Webhook            WebhookConfig    `yaml:"webhook,omitempty"`

	Sites map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// --- Listing URL construction (descriptor capability) ---

// BuildListingURL expands the site's listing template for one
// (category, style, page) combination. The category must have a configured
// path on this site.
func (c *SiteConfig) BuildListingURL(category models.Category, style models.Style, page int) (string, error) {
	categoryPath, ok := c.CategoryPaths[string(category)]
	if !ok {
		return "", fmt.Errorf("site has no path for category %q", category)
	}

	replacer := strings.NewReplacer(
		"{base}", strings.TrimRight(c.BaseURL, "/"),
		"{category_path}", categoryPath,
		"{style}", url.QueryEscape(c.styleToken(style)),
		"{style_path}", c.StylePaths[string(style)],
		"{page}", strconv.Itoa(page),
	)
	listingURL := replacer.Replace(c.ListingURLTemplate)

	if _, err := url.ParseRequestURI(listingURL); err != nil {
		return "", fmt.Errorf("template expanded to invalid URL %q: %w", listingURL, err)
	}
	return listingURL, nil
}

// styleToken picks the URL token for a style: explicit param override first,
// then the style's first keyword, then the style name itself.
func (c *SiteConfig) styleToken(style models.Style) string {
	if token, ok := c.StyleParams[string(style)]; ok && token != "" {
		return token
	}
	if keywords := c.StyleKeywords[string(style)]; len(keywords) > 0 && keywords[0] != "" {
		return keywords[0]
	}
	return string(style)
}

// CrawlCategories resolves the categories this site will crawl: the
// configured subset if present, otherwise every category with a path.
func (c *SiteConfig) CrawlCategories() []models.Category {
	var out []models.Category
	if len(c.Categories) > 0 {
		for _, raw := range c.Categories {
			if cat, err := models.ParseCategory(raw); err == nil {
				out = append(out, cat)
			}
		}
		return out
	}
	for _, cat := range models.AllCategories() {
		if _, ok := c.CategoryPaths[string(cat)]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// CrawlStyles resolves the styles this site will crawl: the configured
// subset if present, otherwise all styles.
func (c *SiteConfig) CrawlStyles() []models.Style {
	if len(c.Styles) == 0 {
		return models.AllStyles()
	}
	var out []models.Style
	for _, raw := range c.Styles {
		if style, err := models.ParseStyle(raw); err == nil {
			out = append(out, style)
		}
	}
	return out
}

// --- Effective value helpers (site overrides app default) ---

// GetEffectivePageDelay determines the effective inter-page delay
func GetEffectivePageDelay(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.PageDelay != nil {
		return *siteCfg.PageDelay
	}
	return appCfg.PageDelay
}

// GetEffectiveMaxPages determines the effective pagination safety bound
func GetEffectiveMaxPages(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MaxPages != nil {
		return *siteCfg.MaxPages
	}
	return appCfg.MaxPages
}

// GetEffectiveMinItemsPerCategory determines the per-category quota (0 = none)
func GetEffectiveMinItemsPerCategory(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MinItemsPerCategory != nil {
		return *siteCfg.MinItemsPerCategory
	}
	return appCfg.MinItemsPerCategory
}

// GetEffectiveMinImagesPerItem determines the validator's image floor
func GetEffectiveMinImagesPerItem(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MinImagesPerItem != nil {
		return *siteCfg.MinImagesPerItem
	}
	return appCfg.MinImagesPerItem
}

// GetEffectiveRespectRobots determines whether robots.txt is consulted
func GetEffectiveRespectRobots(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.RespectRobots != nil {
		return *siteCfg.RespectRobots
	}
	if appCfg.RespectRobots != nil {
		return *appCfg.RespectRobots
	}
	return true
}

// GetEffectiveSkipImages determines the effective skip setting
func GetEffectiveSkipImages(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.SkipImages != nil {
		return *siteCfg.SkipImages
	}
	return appCfg.SkipImages
}

// GetEffectiveMaxImageSize determines the effective max image size
func GetEffectiveMaxImageSize(siteCfg SiteConfig, appCfg AppConfig) int64 {
	if siteCfg.MaxImageSizeBytes != nil {
		return *siteCfg.MaxImageSizeBytes
	}
	return appCfg.MaxImageSizeBytes
}

// GetEffectiveUserAgent determines a fixed User-Agent, or empty to let the
// fetcher rotate its built-in pool.
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the politeness delay between requests
// to one host.
func GetEffectiveDelayPerHost(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.DelayPerHost > 0 {
		return siteCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}
