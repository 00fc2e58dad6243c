package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"jewelry-scraper/pkg/models"
)

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}

func durPtr(d time.Duration) *time.Duration {
	return &d
}

func TestGetEffectivePageDelay(t *testing.T) {
	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected time.Duration
	}{
		{
			name:     "site override wins",
			siteCfg:  SiteConfig{PageDelay: durPtr(5 * time.Second)},
			appCfg:   AppConfig{PageDelay: 2 * time.Second},
			expected: 5 * time.Second,
		},
		{
			name:     "site nil uses global",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{PageDelay: 2 * time.Second},
			expected: 2 * time.Second,
		},
		{
			name:     "site zero override allowed",
			siteCfg:  SiteConfig{PageDelay: durPtr(0)},
			appCfg:   AppConfig{PageDelay: 2 * time.Second},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetEffectivePageDelay(tt.siteCfg, tt.appCfg)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGetEffectiveRespectRobots(t *testing.T) {
	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected bool
	}{
		{
			name:     "defaults to true when unset everywhere",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{},
			expected: true,
		},
		{
			name:     "site disabled overrides global",
			siteCfg:  SiteConfig{RespectRobots: boolPtr(false)},
			appCfg:   AppConfig{RespectRobots: boolPtr(true)},
			expected: false,
		},
		{
			name:     "global disabled used when site nil",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{RespectRobots: boolPtr(false)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetEffectiveRespectRobots(tt.siteCfg, tt.appCfg)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGetEffectiveMinImagesPerItem(t *testing.T) {
	site := SiteConfig{MinImagesPerItem: intPtr(5)}
	app := AppConfig{MinImagesPerItem: 3}
	assert.Equal(t, 5, GetEffectiveMinImagesPerItem(site, app))
	assert.Equal(t, 3, GetEffectiveMinImagesPerItem(SiteConfig{}, app))
}

func testSiteConfig() SiteConfig {
	return SiteConfig{
		BaseURL:            "https://shop.example.com",
		ListingURLTemplate: "{base}/c/{category_path}?style={style}&page={page}",
		Selectors: map[string]string{
			"title":         "h1.listing-title",
			"description":   "div.description",
			"material":      "span.material",
			"price":         "span.price",
			"images":        "img.carousel",
			"product_links": "a.listing-link",
		},
		CategoryPaths: map[string]string{
			"ring":     "rings",
			"necklace": "necklaces",
		},
		StyleKeywords: map[string][]string{
			"vintage":  {"vintage", "retro"},
			"handmade": {"handmade", "artisan"},
		},
	}
}

func TestBuildListingURL(t *testing.T) {
	site := testSiteConfig()

	got, err := site.BuildListingURL(models.CategoryRing, models.StyleVintage, 3)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/c/rings?style=vintage&page=3", got)
}

func TestBuildListingURL_StyleParamOverride(t *testing.T) {
	site := testSiteConfig()
	site.StyleParams = map[string]string{"vintage": "vtg"}

	got, err := site.BuildListingURL(models.CategoryRing, models.StyleVintage, 1)
	require.NoError(t, err)
	assert.Contains(t, got, "style=vtg")
}

func TestBuildListingURL_StylePathSegment(t *testing.T) {
	site := testSiteConfig()
	site.ListingURLTemplate = "{base}/{style_path}/{category_path}/p{page}"
	site.StylePaths = map[string]string{"handmade": "handmade-goods"}

	got, err := site.BuildListingURL(models.CategoryNecklace, models.StyleHandmade, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/handmade-goods/necklaces/p2", got)
}

func TestBuildListingURL_QueryEscapesStyleToken(t *testing.T) {
	site := testSiteConfig()
	site.StyleKeywords["handmade"] = []string{"hand made"}

	got, err := site.BuildListingURL(models.CategoryRing, models.StyleHandmade, 1)
	require.NoError(t, err)
	assert.Contains(t, got, "style=hand+made")
}

func TestBuildListingURL_UnknownCategory(t *testing.T) {
	site := testSiteConfig()

	_, err := site.BuildListingURL(models.CategoryWristwatch, models.StyleVintage, 1)
	assert.Error(t, err)
}

func TestCrawlCategories(t *testing.T) {
	site := testSiteConfig()

	cats := site.CrawlCategories()
	assert.ElementsMatch(t, []models.Category{models.CategoryRing, models.CategoryNecklace}, cats)

	site.Categories = []string{"ring"}
	assert.Equal(t, []models.Category{models.CategoryRing}, site.CrawlCategories())
}

func TestCrawlStyles(t *testing.T) {
	site := testSiteConfig()
	assert.Equal(t, models.AllStyles(), site.CrawlStyles())

	site.Styles = []string{"antique", "vintage"}
	assert.Equal(t, []models.Style{models.StyleAntique, models.StyleVintage}, site.CrawlStyles())
}

func TestAppConfigYAMLRoundTrip(t *testing.T) {
	raw := `
output_base_dir: /data/out
state_dir: /data/state
max_concurrent_fetches: 12
page_delay: 3s
min_images_per_item: 4
min_image_resolution:
  width: 1024
  height: 768
image_quality_enhancement: 1.5
upload:
  enabled: true
  endpoint: https://api.example.com/v1/upload
  rate_limit_per_hour: 250
sites:
  gemshop:
    base_url: https://shop.example.com
    listing_url_template: "{base}/c/{category_path}?style={style}&page={page}"
    selectors:
      title: h1
      product_links: a.listing-link
    category_paths:
      ring: rings
`
	var cfg AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, "/data/out", cfg.OutputBaseDir)
	assert.Equal(t, int64(12), cfg.MaxConcurrentFetches)
	assert.Equal(t, 3*time.Second, cfg.PageDelay)
	assert.Equal(t, 4, cfg.MinImagesPerItem)
	assert.Equal(t, Resolution{Width: 1024, Height: 768}, cfg.MinImageResolution)
	assert.InDelta(t, 1.5, cfg.ImageQualityEnhancement, 1e-9)
	assert.True(t, cfg.Upload.Enabled)
	assert.Equal(t, 250, cfg.Upload.RateLimitPerHour)
	require.Contains(t, cfg.Sites, "gemshop")
	assert.Equal(t, "https://shop.example.com", cfg.Sites["gemshop"].BaseURL)
}
