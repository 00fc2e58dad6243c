package models

import (
	"time"

	"jewelry-scraper/pkg/utils"
)

// JewelryItem is the central record of the pipeline: one product listing,
// built by the extractor from a fetched page plus crawl context, judged once
// by the validator, then consumed by image acquisition and persistence.
// Immutable after validation.
type JewelryItem struct {
	// ID is derived from the canonical source URL; the same listing always
	// yields the same id, across runs, which is what makes persistence
	// overwrites and cross-run dedup safe.
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Material    string  `json:"material"`
	// Price of zero means the page's price text was missing or unparseable;
	// such candidates are rejected by the validator, not here.
	Price     float64  `json:"price"`
	SourceURL string   `json:"source_url"`
	Images    []string `json:"images"`

	Category Category `json:"category"`
	Style    Style    `json:"style"`

	// Site-specific attributes, extracted opportunistically. Empty when the
	// site's descriptor has no selector for them.
	ShopName      string `json:"shop_name,omitempty"`
	Condition     string `json:"condition,omitempty"`
	Era           string `json:"era,omitempty"`
	ReviewSummary string `json:"review_summary,omitempty"`
	ShippingNote  string `json:"shipping_note,omitempty"`

	Metadata ItemMetadata `json:"metadata"`
}

// ItemMetadata is the free-form side channel carried with each item.
type ItemMetadata struct {
	Site         string    `json:"site"`
	RunID        string    `json:"run_id,omitempty"`
	ScrapedAt    time.Time `json:"scraped_at"`
	LocalImages  []string  `json:"local_images,omitempty"`
	DeliveryURLs []string  `json:"delivery_urls,omitempty"`
}

// ItemID derives the stable identifier for a canonical source URL.
func ItemID(canonicalURL string) string {
	return utils.CalculateStringSHA256(canonicalURL)
}

// SavedImage describes one image written to disk for an item.
type SavedImage struct {
	SourceURL string `json:"source_url"`
	LocalPath string `json:"local_path"`
	Index     int    `json:"index"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}
