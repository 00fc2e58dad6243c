package models

import "time"

// ItemDBEntry is the status record stored per item id in the item store.
type ItemDBEntry struct {
	Status       ItemStatus `json:"status"`
	ErrorType    string     `json:"error_type,omitempty"`
	Site         string     `json:"site,omitempty"`
	Category     Category   `json:"category,omitempty"`
	Style        Style      `json:"style,omitempty"`
	SourceURL    string     `json:"source_url,omitempty"`
	ImageCount   int        `json:"image_count,omitempty"`
	DeliveryURLs []string   `json:"delivery_urls,omitempty"`
	ProcessedAt  time.Time  `json:"processed_at,omitempty"`
	LastAttempt  time.Time  `json:"last_attempt,omitempty"`
}

// ImageDBEntry is the status record stored per image URL.
type ImageDBEntry struct {
	Status       ImageStatus `json:"status"`
	ErrorType    string      `json:"error_type,omitempty"`
	ItemID       string      `json:"item_id,omitempty"`
	LocalPath    string      `json:"local_path,omitempty"`
	DeliveryURL  string      `json:"delivery_url,omitempty"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
	LastAttempt  time.Time   `json:"last_attempt,omitempty"`
}
