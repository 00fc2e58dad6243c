package models

// ItemStatus represents the processing status of an item record in the store
type ItemStatus string

const (
	ItemStatusUnset    ItemStatus = ""          // Zero value = unset/unknown
	ItemStatusPending  ItemStatus = "pending"   // Candidate dispatched but not finished
	ItemStatusSuccess  ItemStatus = "success"   // Accepted and persisted
	ItemStatusRejected ItemStatus = "rejected"  // Failed validation; silently dropped
	ItemStatusFailure  ItemStatus = "failure"   // Scrape or persistence failed
	ItemStatusNotFound ItemStatus = "not_found" // Item not in store
)

// String implements fmt.Stringer for logging
func (s ItemStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusSuccess, ItemStatusRejected, ItemStatusFailure:
		return true
	}
	return false
}

// ImageStatus represents the processing status of a single image
type ImageStatus string

const (
	ImageStatusUnset   ImageStatus = ""        // Zero value = unset/unknown
	ImageStatusPending ImageStatus = "pending" // Download queued
	ImageStatusSuccess ImageStatus = "success" // Downloaded and enhanced
	ImageStatusFailure ImageStatus = "failure" // Download or enhancement failed
	ImageStatusSkipped ImageStatus = "skipped" // Filtered before download (bad URL, over size cap)
)

// String implements fmt.Stringer for logging
func (s ImageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ImageStatus) IsValid() bool {
	switch s {
	case ImageStatusPending, ImageStatusSuccess, ImageStatusFailure, ImageStatusSkipped:
		return true
	}
	return false
}
