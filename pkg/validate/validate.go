// Package validate decides whether a scraped jewelry item is complete
// enough to keep. Every check runs even after the first failure so the
// rejection record names everything wrong with the item at once.
package validate

import (
	"fmt"

	"jewelry-scraper/pkg/models"
)

// Check returns the reasons item fails dataset quality rules, or an empty
// slice when the item is acceptable. minImages is the per-site effective
// floor for saved images.
func Check(item *models.JewelryItem, minImages int) []string {
	var reasons []string

	if item.Title == "" {
		reasons = append(reasons, "missing title")
	}
	if item.Description == "" {
		reasons = append(reasons, "missing description")
	}
	if item.Material == "" {
		reasons = append(reasons, "missing material")
	}
	if item.Price <= 0 {
		reasons = append(reasons, "price missing or zero")
	}
	if len(item.Images) < minImages {
		reasons = append(reasons, fmt.Sprintf("insufficient images: %d < %d", len(item.Images), minImages))
	}

	return reasons
}
