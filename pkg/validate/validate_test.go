package validate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"jewelry-scraper/pkg/models"
)

// completeItem returns an item passing every check at minImages=3.
func completeItem(imageCount int) *models.JewelryItem {
	item := &models.JewelryItem{
		Title:       "Edwardian Pearl Pendant",
		Description: "A seed pearl pendant on a 15k gold chain.",
		Material:    "15k gold, seed pearl",
		Price:       640.00,
	}
	for i := 0; i < imageCount; i++ {
		item.Images = append(item.Images, fmt.Sprintf("https://cdn.example.net/img/pendant-%d.jpg", i))
	}
	return item
}

func TestCheck_CompleteItemAccepted(t *testing.T) {
	reasons := Check(completeItem(4), 3)
	assert.Empty(t, reasons)
}

func TestCheck_ExactlyMinimumImagesAccepted(t *testing.T) {
	reasons := Check(completeItem(3), 3)
	assert.Empty(t, reasons)
}

func TestCheck_ZeroPriceRejectedDespiteImages(t *testing.T) {
	// Plenty of images does not compensate for a missing price.
	item := completeItem(5)
	item.Price = 0

	reasons := Check(item, 3)
	assert.Equal(t, []string{"price missing or zero"}, reasons)
}

func TestCheck_TooFewImagesRejected(t *testing.T) {
	reasons := Check(completeItem(2), 3)
	assert.Equal(t, []string{"insufficient images: 2 < 3"}, reasons)
}

func TestCheck_MissingFieldsEachReported(t *testing.T) {
	item := &models.JewelryItem{}

	reasons := Check(item, 3)
	assert.Equal(t, []string{
		"missing title",
		"missing description",
		"missing material",
		"price missing or zero",
		"insufficient images: 0 < 3",
	}, reasons)
}

func TestCheck_NegativePriceRejected(t *testing.T) {
	item := completeItem(3)
	item.Price = -5

	reasons := Check(item, 3)
	assert.Contains(t, reasons, "price missing or zero")
}

func TestCheck_MinImagesZeroAllowsImageless(t *testing.T) {
	// Sites crawled with skip_images run the validator with a zero floor.
	reasons := Check(completeItem(0), 0)
	assert.Empty(t, reasons)
}
