package extract

import (
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSelectors() map[string]string {
	return map[string]string{
		"title":       "h1.product-title",
		"description": "div.product-description",
		"material":    "span.material",
		"price":       "span.price",
		"shop_name":   "a.shop-name",
		"condition":   "span.condition",
	}
}

func testDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestExtract_AllConfiguredFields(t *testing.T) {
	html := `<html><body>
		<h1 class="product-title">Victorian Gold Locket</h1>
		<div class="product-description">An ornate 9k gold locket, c. 1890.</div>
		<span class="material">9k gold</span>
		<span class="price">$1,249.00</span>
		<a class="shop-name">Hargrave Antiques</a>
		<span class="condition">Excellent</span>
	</body></html>`

	fields := New(testSelectors(), testEntry()).Extract(testDoc(t, html))

	assert.Equal(t, Field{Value: "Victorian Gold Locket", Found: true}, fields.Title)
	assert.Equal(t, Field{Value: "An ornate 9k gold locket, c. 1890.", Found: true}, fields.Description)
	assert.Equal(t, Field{Value: "9k gold", Found: true}, fields.Material)
	assert.Equal(t, Field{Value: "$1,249.00", Found: true}, fields.Price)
	assert.Equal(t, Field{Value: "Hargrave Antiques", Found: true}, fields.ShopName)
	assert.Equal(t, Field{Value: "Excellent", Found: true}, fields.Condition)
}

func TestExtract_MissingFieldIsAbsentNotFatal(t *testing.T) {
	// No description element at all: the field comes back absent while the
	// others extract normally.
	html := `<html><body>
		<h1 class="product-title">Art Deco Ring</h1>
		<span class="material">platinum</span>
		<span class="price">$520</span>
	</body></html>`

	fields := New(testSelectors(), testEntry()).Extract(testDoc(t, html))

	assert.False(t, fields.Description.Found)
	assert.Empty(t, fields.Description.Value)
	assert.True(t, fields.Title.Found)
	assert.True(t, fields.Material.Found)
	assert.True(t, fields.Price.Found)
}

func TestExtract_WhitespaceOnlyMatchIsAbsent(t *testing.T) {
	html := `<html><body><h1 class="product-title">
	</h1></body></html>`

	fields := New(testSelectors(), testEntry()).Extract(testDoc(t, html))
	assert.False(t, fields.Title.Found)
}

func TestExtract_UnconfiguredSelectorIsAbsent(t *testing.T) {
	html := `<html><body><span class="era">Victorian</span></body></html>`

	// "era" has no selector configured, so even though the page has the
	// data, the field is absent.
	fields := New(testSelectors(), testEntry()).Extract(testDoc(t, html))
	assert.False(t, fields.Era.Found)
}

func TestExtract_CollapsesInteriorWhitespace(t *testing.T) {
	html := `<html><body><div class="product-description">
		hand   engraved
		sterling	silver
	</div></body></html>`

	fields := New(testSelectors(), testEntry()).Extract(testDoc(t, html))
	assert.Equal(t, "hand engraved sterling silver", fields.Description.Value)
}

func TestExtract_FirstMatchWins(t *testing.T) {
	html := `<html><body>
		<span class="price">$100</span>
		<span class="price">$200</span>
	</body></html>`

	fields := New(testSelectors(), testEntry()).Extract(testDoc(t, html))
	assert.Equal(t, "$100", fields.Price.Value)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected float64
	}{
		{"plain dollars", "$1,249.00", 1249.00},
		{"euro with space", "€ 89", 89},
		{"embedded in text", "Price: 45.50 USD", 45.50},
		{"integer only", "520", 520},
		{"thousands dots", "1.234.56", 1234.56},
		{"no digits", "Contact us", 0},
		{"empty", "", 0},
		{"whitespace", "   ", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ParsePrice(tt.raw), 1e-9)
		})
	}
}

func TestProductLinks_ResolvesAndFilters(t *testing.T) {
	html := `<html><body>
		<a class="listing-link" href="/listing/101-gold-ring">one</a>
		<a class="listing-link" href="https://shop.example.com/listing/102-silver-band">two</a>
		<a class="listing-link" href="https://other-site.example.net/listing/999">offsite</a>
		<a class="listing-link" href="/listing/101-gold-ring">duplicate</a>
		<a class="listing-link">no href</a>
	</body></html>`

	pageURL, _ := url.Parse("https://shop.example.com/c/rings?page=1")
	links := ProductLinks(testDoc(t, html), pageURL, "a.listing-link")

	assert.Equal(t, []string{
		"https://shop.example.com/listing/101-gold-ring",
		"https://shop.example.com/listing/102-silver-band",
	}, links)
}

func TestProductLinks_NoMatchesMeansEmpty(t *testing.T) {
	pageURL, _ := url.Parse("https://shop.example.com/c/rings?page=40")
	links := ProductLinks(testDoc(t, "<html><body><p>No results.</p></body></html>"), pageURL, "a.listing-link")
	assert.Empty(t, links)
}

func TestImageURLs_LazyLoadFallbacks(t *testing.T) {
	html := `<html><body>
		<img class="carousel" src="https://cdn.example.net/img/locket-1.jpg">
		<img class="carousel" src="data:image/gif;base64,R0lGOD" data-src="/img/locket-2.jpg">
		<img class="carousel" data-lazy-src="https://cdn.example.net/img/locket-3.jpg">
		<img class="carousel" data-srcset="https://cdn.example.net/img/locket-4-400.jpg 400w, https://cdn.example.net/img/locket-4-800.jpg 800w">
		<img class="carousel" src="https://cdn.example.net/img/locket-1.jpg">
	</body></html>`

	pageURL, _ := url.Parse("https://shop.example.com/listing/101")
	urls := ImageURLs(testDoc(t, html), pageURL, "img.carousel")

	assert.Equal(t, []string{
		"https://cdn.example.net/img/locket-1.jpg",
		"https://shop.example.com/img/locket-2.jpg",
		"https://cdn.example.net/img/locket-3.jpg",
		"https://cdn.example.net/img/locket-4-400.jpg",
	}, urls)
}

func TestImageURLs_OffHostCDNKept(t *testing.T) {
	html := `<img class="carousel" src="https://i.etsystatic.com/12345/r/il/abc.jpg">`
	pageURL, _ := url.Parse("https://www.etsy.com/listing/101")

	urls := ImageURLs(testDoc(t, html), pageURL, "img.carousel")
	assert.Equal(t, []string{"https://i.etsystatic.com/12345/r/il/abc.jpg"}, urls)
}
