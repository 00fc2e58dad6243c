// Package extract pulls structured jewelry listing data out of parsed HTML
// using per-site CSS selectors. Extraction is permissive: a field that does
// not match is recorded as absent, never as an error, so one broken selector
// degrades a single field instead of killing the item.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Field is one extracted value and whether its selector matched anything
// non-empty. Downstream validation decides what absence means; extraction
// itself never fails on a missing field.
type Field struct {
	Value string
	Found bool
}

// ExtractedFields holds everything pulled from a single product page. The
// first four fields feed the validator; the rest are opportunistic and kept
// only when the site exposes them.
type ExtractedFields struct {
	Title       Field
	Description Field
	Material    Field
	Price       Field // raw price text as displayed, e.g. "$1,249.00"

	ShopName      Field
	Condition     Field
	Era           Field
	ReviewSummary Field
	ShippingNote  Field
}

// Extractor applies one site's selector map to product documents.
type Extractor struct {
	selectors map[string]string
	log       *logrus.Entry
}

// New creates an Extractor for one site's selectors.
func New(selectors map[string]string, log *logrus.Entry) *Extractor {
	return &Extractor{selectors: selectors, log: log}
}

// Extract reads every configured field from doc. Fields whose selector is
// missing, matches nothing, or matches only whitespace come back with
// Found=false.
func (e *Extractor) Extract(doc *goquery.Document) ExtractedFields {
	fields := ExtractedFields{
		Title:         e.text(doc, "title"),
		Description:   e.text(doc, "description"),
		Material:      e.text(doc, "material"),
		Price:         e.text(doc, "price"),
		ShopName:      e.text(doc, "shop_name"),
		Condition:     e.text(doc, "condition"),
		Era:           e.text(doc, "era"),
		ReviewSummary: e.text(doc, "review_summary"),
		ShippingNote:  e.text(doc, "shipping_note"),
	}
	if !fields.Title.Found || !fields.Price.Found {
		e.log.WithFields(logrus.Fields{
			"title_found": fields.Title.Found,
			"price_found": fields.Price.Found,
		}).Debug("Core fields missing from product page")
	}
	return fields
}

// text evaluates one selector and returns its first match's text, collapsed
// to single spaces.
func (e *Extractor) text(doc *goquery.Document, key string) Field {
	selector, ok := e.selectors[key]
	if !ok || selector == "" {
		return Field{}
	}
	raw := doc.Find(selector).First().Text()
	value := collapseWhitespace(raw)
	if value == "" {
		return Field{}
	}
	return Field{Value: value, Found: true}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapseWhitespace trims a string and folds interior whitespace runs,
// which listing markup is full of, into single spaces.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
