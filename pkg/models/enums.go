package models

import "fmt"

// Category is the closed set of product categories the pipeline crawls.
// Categories come from crawl context (which listing was paginated), never
// from page content.
type Category string

const (
	CategoryRing       Category = "ring"
	CategoryNecklace   Category = "necklace"
	CategoryPendant    Category = "pendant"
	CategoryBracelet   Category = "bracelet"
	CategoryEarring    Category = "earring"
	CategoryWristwatch Category = "wristwatch"
)

// AllCategories returns every valid category in declaration order.
func AllCategories() []Category {
	return []Category{
		CategoryRing,
		CategoryNecklace,
		CategoryPendant,
		CategoryBracelet,
		CategoryEarring,
		CategoryWristwatch,
	}
}

// String implements fmt.Stringer for logging
func (c Category) String() string {
	if c == "" {
		return "unset"
	}
	return string(c)
}

// IsValid returns true if the category is a known value
func (c Category) IsValid() bool {
	switch c {
	case CategoryRing, CategoryNecklace, CategoryPendant,
		CategoryBracelet, CategoryEarring, CategoryWristwatch:
		return true
	}
	return false
}

// ParseCategory converts a string into a Category, erroring on unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Style is the closed set of jewelry styles used to slice each category.
type Style string

const (
	StyleFashion  Style = "fashion"
	StyleHandmade Style = "handmade"
	StyleVintage  Style = "vintage"
	StyleAntique  Style = "antique"
)

// AllStyles returns every valid style in declaration order.
func AllStyles() []Style {
	return []Style{StyleFashion, StyleHandmade, StyleVintage, StyleAntique}
}

// String implements fmt.Stringer for logging
func (s Style) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the style is a known value
func (s Style) IsValid() bool {
	switch s {
	case StyleFashion, StyleHandmade, StyleVintage, StyleAntique:
		return true
	}
	return false
}

// ParseStyle converts a string into a Style, erroring on unknown values.
func ParseStyle(s string) (Style, error) {
	st := Style(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown style %q", s)
	}
	return st, nil
}
