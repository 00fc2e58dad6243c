package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var nonPriceChars = regexp.MustCompile(`[^\d.]`)

// ParsePrice converts displayed price text to a float. Currency symbols,
// thousands separators, and surrounding text are stripped; whatever digits
// remain are parsed. Unparseable input yields 0.0, which the validator later
// rejects, so a weird price format costs one item rather than a crash.
func ParsePrice(raw string) float64 {
	cleaned := nonPriceChars.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0.0
	}

	// "1.234.56" style leftovers from thousands dots: keep the last dot as
	// the decimal point, drop the rest.
	if strings.Count(cleaned, ".") > 1 {
		lastDot := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:lastDot], ".", "") + cleaned[lastDot:]
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value < 0 {
		return 0.0
	}
	return value
}
