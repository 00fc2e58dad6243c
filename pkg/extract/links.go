package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ProductLinks collects product page links matched by selector on a listing
// page. Relative hrefs are resolved against pageURL; only http(s) links on
// the listing's own host survive, deduplicated in document order. An empty
// result is the pagination stop signal, so no error is ever returned.
func ProductLinks(doc *goquery.Document, pageURL *url.URL, selector string) []string {
	var links []string
	seen := make(map[string]struct{})

	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved := resolve(pageURL, href)
		if resolved == nil {
			return
		}
		if !strings.EqualFold(resolved.Hostname(), pageURL.Hostname()) {
			return
		}
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// lazyImageAttrs are tried in order when src is missing or useless. Shop
// themes love lazy loading; the real URL hides in one of these.
var lazyImageAttrs = []string{"src", "data-src", "data-lazy-src", "data-original", "data-srcset"}

// ImageURLs collects product image URLs matched by selector, resolved
// against pageURL and deduplicated in document order. Unlike product links,
// images may live on any host since shops typically serve them from a CDN.
func ImageURLs(doc *goquery.Document, pageURL *url.URL, selector string) []string {
	var urls []string
	seen := make(map[string]struct{})

	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		raw := imageAttr(sel)
		if raw == "" {
			return
		}
		resolved := resolve(pageURL, raw)
		if resolved == nil {
			return
		}
		imgURL := resolved.String()
		if _, dup := seen[imgURL]; dup {
			return
		}
		seen[imgURL] = struct{}{}
		urls = append(urls, imgURL)
	})
	return urls
}

// imageAttr returns the first usable image URL attribute on sel. Placeholder
// data: URIs, the usual lazy-load stand-in, are skipped so the fallback
// attributes get their chance.
func imageAttr(sel *goquery.Selection) string {
	for _, attr := range lazyImageAttrs {
		raw, ok := sel.Attr(attr)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			continue
		}
		if attr == "data-srcset" {
			raw = firstSrcsetCandidate(raw)
			if raw == "" {
				continue
			}
		}
		return raw
	}
	return ""
}

// firstSrcsetCandidate pulls the URL of the first candidate out of a srcset
// value like "https://cdn/img-400.jpg 400w, https://cdn/img-800.jpg 800w".
func firstSrcsetCandidate(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// resolve turns href into an absolute http(s) URL against base, or nil when
// it cannot be used.
func resolve(base *url.URL, href string) *url.URL {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil
	}
	if abs.Host == "" {
		return nil
	}
	return abs
}
