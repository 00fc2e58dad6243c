package parse

import (
	"net"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during canonicalization. They
// vary per visitor and would otherwise split one product into many ids.
var trackingParams = map[string]bool{
	"gclid":  true,
	"fbclid": true,
	"igshid": true,
	"mc_cid": true,
	"mc_eid": true,
	"ref":    true,
	"ref_":   true,
}

// CanonicalURL standardizes a product URL for identity derivation and dedup.
// It lowercases the scheme and host, removes default ports (80 for http, 443
// for https), strips the fragment, drops tracking query parameters, sorts
// the remaining query parameters, and trims trailing slashes from paths
// (unless root "/"). Non-tracking query parameters are kept: on several
// sites the product identity lives in the query string.
// Does not modify the input *url.URL.
func CanonicalURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	canonical := *u

	canonical.Scheme = strings.ToLower(canonical.Scheme)
	canonical.Host = strings.ToLower(canonical.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(canonical.Host)
	if err == nil { // Host included a port
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Path normalization
	if canonical.Path == "" {
		canonical.Path = "/"
	} else if len(canonical.Path) > 1 && strings.HasSuffix(canonical.Path, "/") {
		canonical.Path = strings.TrimRight(canonical.Path, "/")
	}

	canonical.Fragment = ""

	// Drop tracking parameters; url.Values.Encode sorts keys, giving a
	// stable ordering regardless of how the link was written.
	if canonical.RawQuery != "" {
		values, parseErr := url.ParseQuery(canonical.RawQuery)
		if parseErr != nil {
			// Unparseable query: keep it verbatim rather than guessing.
			return canonical.String()
		}
		for key := range values {
			if trackingParams[key] || strings.HasPrefix(strings.ToLower(key), "utm_") {
				values.Del(key)
			}
		}
		canonical.RawQuery = values.Encode()
	}

	return canonical.String()
}

// ParseCanonical parses a URL string using the stricter url.ParseRequestURI
// (requiring a scheme) and canonicalizes it with CanonicalURL.
// Returns the canonical string, the parsed URL, and any parse error.
func ParseCanonical(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return CanonicalURL(parsed), parsed, nil
}
