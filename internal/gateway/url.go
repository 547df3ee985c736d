package gateway

import (
	"fmt"
	"net/url"
	"strings"
)

// IsAbsoluteWithHost reports whether raw parses as an absolute URL with a
// host component. Relative URLs and scheme-only URLs are rejected on both
// the submission and snapshot-write paths.
func IsAbsoluteWithHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// NormalizeURL standardizes a URL so that equivalent spellings map to one
// entry: scheme and host are lowercased, default ports and fragments are
// dropped, and query parameters are sorted.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch u.Scheme {
	case "http":
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case "https":
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}
