package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query keys that only carry referral data and never
// change which article a URL points at.
var trackingParams = []string{"spm", "utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// NormalizeURL canonicalizes an article URL for within-run deduplication:
// lowercase scheme and host, no default port, no fragment, no tracking
// parameters and a stable query order.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	q := u.Query()
	for _, key := range trackingParams {
		q.Del(key)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
