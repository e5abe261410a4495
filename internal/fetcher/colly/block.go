package collyfetcher

import (
	"bytes"
	"net/http"
	"strings"
)

// DefaultBlockStatuses are response codes the sources use to refuse scrapers.
var DefaultBlockStatuses = []int{http.StatusForbidden, http.StatusTooManyRequests, 521}

// DefaultBlockKeywords appear on the captcha and throttle interstitials served
// with a 200 status.
var DefaultBlockKeywords = []string{"访问过于频繁", "安全验证", "请完成验证", "captcha"}

// defaultBlockMaxBytes bounds keyword scanning to small bodies; interstitials
// are tiny while real articles are not, and articles may quote the keywords.
const defaultBlockMaxBytes = 16 * 1024

// BlockDetector recognizes anti-scraping responses.
type BlockDetector struct {
	statuses map[int]struct{}
	keywords [][]byte
	maxBytes int
}

// NewBlockDetector builds a detector from block status codes and body keywords.
func NewBlockDetector(statuses []int, keywords []string) *BlockDetector {
	d := &BlockDetector{
		statuses: make(map[int]struct{}, len(statuses)),
		maxBytes: defaultBlockMaxBytes,
	}
	for _, code := range statuses {
		d.statuses[code] = struct{}{}
	}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		d.keywords = append(d.keywords, bytes.ToLower([]byte(kw)))
	}
	return d
}

// Blocked reports whether the response is a block signal.
func (d *BlockDetector) Blocked(status int, body []byte) bool {
	if d == nil {
		return false
	}
	if _, ok := d.statuses[status]; ok {
		return true
	}
	if len(d.keywords) == 0 || len(body) == 0 || len(body) > d.maxBytes {
		return false
	}
	lower := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return false
}
