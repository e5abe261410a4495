package crawler

import "sync"

type concurrentVisitTracker struct {
	seen sync.Map
}

// NewVisitTracker returns a tracker safe for use by every worker of a run.
// URLs are normalized before comparison.
func NewVisitTracker() VisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	key, err := NormalizeURL(url)
	if err != nil {
		key = url
	}
	_, loaded := t.seen.LoadOrStore(key, struct{}{})
	return !loaded
}
