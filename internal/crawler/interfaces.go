package crawler

import (
	"context"
	"time"
)

// Fetcher performs a GET with a bounded retry budget and returns a parsed document.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (*Document, error)
}

// Strategy extracts structured fields from one source's listing and detail pages.
type Strategy interface {
	Source() Source
	ExtractListing(doc *Document) ([]ListingEntry, error)
	ExtractDetail(doc *Document, entry ListingEntry) (Article, error)
}

// Sink appends records to a durable output stream.
type Sink interface {
	Append(ctx context.Context, article Article) error
}

// Queue provides enqueue/dequeue semantics for listing units.
type Queue interface {
	Enqueue(ctx context.Context, unit ListingUnit) error
	Dequeue(ctx context.Context) (ListingUnit, error)
}

// VisitTracker reports whether a URL is seen for the first time in this run.
type VisitTracker interface {
	MarkIfNew(url string) bool
}

// Clock supplies the current time for run bookkeeping.
type Clock interface {
	Now() time.Time
}
