// Package crawler defines the shared vocabulary of the harvesting pipeline: the
// article record, fetched documents, the fetcher/strategy/sink contracts, the
// error taxonomy and the per-run bookkeeping used by workers.
package crawler
