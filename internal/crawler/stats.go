package crawler

import "sync/atomic"

// Stats counts unit outcomes for one run. It is shared by all workers.
type Stats struct {
	ListingsFetched atomic.Int64
	ListingsDropped atomic.Int64
	ListingsEmpty   atomic.Int64
	RecordsWritten  atomic.Int64
	RecordsDropped  atomic.Int64
	Duplicates      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ListingsFetched int64
	ListingsDropped int64
	ListingsEmpty   int64
	RecordsWritten  int64
	RecordsDropped  int64
	Duplicates      int64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ListingsFetched: s.ListingsFetched.Load(),
		ListingsDropped: s.ListingsDropped.Load(),
		ListingsEmpty:   s.ListingsEmpty.Load(),
		RecordsWritten:  s.RecordsWritten.Load(),
		RecordsDropped:  s.RecordsDropped.Load(),
		Duplicates:      s.Duplicates.Load(),
	}
}
