// Package memory provides the in-process listing queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Evian-Zhang/udiab/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.ListingUnit
	closeMu sync.RWMutex
	closed  bool
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawler.ListingUnit, max(capacity, 0)),
	}
}

// Enqueue pushes a unit into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, unit crawler.ListingUnit) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- unit:
		return nil
	}
}

// Dequeue pops the next unit. Once the queue is closed and drained it
// returns crawler.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.ListingUnit, error) {
	select {
	case <-ctx.Done():
		return crawler.ListingUnit{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case unit, ok := <-q.ch:
		if !ok {
			return crawler.ListingUnit{}, crawler.ErrQueueClosed
		}
		return unit, nil
	}
}

// Len reports the number of buffered units.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting units. Buffered units remain available to Dequeue.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
