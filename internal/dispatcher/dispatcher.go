// Package dispatcher feeds listing units to a fixed pool of workers and
// waits for the pool to drain.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/worker"
)

// Queue is a crawler.Queue the producer can close once every unit is in.
type Queue interface {
	crawler.Queue
	Close()
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
}

// New creates a Dispatcher. The workers must consume from queue.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run enqueues every unit, closes the queue and blocks until all workers
// have observed the closed, empty queue. A worker error cancels the rest of
// the run and is returned.
func (d *Dispatcher) Run(ctx context.Context, units []crawler.ListingUnit) error {
	if len(d.workers) == 0 {
		d.queue.Close()
		return errors.New("dispatcher has no workers")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer d.queue.Close()
		for _, unit := range units {
			if err := d.Enqueue(gctx, unit); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		return nil
	})
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, unit crawler.ListingUnit) error {
	if err := d.queue.Enqueue(ctx, unit); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
