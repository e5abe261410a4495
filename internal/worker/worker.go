// Package worker implements the per-unit harvesting loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// MaxRetries is the retry budget handed to every fetch.
	MaxRetries int
}

// Worker consumes listing units and runs fetch, extract and append for each
// detail page they reference.
type Worker struct {
	queue    crawler.Queue
	fetcher  crawler.Fetcher
	strategy crawler.Strategy
	sink     crawler.Sink
	visits   crawler.VisitTracker
	stats    *crawler.Stats
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. visits and stats may be shared by every worker of
// a run; nil values get private instances.
func New(
	queue crawler.Queue,
	fetcher crawler.Fetcher,
	strategy crawler.Strategy,
	sink crawler.Sink,
	visits crawler.VisitTracker,
	stats *crawler.Stats,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if visits == nil {
		visits = crawler.NewVisitTracker()
	}
	if stats == nil {
		stats = &crawler.Stats{}
	}
	return &Worker{
		queue:    queue,
		fetcher:  fetcher,
		strategy: strategy,
		sink:     sink,
		visits:   visits,
		stats:    stats,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run consumes units until the queue is drained or the context ends. It
// returns an error only when the output stream failed.
func (w *Worker) Run(ctx context.Context) error {
	source := string(w.strategy.Source())
	metrics.IncActiveWorkers(source)
	defer metrics.DecActiveWorkers(source)

	for {
		unit, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued listing", zap.String("url", unit.URL), zap.Int("seq", unit.Seq))
		if err := w.processUnit(ctx, unit); err != nil {
			return err
		}
	}
}

func (w *Worker) processUnit(ctx context.Context, unit crawler.ListingUnit) error {
	source := string(w.strategy.Source())

	listing, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: unit.URL, MaxRetries: w.cfg.MaxRetries})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.stats.ListingsDropped.Add(1)
		metrics.ObserveListing(source, "dropped")
		w.logger.Error("listing fetch failed, unit skipped",
			zap.String("url", unit.URL), zap.Int("seq", unit.Seq), zap.Error(err))
		return nil
	}

	entries, err := w.strategy.ExtractListing(listing)
	if err != nil {
		w.stats.ListingsDropped.Add(1)
		metrics.ObserveListing(source, "dropped")
		w.logger.Error("listing extraction failed, unit skipped",
			zap.String("url", unit.URL), zap.Int("seq", unit.Seq), zap.Error(err))
		return nil
	}
	w.stats.ListingsFetched.Add(1)
	if len(entries) == 0 {
		w.stats.ListingsEmpty.Add(1)
		metrics.ObserveListing(source, "empty")
		w.logger.Warn("listing yielded no articles, selectors may be stale",
			zap.String("url", unit.URL), zap.Int("seq", unit.Seq))
		return nil
	}
	metrics.ObserveListing(source, "ok")

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if !w.visits.MarkIfNew(entry.URL) {
			w.stats.Duplicates.Add(1)
			metrics.ObserveRecord(source, "duplicate")
			continue
		}
		if err := w.handleDetail(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// handleDetail returns an error only for output failures; everything else
// drops this record and is logged.
func (w *Worker) handleDetail(ctx context.Context, entry crawler.ListingEntry) error {
	source := string(w.strategy.Source())
	url := entry.URL

	doc, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, MaxRetries: w.cfg.MaxRetries})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.dropRecord(url, "detail fetch failed", err)
		return nil
	}

	article, err := w.extractDetail(doc, entry)
	if err != nil {
		w.dropRecord(url, "detail extraction failed", err)
		return nil
	}

	if err := w.sink.Append(ctx, article); err != nil {
		if errors.Is(err, crawler.ErrIOFailure) {
			w.logger.Error("output stream failed, stopping",
				zap.String("url", url), zap.Error(err))
			return fmt.Errorf("append %s: %w", url, err)
		}
		if ctx.Err() != nil {
			return nil
		}
		w.dropRecord(url, "append failed", err)
		return nil
	}
	w.stats.RecordsWritten.Add(1)
	metrics.ObserveRecord(source, "written")
	w.logger.Debug("record written", zap.String("url", url))
	return nil
}

func (w *Worker) extractDetail(doc *crawler.Document, entry crawler.ListingEntry) (article crawler.Article, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &crawler.ExtractionError{URL: entry.URL, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.strategy.ExtractDetail(doc, entry)
}

func (w *Worker) dropRecord(url, msg string, err error) {
	w.stats.RecordsDropped.Add(1)
	metrics.ObserveRecord(string(w.strategy.Source()), "dropped")
	fields := []zap.Field{zap.String("url", url), zap.Error(err)}
	var ee *crawler.ExtractionError
	if errors.As(err, &ee) && ee.Field != "" {
		fields = append(fields, zap.String("field", ee.Field))
	}
	w.logger.Error(msg, fields...)
}
