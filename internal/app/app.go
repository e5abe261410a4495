// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the harvest commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Evian-Zhang/udiab/internal/api"
	"github.com/Evian-Zhang/udiab/internal/clock/system"
	"github.com/Evian-Zhang/udiab/internal/config"
	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/dispatcher"
	collyfetcher "github.com/Evian-Zhang/udiab/internal/fetcher/colly"
	"github.com/Evian-Zhang/udiab/internal/id/uuid"
	"github.com/Evian-Zhang/udiab/internal/logging"
	"github.com/Evian-Zhang/udiab/internal/metrics"
	"github.com/Evian-Zhang/udiab/internal/policy/ratelimit"
	"github.com/Evian-Zhang/udiab/internal/proxy"
	"github.com/Evian-Zhang/udiab/internal/queue/memory"
	"github.com/Evian-Zhang/udiab/internal/source"
	"github.com/Evian-Zhang/udiab/internal/storage/jsonl"
	"github.com/Evian-Zhang/udiab/internal/worker"
)

// App holds the shared, long-lived services of the process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	ids    uuid.Generator
	clock  crawler.Clock

	mu      sync.Mutex
	current *runState

	opsCancel context.CancelFunc
	opsDone   chan struct{}
}

type runState struct {
	id      string
	source  crawler.Source
	started time.Time
	running bool
	stats   *crawler.Stats
}

// Option customizes an App.
type Option func(*App)

// WithClock replaces the wall clock used for run timestamps.
func WithClock(c crawler.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// New builds the App and starts the ops endpoint when metrics.addr is set.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, ids: uuid.New(), clock: system.New()}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.Metrics.Addr != "" {
		opsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.opsCancel = cancel
		a.opsDone = make(chan struct{})
		srv := api.NewServer(a, logger.Named("ops"))
		go func() {
			defer close(a.opsDone)
			if err := srv.Serve(opsCtx, cfg.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops endpoint failed", zap.Error(err))
			}
		}()
	}
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Status implements api.StatusProvider for the most recent run.
func (a *App) Status() (api.RunStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return api.RunStatus{}, false
	}
	return api.RunStatus{
		RunID:     a.current.id,
		Source:    a.current.source,
		StartedAt: a.current.started,
		Running:   a.current.running,
		Stats:     a.current.stats.Snapshot(),
	}, true
}

// Harvest runs one full harvest of the named source and returns its counters.
// It fails only on setup errors, output stream failures and cancellation.
func (a *App) Harvest(ctx context.Context, name string) (crawler.StatsSnapshot, error) {
	def, err := source.Lookup(name)
	if err != nil {
		return crawler.StatsSnapshot{}, err
	}
	override := a.cfg.Source(string(def.Source))
	workers := def.Workers
	if override.Workers > 0 {
		workers = override.Workers
	}
	pages := def.Pages
	if override.Pages > 0 {
		pages = override.Pages
	}
	seeds := override.Seeds
	if len(seeds) == 0 {
		seeds = def.Seeds(pages)
	}

	runID := a.ids.MustNewID()
	logger := logging.ForRun(a.logger, string(def.Source), runID)

	fetcher, err := a.newFetcher(def, override.Cookie, logger)
	if err != nil {
		return crawler.StatsSnapshot{}, err
	}
	strategy, err := def.Strategy()
	if err != nil {
		return crawler.StatsSnapshot{}, fmt.Errorf("build %s rules: %w", def.Source, err)
	}
	sink, err := jsonl.Open(a.cfg.Output.Dir, def.Source, logger)
	if err != nil {
		return crawler.StatsSnapshot{}, fmt.Errorf("open output: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Error("close output failed", zap.String("path", sink.Path()), zap.Error(cerr))
		}
	}()

	stats := &crawler.Stats{}
	a.startRun(runID, def.Source, stats)
	defer a.finishRun()

	queue := memory.NewQueue(workers * 2)
	visits := crawler.NewVisitTracker()
	pool := make([]*worker.Worker, 0, workers)
	for i := 0; i < workers; i++ {
		pool = append(pool, worker.New(queue, fetcher, strategy, sink, visits, stats,
			worker.Config{MaxRetries: a.cfg.HTTP.MaxRetries},
			logger.With(zap.Int("worker", i))))
	}

	units := source.ListingUnits(seeds)
	logger.Info("harvest started",
		zap.Int("workers", workers),
		zap.Int("listings", len(units)),
		zap.Int("max_retries", a.cfg.HTTP.MaxRetries),
		zap.String("output", sink.Path()),
	)
	start := a.clock.Now()
	runErr := dispatcher.New(queue, pool).Run(ctx, units)
	snap := stats.Snapshot()
	fields := []zap.Field{
		zap.Duration("elapsed", a.clock.Now().Sub(start)),
		zap.Int64("listings_fetched", snap.ListingsFetched),
		zap.Int64("listings_dropped", snap.ListingsDropped),
		zap.Int64("listings_empty", snap.ListingsEmpty),
		zap.Int64("records_written", snap.RecordsWritten),
		zap.Int64("records_dropped", snap.RecordsDropped),
		zap.Int64("duplicates", snap.Duplicates),
	}
	if runErr != nil {
		logger.Error("harvest aborted", append(fields, zap.Error(runErr))...)
		return snap, fmt.Errorf("harvest %s: %w", def.Source, runErr)
	}
	logger.Info("harvest finished", fields...)
	return snap, nil
}

func (a *App) newFetcher(def source.Definition, cookie string, logger *zap.Logger) (*collyfetcher.Fetcher, error) {
	headers := def.Headers(cookie)
	userAgent := a.cfg.HTTP.UserAgent
	if userAgent == "" {
		userAgent = headers.Get("User-Agent")
	}
	headers.Del("User-Agent")

	cfg := collyfetcher.Config{
		Source:    string(def.Source),
		UserAgent: userAgent,
		Headers:   headers,
		Timeout:   a.cfg.Timeout(),
		Block:     a.blockDetector(),
	}
	if a.cfg.HTTP.RatePerSecond > 0 {
		cfg.Limiter = ratelimit.New(ratelimit.Config{RPS: a.cfg.HTTP.RatePerSecond, Burst: a.cfg.HTTP.Burst})
	}
	if a.cfg.BackoffInitial() > 0 {
		cfg.Backoff = collyfetcher.NewExponentialBackoff(a.cfg.BackoffInitial(), a.cfg.BackoffMax())
	}
	if a.cfg.Proxy.Enabled {
		p := proxy.New(proxy.Credential{
			Scheme: a.cfg.Proxy.Scheme,
			Host:   a.cfg.Proxy.Host,
			Port:   a.cfg.Proxy.Port,
			User:   a.cfg.Proxy.User,
			Pass:   a.cfg.Proxy.Pass,
		})
		pf, err := p.ProxyFunc()
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}
		cfg.Proxy = pf
		if a.cfg.Proxy.User == "" || a.cfg.Proxy.Pass == "" {
			logger.Warn("proxy credentials incomplete, gateway may reject requests", zap.Stringer("proxy", p))
		} else {
			logger.Info("routing through proxy", zap.Stringer("proxy", p))
		}
	}
	f, err := collyfetcher.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	return f, nil
}

func (a *App) blockDetector() *collyfetcher.BlockDetector {
	statuses := a.cfg.Block.Statuses
	if len(statuses) == 0 {
		statuses = collyfetcher.DefaultBlockStatuses
	}
	keywords := a.cfg.Block.Keywords
	if len(keywords) == 0 {
		keywords = collyfetcher.DefaultBlockKeywords
	}
	return collyfetcher.NewBlockDetector(statuses, keywords)
}

func (a *App) startRun(id string, src crawler.Source, stats *crawler.Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = &runState{id: id, source: src, started: a.clock.Now(), running: true, stats: stats}
}

func (a *App) finishRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.current.running = false
	}
}

// Close stops the ops endpoint and flushes the logger.
func (a *App) Close() {
	if a.opsCancel != nil {
		a.opsCancel()
		<-a.opsDone
	}
	// Sync fails on stderr/stdout for some platforms; nothing useful to do then.
	_ = a.logger.Sync()
}
