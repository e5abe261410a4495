// Package collyfetcher implements crawler.Fetcher on top of gocolly with a
// fixed retry budget.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	// Source labels metrics and logs.
	Source    string
	UserAgent string
	// Headers are sent with every request on top of the user agent.
	Headers http.Header
	Timeout time.Duration
	// Proxy routes every request; nil means a direct connection.
	Proxy   colly.ProxyFunc
	Backoff Backoff
	Block   *BlockDetector
	// Limiter paces every attempt; nil means no pacing.
	Limiter Limiter
}

// Limiter blocks until a request to url may be sent.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	transport     *http.Transport
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ImmediateRetry{}
	}

	c := colly.NewCollector(colly.Async(false))
	// Retries hit the same URL again.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Status handling, including block detection, happens in Fetch.
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.Proxy != nil {
		c.SetProxyFunc(cfg.Proxy)
		// SetProxyFunc turns keep-alive off; the gateway connection is reused.
		transport.DisableKeepAlives = false
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		transport:     transport,
		logger:        logger,
	}, nil
}

// Fetch GETs request.URL, retrying immediately on any failure until
// request.MaxRetries retries are spent. It makes at most MaxRetries+1 attempts.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (*crawler.Document, error) {
	remaining := max(request.MaxRetries, 0)
	attempts := 0
	var lastErr error
	for {
		if f.cfg.Limiter != nil {
			if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", request.URL, err)
			}
		}
		attempts++
		start := time.Now()
		doc, err := f.attempt(ctx, request.URL)
		metrics.ObserveFetchAttempt(f.cfg.Source, outcomeOf(err), time.Since(start))
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", request.URL, ctxErr)
		}
		if remaining == 0 {
			break
		}
		remaining--
		f.logger.Warn("fetch attempt failed, retrying",
			zap.String("url", request.URL),
			zap.Int("attempt", attempts),
			zap.Int("retries_left", remaining),
			zap.Error(err),
		)
		if err := sleep(ctx, f.cfg.Backoff.Delay(attempts)); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
	}
	metrics.ObserveFetchExhausted(f.cfg.Source)
	return nil, &crawler.FetchExhaustedError{URL: request.URL, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url string) (*crawler.Document, error) {
	var (
		result   *colly.Response
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	configureCollectorHooks(collector, f.cfg.Headers, &result, &fetchErr)

	if err := runCollector(ctx, collector, url); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	if result == nil {
		return nil, errors.New("colly fetch produced no response")
	}
	if f.cfg.Block.Blocked(result.StatusCode, result.Body) {
		return nil, fmt.Errorf("%w: status %d", crawler.ErrBlocked, result.StatusCode)
	}
	if result.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %d", result.StatusCode)
	}

	headers := http.Header{}
	if result.Headers != nil {
		headers = result.Headers.Clone()
	}
	finalURL := url
	if result.Request != nil && result.Request.URL != nil {
		finalURL = result.Request.URL.String()
	}
	doc, err := crawler.NewDocument(finalURL, result.StatusCode, headers, append([]byte(nil), result.Body...))
	if err != nil {
		return nil, fmt.Errorf("unparseable response: %w", err)
	}
	return doc, nil
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func configureCollectorHooks(hooks collectorHooks, headers http.Header, result **colly.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})
	hooks.OnResponse(func(r *colly.Response) {
		*result = r
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil || r.Headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, crawler.ErrBlocked):
		return "blocked"
	default:
		return "error"
	}
}

// newHTTPTransport connects directly. HTTP(S)_PROXY from the environment is
// ignored so a disabled proxy really means a direct connection.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
