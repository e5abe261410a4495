package collyfetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/proxy"
)

const okPage = `<html><body><h1 id="title">hello</h1></body></html>`

// flakyServer fails the first fails requests with 503 and then serves okPage.
func flakyServer(t *testing.T, fails int64) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= fails {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(okPage))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	f, err := New(cfg, nil)
	require.NoError(t, err)
	return f
}

func TestFetchSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	for maxRetries := 0; maxRetries <= 3; maxRetries++ {
		for fails := 0; fails <= maxRetries; fails++ {
			t.Run(fmt.Sprintf("retries=%d/fails=%d", maxRetries, fails), func(t *testing.T) {
				t.Parallel()
				srv, hits := flakyServer(t, int64(fails))
				f := newTestFetcher(t, Config{Source: "test"})

				doc, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: maxRetries})
				require.NoError(t, err)
				require.NotNil(t, doc)
				assert.Equal(t, int64(fails+1), hits.Load())
				assert.Equal(t, "hello", doc.HTML.Find("#title").Text())
				assert.Equal(t, http.StatusOK, doc.StatusCode)
			})
		}
	}
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	for _, maxRetries := range []int{0, 1, 2, 5} {
		t.Run(fmt.Sprintf("retries=%d", maxRetries), func(t *testing.T) {
			t.Parallel()
			srv, hits := flakyServer(t, 1<<30)
			f := newTestFetcher(t, Config{Source: "test"})

			doc, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: maxRetries})
			require.Nil(t, doc)
			require.ErrorIs(t, err, crawler.ErrFetchExhausted)

			var exhausted *crawler.FetchExhaustedError
			require.ErrorAs(t, err, &exhausted)
			assert.Equal(t, maxRetries+1, exhausted.Attempts)
			assert.Equal(t, int64(maxRetries+1), hits.Load())
			assert.Contains(t, exhausted.Err.Error(), "503")
		})
	}
}

func TestFetchNegativeRetriesMeansSingleAttempt(t *testing.T) {
	t.Parallel()

	srv, hits := flakyServer(t, 1<<30)
	f := newTestFetcher(t, Config{})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: -3})
	require.ErrorIs(t, err, crawler.ErrFetchExhausted)
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetchTimeoutCountsAttempts(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f := newTestFetcher(t, Config{Timeout: 100 * time.Millisecond})
	doc, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: 2})
	require.Nil(t, doc)

	var exhausted *crawler.FetchExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	require.Eventually(t, func() bool { return hits.Load() == 3 }, time.Second, 10*time.Millisecond)
}

func TestFetchRetriesOnBlockSignals(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusForbidden)
		case 2:
			_, _ = w.Write([]byte("<html>访问过于频繁，请稍后再试</html>"))
		default:
			_, _ = w.Write([]byte(okPage))
		}
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, Config{Block: NewBlockDetector(DefaultBlockStatuses, DefaultBlockKeywords)})
	doc, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.HTML.Find("#title").Text())
	assert.Equal(t, int64(3), hits.Load())
}

func TestFetchReportsBlockAsLastError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, Config{Block: NewBlockDetector(DefaultBlockStatuses, nil)})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: 1})
	require.ErrorIs(t, err, crawler.ErrFetchExhausted)
	assert.ErrorIs(t, err, crawler.ErrBlocked)
}

func TestFetchSendsFixedHeaders(t *testing.T) {
	t.Parallel()

	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
		_, _ = w.Write([]byte(okPage))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, Config{
		UserAgent: "udiab-test/1.0",
		Headers: http.Header{
			"Accept":     {"text/html"},
			"Connection": {"keep-alive"},
			"Cookie":     {"session=abc"},
		},
	})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)

	h := <-got
	assert.Equal(t, "udiab-test/1.0", h.Get("User-Agent"))
	assert.Equal(t, "text/html", h.Get("Accept"))
	assert.Equal(t, "session=abc", h.Get("Cookie"))
}

func TestFetchRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	type seen struct {
		host string
		auth string
	}
	got := make(chan seen, 1)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{host: r.URL.Host, auth: r.Header.Get("Proxy-Authorization")}
		_, _ = w.Write([]byte(okPage))
	}))
	t.Cleanup(gateway.Close)

	gw, err := url.Parse(gateway.URL)
	require.NoError(t, err)
	port := gw.Port()
	var portNum int
	_, err = fmt.Sscanf(port, "%d", &portNum)
	require.NoError(t, err)

	provider := proxy.New(proxy.Credential{Host: gw.Hostname(), Port: portNum, User: "alice", Pass: "pw"})
	proxyFn, err := provider.ProxyFunc()
	require.NoError(t, err)

	f := newTestFetcher(t, Config{Proxy: proxyFn})
	doc, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://articles.example/p/1"})
	require.NoError(t, err)
	assert.Equal(t, "http://articles.example/p/1", doc.URL.String())

	s := <-got
	assert.Equal(t, "articles.example", s.host)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:pw")), s.auth)
}

func TestFetchReusesProxyConnection(t *testing.T) {
	t.Parallel()

	var conns atomic.Int64
	gateway := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "keep-alive", r.Header.Get("Connection"))
		_, _ = w.Write([]byte(okPage))
	}))
	gateway.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	gateway.Start()
	t.Cleanup(gateway.Close)

	gw, err := url.Parse(gateway.URL)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(gw.Port())
	require.NoError(t, err)
	proxyFn, err := proxy.New(proxy.Credential{Host: gw.Hostname(), Port: portNum}).ProxyFunc()
	require.NoError(t, err)

	f := newTestFetcher(t, Config{
		Proxy:   proxyFn,
		Headers: http.Header{"Connection": {"keep-alive"}},
	})
	require.False(t, f.transport.DisableKeepAlives)
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: fmt.Sprintf("http://articles.example/p/%d", i)})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), conns.Load())
}

func TestDirectFetcherIgnoresEnvironmentProxy(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{})
	assert.Nil(t, f.transport.Proxy)

	req, err := http.NewRequest(http.MethodGet, "https://www.cnblogs.com/", nil)
	require.NoError(t, err)
	proxyFn, err := proxy.New(proxy.Credential{Host: "gw", Port: 8080}).ProxyFunc()
	require.NoError(t, err)
	f = newTestFetcher(t, Config{Proxy: proxyFn})
	require.NotNil(t, f.transport.Proxy)
	got, err := f.transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "gw:8080", got.Host)
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	srv, hits := flakyServer(t, 1<<30)
	f := newTestFetcher(t, Config{Backoff: NewExponentialBackoff(time.Second, time.Second)})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL, MaxRetries: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, crawler.ErrFetchExhausted))
	assert.Less(t, hits.Load(), int64(11))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var result *colly.Response
	var fetchErr error
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, http.Header{"Cookie": {"a=b"}}, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "a=b", collyReq.Headers.Get("Cookie"))

	resp := &colly.Response{StatusCode: http.StatusOK}
	hooks.onResponse(resp)
	assert.Same(t, resp, result)

	hooks.onError(nil, nil)
	require.Error(t, fetchErr)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	collyReq := &colly.Request{Headers: &http.Header{}}
	copyHeaders(nil, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

type countingLimiter struct {
	calls atomic.Int64
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func TestFetchWaitsForLimiterBeforeEveryAttempt(t *testing.T) {
	t.Parallel()

	srv, hits := flakyServer(t, 2)
	limiter := &countingLimiter{}
	f := newTestFetcher(t, Config{Limiter: limiter})

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, int64(3), limiter.calls.Load())
}

func TestFetchLimiterErrorStopsFetch(t *testing.T) {
	t.Parallel()

	srv, hits := flakyServer(t, 0)
	f := newTestFetcher(t, Config{Limiter: &countingLimiter{err: context.Canceled}})

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: 5})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}
