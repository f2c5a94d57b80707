// Package esi is a read-only client for the game's ESI API.
//
// Requests go through a shared rate limiter, are retried with backoff on
// transient failures, and unauthenticated GETs are memoized until the
// response's Expires header so immutable data is not fetched twice.
package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/raphaelgruber/esisync/internal/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the production ESI endpoint.
	DefaultBaseURL = "https://esi.evetech.net/latest"

	// errorLimitFloor pauses requests when fewer errors than this remain in the window.
	errorLimitFloor = 10
)

// Config holds client settings. Zero values take defaults.
type Config struct {
	BaseURL        string
	UserAgent      string
	RateLimit      float64 // requests per second
	Burst          int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	HTTPClient     *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = "esisync"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// memoEntry is a cached response body.
type memoEntry struct {
	body   []byte
	header http.Header
}

// Client talks to ESI.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	memo    *cache.Cache
	log     *slog.Logger
	metrics *metrics.Collector

	errMu       sync.Mutex
	errRemain   int
	errResetAt  time.Time
	errObserved bool
}

// New creates an ESI client. log and m may be nil.
func New(cfg Config, log *slog.Logger, m *metrics.Collector) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		memo:    cache.New(5*time.Minute, 10*time.Minute),
		log:     log.With("component", "esi"),
		metrics: m,
	}
}

// getJSON performs a GET and decodes the JSON body into out.
// ts authenticates the request when non-nil.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, ts oauth2.TokenSource, out any) (http.Header, error) {
	body, header, err := c.get(ctx, path, query, ts)
	if err != nil {
		return header, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return header, fmt.Errorf("decode %s: %w", path, err)
	}
	return header, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, ts oauth2.TokenSource) ([]byte, http.Header, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	memoize := ts == nil
	if memoize {
		if v, ok := c.memo.Get(u); ok {
			e := v.(memoEntry)
			return e.body, e.header, nil
		}
	}

	body, header, err := c.doWithRetry(ctx, http.MethodGet, u, ts)
	if err != nil {
		return nil, header, err
	}

	if memoize {
		if ttl := expiresIn(header); ttl > 0 {
			c.memo.Set(u, memoEntry{body: body, header: header}, ttl)
		}
	}
	return body, header, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, u string, ts oauth2.TokenSource) ([]byte, http.Header, error) {
	backoff := c.cfg.InitialBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		if err := c.waitErrorLimit(ctx); err != nil {
			return nil, nil, err
		}

		start := time.Now()
		body, header, err := c.doOnce(ctx, method, u, ts)
		c.metrics.Time(metrics.OpESIRequest, start, err)
		if err == nil {
			return body, header, nil
		}

		if !IsRetryableError(err) || attempt == c.cfg.MaxRetries {
			return nil, header, err
		}

		sleepFor := jitter(retryAfter(header, backoff, c.cfg.MaxBackoff))
		c.log.Warn("ESI request retrying",
			"url", u,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := sleepCtx(ctx, sleepFor); err != nil {
			return nil, header, err
		}
		backoff *= 2
	}

	return nil, nil, fmt.Errorf("unreachable retry loop")
}

func (c *Client) doOnce(ctx context.Context, method, u string, ts oauth2.TokenSource) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	if ts != nil {
		tok, err := ts.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	c.observeErrorLimit(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.Header, ErrNoContent
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        u,
			Body:       string(body),
		}
	}
	return body, resp.Header, nil
}

// observeErrorLimit records ESI's error budget headers.
func (c *Client) observeErrorLimit(h http.Header) {
	remain, err := strconv.Atoi(h.Get("X-Esi-Error-Limit-Remain"))
	if err != nil {
		return
	}
	reset, err := strconv.Atoi(h.Get("X-Esi-Error-Limit-Reset"))
	if err != nil {
		return
	}

	c.errMu.Lock()
	c.errRemain = remain
	c.errResetAt = time.Now().Add(time.Duration(reset) * time.Second)
	c.errObserved = true
	c.errMu.Unlock()
}

// waitErrorLimit blocks until the error window resets when the budget is nearly spent.
func (c *Client) waitErrorLimit(ctx context.Context) error {
	c.errMu.Lock()
	low := c.errObserved && c.errRemain < errorLimitFloor
	wait := time.Until(c.errResetAt)
	c.errMu.Unlock()

	if !low || wait <= 0 {
		return nil
	}
	c.log.Warn("ESI error limit low, pausing", "wait", wait.String())
	if err := sleepCtx(ctx, wait); err != nil {
		return err
	}

	c.errMu.Lock()
	c.errObserved = false
	c.errMu.Unlock()
	return nil
}

// expiresIn returns how long a response may be reused.
func expiresIn(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	exp := h.Get("Expires")
	if exp == "" {
		return 0
	}
	t, err := http.ParseTime(exp)
	if err != nil {
		return 0
	}
	return time.Until(t)
}

// pageQuery builds the page query parameter.
func pageQuery(page int) url.Values {
	if page <= 1 {
		page = 1
	}
	return url.Values{"page": []string{strconv.Itoa(page)}}
}

// isNoData reports whether err means "nothing to return" rather than failure.
func isNoData(err error) bool {
	return errors.Is(err, ErrNoContent) || errors.Is(err, ErrNotFound)
}
