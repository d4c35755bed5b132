// Package httpclient is the shared HTTP client the extractors fetch
// through: per-domain rate limiting plus retry with exponential backoff.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	http *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int

	retries int
	backoff time.Duration
}

func New(timeout time.Duration, perDomain rate.Limit, burst, retries int, backoff time.Duration) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		limiters: make(map[string]*rate.Limiter),
		limit:    perDomain,
		burst:    burst,
		retries:  retries,
		backoff:  backoff,
	}
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[host] = l
	}
	return l
}

// Get fetches a URL, waiting on that host's rate limiter first and
// retrying network errors and 5xx responses with doubling backoff. The
// caller owns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := c.limiterFor(u.Host).Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("GET %s failed after %d attempts: %w", rawURL, c.retries+1, lastErr)
}
